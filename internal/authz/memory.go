package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voyagehub.org/internal/ids"
)

// InMemoryDirectory implements DirectoryStore and DirectoryAdmin with
// in-process concurrency safety. Used by tests and for running the API
// without a database.
type InMemoryDirectory struct {
	mu          sync.RWMutex
	principals  map[string]Principal
	memberships map[string][]Membership
	grants      map[string][]AppAccessGrant
	orgs        map[string]Organization
	invitations map[string]Invitation
}

var (
	_ DirectoryStore = (*InMemoryDirectory)(nil)
	_ DirectoryAdmin = (*InMemoryDirectory)(nil)
)

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		principals:  make(map[string]Principal),
		memberships: make(map[string][]Membership),
		grants:      make(map[string][]AppAccessGrant),
		orgs:        make(map[string]Organization),
		invitations: make(map[string]Invitation),
	}
}

func (d *InMemoryDirectory) PutPrincipal(p Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.principals[p.ID] = p
}

func (d *InMemoryDirectory) PutMembership(m Membership) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.memberships[m.PrincipalID]
	for i, existing := range list {
		if existing.OrganizationID == m.OrganizationID {
			list[i] = m
			return
		}
	}
	d.memberships[m.PrincipalID] = append(list, m)
}

func (d *InMemoryDirectory) PutGrant(g AppAccessGrant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.grants[g.PrincipalID]
	for i, existing := range list {
		if existing.AppExternalID == g.AppExternalID {
			list[i] = g
			return
		}
	}
	d.grants[g.PrincipalID] = append(list, g)
}

func (d *InMemoryDirectory) CreatePrincipal(ctx context.Context, email, passwordHash string, systemAdmin bool) (Principal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.principals {
		if existing.Email == email {
			return Principal{}, fmt.Errorf("%w: email %s", ErrInvalidInput, email)
		}
	}
	now := time.Now().UTC()
	p := Principal{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: passwordHash,
		SystemAdmin:  systemAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	d.principals[p.ID] = p
	return p, nil
}

func (d *InMemoryDirectory) PrincipalByEmail(ctx context.Context, email string) (Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.principals {
		if p.Email == email {
			return p, nil
		}
	}
	return Principal{}, ErrNotFound
}

func (d *InMemoryDirectory) DeactivatePrincipal(ctx context.Context, principalID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.principals[principalID]
	if !ok {
		return ErrNotFound
	}
	p.Active = false
	p.UpdatedAt = time.Now().UTC()
	d.principals[principalID] = p
	return nil
}

func (d *InMemoryDirectory) CreateOrganization(ctx context.Context, name string) (Organization, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.orgs {
		if existing.Name == name {
			return Organization{}, fmt.Errorf("%w: organization %s", ErrInvalidInput, name)
		}
	}
	now := time.Now().UTC()
	org := Organization{ID: ids.New(), Name: name, Active: true, CreatedAt: now, UpdatedAt: now}
	d.orgs[org.ID] = org
	return org, nil
}

func (d *InMemoryDirectory) UpsertMembership(ctx context.Context, m Membership) error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidInput, m.Role)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	d.PutMembership(m)
	return nil
}

func (d *InMemoryDirectory) UpsertGrant(ctx context.Context, g AppAccessGrant) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	g.UpdatedAt = time.Now().UTC()
	d.PutGrant(g)
	return nil
}

func (d *InMemoryDirectory) CreateInvitation(ctx context.Context, inv Invitation) (Invitation, error) {
	if !inv.Role.Valid() {
		return Invitation{}, fmt.Errorf("%w: role %q", ErrInvalidInput, inv.Role)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	inv.ID = ids.New()
	inv.CreatedAt = time.Now().UTC()
	d.invitations[inv.TokenHash] = inv
	return inv, nil
}

func (d *InMemoryDirectory) ConsumeInvitation(ctx context.Context, tokenHash, principalID string) (Membership, error) {
	d.mu.Lock()
	inv, ok := d.invitations[tokenHash]
	if !ok || inv.AcceptedAt != nil {
		d.mu.Unlock()
		return Membership{}, ErrNotFound
	}
	now := time.Now().UTC()
	if !inv.ExpiresAt.After(now) {
		d.mu.Unlock()
		return Membership{}, fmt.Errorf("%w: invitation expired", ErrInvalidInput)
	}
	inv.AcceptedAt = &now
	d.invitations[tokenHash] = inv
	d.mu.Unlock()

	m := Membership{
		PrincipalID:    principalID,
		OrganizationID: inv.OrganizationID,
		Role:           inv.Role,
		CreatedAt:      now,
	}
	d.PutMembership(m)
	return m, nil
}

func (d *InMemoryDirectory) Principal(ctx context.Context, id string) (Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.principals[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (d *InMemoryDirectory) MembershipsForPrincipal(ctx context.Context, principalID string) ([]Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	list := d.memberships[principalID]
	out := make([]Membership, len(list))
	copy(out, list)
	return out, nil
}

func (d *InMemoryDirectory) GrantsForPrincipal(ctx context.Context, principalID string) ([]AppAccessGrant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	list := d.grants[principalID]
	out := make([]AppAccessGrant, len(list))
	copy(out, list)
	return out, nil
}

// DeleteGrantsForPrincipal removes every grant for the principal and returns
// how many were deleted. Deleting an already-clean principal is a no-op.
func (d *InMemoryDirectory) DeleteGrantsForPrincipal(ctx context.Context, principalID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := int64(len(d.grants[principalID]))
	delete(d.grants, principalID)
	return n, nil
}

// DeleteMembershipsForPrincipal removes every membership of the principal and
// returns how many were deleted.
func (d *InMemoryDirectory) DeleteMembershipsForPrincipal(ctx context.Context, principalID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := int64(len(d.memberships[principalID]))
	delete(d.memberships, principalID)
	return n, nil
}

// InMemoryResources implements ResourceStore over namespaced record maps.
type InMemoryResources struct {
	mu         sync.RWMutex
	namespaces map[string]map[ResourceRef]Record
}

var _ ResourceStore = (*InMemoryResources)(nil)

func NewInMemoryResources() *InMemoryResources {
	return &InMemoryResources{namespaces: make(map[string]map[ResourceRef]Record)}
}

func (s *InMemoryResources) Put(namespace string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[ResourceRef]Record)
		s.namespaces[namespace] = ns
	}
	ns[rec.Ref] = rec
}

func (s *InMemoryResources) Delete(namespace string, ref ResourceRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.namespaces[namespace]; ok {
		delete(ns, ref)
	}
}

func (s *InMemoryResources) Describe(ctx context.Context, namespace string, ref ResourceRef) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return Record{}, fmt.Errorf("%w: namespace %s", ErrNotFound, namespace)
	}
	rec, ok := ns[ref]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// PurgePrincipal deletes every record in the namespace owned by the
// principal or listing them as a participant. Idempotent: purging an
// already-clean namespace deletes nothing.
func (s *InMemoryResources) PurgePrincipal(ctx context.Context, namespace, principalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return 0, nil
	}
	var deleted int64
	for ref, rec := range ns {
		if recordBelongsTo(rec, principalID) {
			delete(ns, ref)
			deleted++
		}
	}
	return deleted, nil
}

// CountByCategory tallies records keyed by the principal, grouped by
// resource type, with a coarse size estimate.
func (s *InMemoryResources) CountByCategory(ctx context.Context, namespace, principalID string) (map[string]int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	var bytes int64
	for _, rec := range s.namespaces[namespace] {
		if recordBelongsTo(rec, principalID) {
			counts[string(rec.Ref.Type)]++
			bytes += 2048
		}
	}
	return counts, bytes, nil
}

func recordBelongsTo(rec Record, principalID string) bool {
	if principalID == "" {
		return false
	}
	if rec.OwnerID == principalID {
		return true
	}
	for _, p := range rec.ParticipantIDs {
		if p == principalID {
			return true
		}
	}
	return false
}
