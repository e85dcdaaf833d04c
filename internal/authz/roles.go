package authz

import (
	"context"
	"errors"
	"strings"
)

// RoleResolver turns a principal identifier into a RoleSnapshot. It reads
// only identity and membership state, never resource content, and never
// fails for a merely unknown principal: absence of a grant is itself
// meaningful (deny-by-default).
type RoleResolver struct {
	dir DirectoryStore
}

func NewRoleResolver(dir DirectoryStore) *RoleResolver {
	return &RoleResolver{dir: dir}
}

// Resolve returns a point-in-time snapshot of the principal's privileges.
// Callers must not assume it refreshes within a single decision sequence.
func (r *RoleResolver) Resolve(ctx context.Context, principalID string) (RoleSnapshot, error) {
	snap := RoleSnapshot{
		PrincipalID: principalID,
		OrgRoles:    map[string]Role{},
		AppGrants:   map[string]AppAccessGrant{},
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return snap, nil
	}

	principal, err := r.dir.Principal(ctx, principalID)
	if errors.Is(err, ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return RoleSnapshot{}, err
	}
	if !principal.Active {
		// Deactivated principals keep their rows but lose every privilege.
		return snap, nil
	}
	snap.Known = true
	snap.SystemAdmin = principal.SystemAdmin

	memberships, err := r.dir.MembershipsForPrincipal(ctx, principalID)
	if err != nil {
		return RoleSnapshot{}, err
	}
	for _, m := range memberships {
		snap.OrgRoles[m.OrganizationID] = m.Role
	}

	grants, err := r.dir.GrantsForPrincipal(ctx, principalID)
	if err != nil {
		return RoleSnapshot{}, err
	}
	for _, g := range grants {
		snap.AppGrants[g.AppExternalID] = g
	}
	return snap, nil
}

// IsSystemAdmin reports whether the principal holds the global super-role.
func (r *RoleResolver) IsSystemAdmin(ctx context.Context, principalID string) (bool, error) {
	snap, err := r.Resolve(ctx, principalID)
	if err != nil {
		return false, err
	}
	return snap.SystemAdmin, nil
}
