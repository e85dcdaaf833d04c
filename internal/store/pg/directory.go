package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voyagehub.org/internal/authz"
	"voyagehub.org/internal/ids"
)

var (
	_ authz.DirectoryStore = (*Store)(nil)
	_ authz.DirectoryAdmin = (*Store)(nil)
)

func (s *Store) Principal(ctx context.Context, id string) (authz.Principal, error) {
	var p authz.Principal
	err := s.db.QueryRowContext(ctx, `
		select id, email, system_admin, active, created_at, updated_at
		from platform.principals
		where id = $1
	`, id).Scan(&p.ID, &p.Email, &p.SystemAdmin, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Principal{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Principal{}, err
	}
	return p, nil
}

func (s *Store) MembershipsForPrincipal(ctx context.Context, principalID string) ([]authz.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select principal_id, organization_id, role, created_at
		from platform.memberships
		where principal_id = $1
		order by organization_id
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []authz.Membership
	for rows.Next() {
		var m authz.Membership
		if err := rows.Scan(&m.PrincipalID, &m.OrganizationID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memberships, nil
}

func (s *Store) GrantsForPrincipal(ctx context.Context, principalID string) ([]authz.AppAccessGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select principal_id, app_external_id, role, status, created_at, updated_at
		from platform.app_access_grants
		where principal_id = $1
		order by app_external_id
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []authz.AppAccessGrant
	for rows.Next() {
		var g authz.AppAccessGrant
		if err := rows.Scan(&g.PrincipalID, &g.AppExternalID, &g.Role, &g.Status, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

// PrincipalByEmail loads a principal including the password hash, for the
// login path only.
func (s *Store) PrincipalByEmail(ctx context.Context, email string) (authz.Principal, error) {
	var p authz.Principal
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, system_admin, active, created_at, updated_at
		from platform.principals
		where email = $1
	`, email).Scan(&p.ID, &p.Email, &p.PasswordHash, &p.SystemAdmin, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Principal{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Principal{}, err
	}
	return p, nil
}

func (s *Store) CreatePrincipal(ctx context.Context, email, passwordHash string, systemAdmin bool) (authz.Principal, error) {
	var p authz.Principal
	row := s.db.QueryRowContext(ctx, `
		insert into platform.principals (id, email, password_hash, system_admin, active)
		values ($1, $2, $3, $4, true)
		returning id, email, system_admin, active, created_at, updated_at
	`, ids.New(), email, passwordHash, systemAdmin)
	if err := row.Scan(&p.ID, &p.Email, &p.SystemAdmin, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.Principal{}, fmt.Errorf("%w: email %s", authz.ErrInvalidInput, email)
		}
		return authz.Principal{}, err
	}
	return p, nil
}

// DeactivatePrincipal flips the active flag off. Deactivation is the normal
// offboarding path; rows survive until account erasure asks for them.
func (s *Store) DeactivatePrincipal(ctx context.Context, principalID string) error {
	res, err := s.db.ExecContext(ctx, `
		update platform.principals set active = false, updated_at = now()
		where id = $1
	`, principalID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) CreateOrganization(ctx context.Context, name string) (authz.Organization, error) {
	var org authz.Organization
	row := s.db.QueryRowContext(ctx, `
		insert into platform.organizations (id, name, active)
		values ($1, $2, true)
		returning id, name, active, created_at, updated_at
	`, ids.New(), name)
	if err := row.Scan(&org.ID, &org.Name, &org.Active, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.Organization{}, fmt.Errorf("%w: organization %s", authz.ErrInvalidInput, name)
		}
		return authz.Organization{}, err
	}
	return org, nil
}

// UpsertMembership sets the principal's single role within the organization.
func (s *Store) UpsertMembership(ctx context.Context, m authz.Membership) error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: role %q", authz.ErrInvalidInput, m.Role)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into platform.memberships (principal_id, organization_id, role)
		values ($1, $2, $3)
		on conflict (principal_id, organization_id) do update set role = excluded.role
	`, m.PrincipalID, m.OrganizationID, m.Role)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return authz.ErrNotFound
	}
	return err
}

func (s *Store) UpsertGrant(ctx context.Context, g authz.AppAccessGrant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into platform.app_access_grants (principal_id, app_external_id, role, status)
		values ($1, $2, $3, $4)
		on conflict (principal_id, app_external_id) do update
		set role = excluded.role, status = excluded.status, updated_at = now()
	`, g.PrincipalID, g.AppExternalID, g.Role, g.Status)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return authz.ErrNotFound
	}
	return err
}

// DeleteGrantsForPrincipal removes every grant for the principal, returning
// the count. Used by account erasure after all namespaces are clean.
func (s *Store) DeleteGrantsForPrincipal(ctx context.Context, principalID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from platform.app_access_grants where principal_id = $1
	`, principalID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteMembershipsForPrincipal removes every organization membership of the
// principal, returning the count. Used by account erasure.
func (s *Store) DeleteMembershipsForPrincipal(ctx context.Context, principalID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from platform.memberships where principal_id = $1
	`, principalID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CreateInvitation(ctx context.Context, inv authz.Invitation) (authz.Invitation, error) {
	if !inv.Role.Valid() {
		return authz.Invitation{}, fmt.Errorf("%w: role %q", authz.ErrInvalidInput, inv.Role)
	}
	inv.ID = ids.New()
	row := s.db.QueryRowContext(ctx, `
		insert into platform.invitations (id, organization_id, role, email, token_hash, expires_at)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, inv.ID, inv.OrganizationID, inv.Role, inv.Email, inv.TokenHash, inv.ExpiresAt)
	if err := row.Scan(&inv.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return authz.Invitation{}, authz.ErrNotFound
		}
		return authz.Invitation{}, err
	}
	return inv, nil
}

// ConsumeInvitation accepts an invitation exactly once, creating the
// membership it scoped. The accepted_at guard makes replays fail.
func (s *Store) ConsumeInvitation(ctx context.Context, tokenHash, principalID string) (authz.Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.Membership{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		invID   string
		orgID   string
		role    authz.Role
		expires time.Time
	)
	err = tx.QueryRowContext(ctx, `
		select id, organization_id, role, expires_at
		from platform.invitations
		where token_hash = $1 and accepted_at is null
		for update
	`, tokenHash).Scan(&invID, &orgID, &role, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Membership{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Membership{}, err
	}
	if !expires.After(time.Now().UTC()) {
		return authz.Membership{}, fmt.Errorf("%w: invitation expired", authz.ErrInvalidInput)
	}

	if _, err := tx.ExecContext(ctx, `
		update platform.invitations set accepted_at = now() where id = $1
	`, invID); err != nil {
		return authz.Membership{}, err
	}

	var m authz.Membership
	err = tx.QueryRowContext(ctx, `
		insert into platform.memberships (principal_id, organization_id, role)
		values ($1, $2, $3)
		on conflict (principal_id, organization_id) do update set role = excluded.role
		returning principal_id, organization_id, role, created_at
	`, principalID, orgID, role).Scan(&m.PrincipalID, &m.OrganizationID, &m.Role, &m.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return authz.Membership{}, authz.ErrNotFound
		}
		return authz.Membership{}, err
	}

	if err := tx.Commit(); err != nil {
		return authz.Membership{}, err
	}
	return m, nil
}
