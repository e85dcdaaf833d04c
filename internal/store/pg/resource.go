package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voyagehub.org/internal/authz"
)

var _ authz.ResourceStore = (*Store)(nil)

// Describe loads one record from the namespace's resources table. Every
// tenant schema carries the same two tables: resources for the chain fields
// and resource_participants for the participant list.
func (s *Store) Describe(ctx context.Context, namespace string, ref authz.ResourceRef) (authz.Record, error) {
	resources, err := qualify(namespace, "resources")
	if err != nil {
		return authz.Record{}, err
	}
	participants, err := qualify(namespace, "resource_participants")
	if err != nil {
		return authz.Record{}, err
	}

	rec := authz.Record{Ref: ref}
	var (
		ownerID    sql.NullString
		orgID      sql.NullString
		parentType sql.NullString
		parentID   sql.NullString
	)
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select owner_id, organization_id, parent_type, parent_id, public
		from %s
		where resource_type = $1 and resource_id = $2
	`, resources), ref.Type, ref.ID).Scan(&ownerID, &orgID, &parentType, &parentID, &rec.Public)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Record{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Record{}, err
	}
	if ownerID.Valid {
		rec.OwnerID = ownerID.String
	}
	if orgID.Valid {
		rec.OrganizationID = orgID.String
	}
	if parentType.Valid && parentID.Valid {
		rec.Parent = &authz.ResourceRef{Type: authz.ResourceType(parentType.String), ID: parentID.String}
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select principal_id from %s
		where resource_type = $1 and resource_id = $2
		order by principal_id
	`, participants), ref.Type, ref.ID)
	if err != nil {
		return authz.Record{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return authz.Record{}, err
		}
		rec.ParticipantIDs = append(rec.ParticipantIDs, pid)
	}
	if err := rows.Err(); err != nil {
		return authz.Record{}, err
	}
	return rec, nil
}

// PutRecord inserts or replaces a record in the namespace, participant list
// included.
func (s *Store) PutRecord(ctx context.Context, namespace string, rec authz.Record) error {
	resources, err := qualify(namespace, "resources")
	if err != nil {
		return err
	}
	participants, err := qualify(namespace, "resource_participants")
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var parentType, parentID sql.NullString
	if rec.Parent != nil {
		parentType = nullIfEmpty(string(rec.Parent.Type))
		parentID = nullIfEmpty(rec.Parent.ID)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		insert into %s (resource_type, resource_id, owner_id, organization_id, parent_type, parent_id, public)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (resource_type, resource_id) do update
		set owner_id = excluded.owner_id,
		    organization_id = excluded.organization_id,
		    parent_type = excluded.parent_type,
		    parent_id = excluded.parent_id,
		    public = excluded.public
	`, resources), rec.Ref.Type, rec.Ref.ID, nullIfEmpty(rec.OwnerID), nullIfEmpty(rec.OrganizationID), parentType, parentID, rec.Public); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		delete from %s where resource_type = $1 and resource_id = $2
	`, participants), rec.Ref.Type, rec.Ref.ID); err != nil {
		return err
	}
	for _, pid := range rec.ParticipantIDs {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			insert into %s (resource_type, resource_id, principal_id)
			values ($1, $2, $3)
		`, participants), rec.Ref.Type, rec.Ref.ID, pid); err != nil {
			return err
		}
	}
	return tx.Commit()
}
