package pg

import (
	"context"
	"fmt"
)

// Estimate used when sizing an extraction; the resources table holds chain
// metadata only, the payload lives with the owning application.
const estimatedRecordBytes = 2048

// CountByCategory tallies the principal's records in one namespace, grouped
// by resource type.
func (s *Store) CountByCategory(ctx context.Context, namespace, principalID string) (map[string]int64, int64, error) {
	resources, err := qualify(namespace, "resources")
	if err != nil {
		return nil, 0, err
	}
	participants, err := qualify(namespace, "resource_participants")
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select r.resource_type, count(*)
		from %s r
		where r.owner_id = $1
		   or exists (
			select 1 from %s p
			where p.resource_type = r.resource_type
			  and p.resource_id = r.resource_id
			  and p.principal_id = $1
		   )
		group by r.resource_type
	`, resources, participants), principalID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	var total int64
	for rows.Next() {
		var (
			typ string
			n   int64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, 0, err
		}
		counts[typ] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return counts, total * estimatedRecordBytes, nil
}

// PurgePrincipal deletes the principal's records from one namespace.
// Idempotent; purging an already-clean namespace deletes nothing.
func (s *Store) PurgePrincipal(ctx context.Context, namespace, principalID string) (int64, error) {
	resources, err := qualify(namespace, "resources")
	if err != nil {
		return 0, err
	}
	participants, err := qualify(namespace, "resource_participants")
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		delete from %s r
		where r.owner_id = $1
		   or exists (
			select 1 from %s p
			where p.resource_type = r.resource_type
			  and p.resource_id = r.resource_id
			  and p.principal_id = $1
		   )
	`, resources, participants), principalID)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	// Participant rows referencing deleted resources, plus the principal's
	// own participant entries on surviving resources.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		delete from %s p
		where p.principal_id = $1
		   or not exists (
			select 1 from %s r
			where r.resource_type = p.resource_type
			  and r.resource_id = p.resource_id
		   )
	`, participants, resources), principalID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}
