package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voyagehub.org/internal/tenant"
)

var _ tenant.Store = (*Store)(nil)

func (s *Store) Application(ctx context.Context, externalID string) (tenant.Application, error) {
	var (
		app     tenant.Application
		retired sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, external_id, display_name, namespace, retired, created_at, retired_at
		from platform.applications
		where external_id = $1
	`, externalID).Scan(&app.ID, &app.ExternalID, &app.DisplayName, &app.Namespace, &app.Retired, &app.CreatedAt, &retired)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Application{}, fmt.Errorf("%w: %s", tenant.ErrNotFound, externalID)
	}
	if err != nil {
		return tenant.Application{}, err
	}
	if retired.Valid {
		app.RetiredAt = retired.Time
	}
	return app, nil
}

func (s *Store) Insert(ctx context.Context, app tenant.Application) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into platform.applications (id, external_id, display_name, namespace, retired, created_at)
		values ($1, $2, $3, $4, false, $5)
	`, app.ID, app.ExternalID, app.DisplayName, app.Namespace, app.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			if pgErr.ConstraintName == "applications_namespace_key" {
				return fmt.Errorf("%w: %s", tenant.ErrNamespaceTaken, app.Namespace)
			}
			return fmt.Errorf("%w: %s", tenant.ErrAlreadyExists, app.ExternalID)
		}
		return err
	}

	// The burned-namespace ledger outlives application rows; a name stays
	// here even if the row above is ever removed.
	if _, err := tx.ExecContext(ctx, `
		insert into platform.used_namespaces (namespace)
		values ($1) on conflict do nothing
	`, app.Namespace); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) MarkRetired(ctx context.Context, externalID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update platform.applications set retired = true, retired_at = $2
		where external_id = $1
	`, externalID, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: %s", tenant.ErrNotFound, externalID)
	}
	return nil
}

func (s *Store) NamespaceUsed(ctx context.Context, namespace string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from platform.used_namespaces where namespace = $1
	`, namespace).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Applications(ctx context.Context) ([]tenant.Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, external_id, display_name, namespace, retired, created_at, retired_at
		from platform.applications
		order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []tenant.Application
	for rows.Next() {
		var (
			app     tenant.Application
			retired sql.NullTime
		)
		if err := rows.Scan(&app.ID, &app.ExternalID, &app.DisplayName, &app.Namespace, &app.Retired, &app.CreatedAt, &retired); err != nil {
			return nil, err
		}
		if retired.Valid {
			app.RetiredAt = retired.Time
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return apps, nil
}
