package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voyagehub.org/internal/lifecycle"
)

var _ lifecycle.Store = (*Store)(nil)

func (s *Store) CreateManifest(ctx context.Context, m lifecycle.Manifest) error {
	categories, err := json.Marshal(m.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	// download_ref stays null at insert time; only TransitionManifest writes it.
	_, err = s.db.ExecContext(ctx, `
		insert into platform.extraction_manifests
			(id, principal_id, requested_by, app_external_id, namespace, state,
			 categories, estimate_bytes, created_at, updated_at, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.ID, m.PrincipalID, m.RequestedBy, nullIfEmpty(m.AppExternalID), m.Namespace,
		m.State, categories, m.EstimateBytes, m.CreatedAt, m.UpdatedAt, m.ExpiresAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: manifest %s exists", lifecycle.ErrInvalidInput, m.ID)
	}
	return err
}

func (s *Store) Manifest(ctx context.Context, id string) (lifecycle.Manifest, error) {
	return scanManifest(s.db.QueryRowContext(ctx, `
		select id, principal_id, requested_by, app_external_id, namespace, state,
		       categories, estimate_bytes, created_at, updated_at, expires_at, failure,
		       download_ref, download_expires_at
		from platform.extraction_manifests
		where id = $1
	`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifest(row rowScanner) (lifecycle.Manifest, error) {
	var (
		m           lifecycle.Manifest
		appID       sql.NullString
		failure     sql.NullString
		downloadRef sql.NullString
		downloadExp sql.NullTime
		categories  []byte
	)
	err := row.Scan(&m.ID, &m.PrincipalID, &m.RequestedBy, &appID, &m.Namespace, &m.State,
		&categories, &m.EstimateBytes, &m.CreatedAt, &m.UpdatedAt, &m.ExpiresAt, &failure,
		&downloadRef, &downloadExp)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Manifest{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return lifecycle.Manifest{}, err
	}
	if appID.Valid {
		m.AppExternalID = appID.String
	}
	if failure.Valid {
		m.Failure = failure.String
	}
	if downloadRef.Valid {
		m.DownloadRef = downloadRef.String
	}
	if downloadExp.Valid {
		m.DownloadExpiresAt = downloadExp.Time
	}
	m.Categories = map[string]int64{}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &m.Categories); err != nil {
			return lifecycle.Manifest{}, fmt.Errorf("decode categories: %w", err)
		}
	}
	return m, nil
}

// TransitionManifest compares-and-swaps the manifest state in one statement.
// The where clause carries the expected state, so a concurrent transition
// loses cleanly instead of double-applying.
func (s *Store) TransitionManifest(ctx context.Context, id string, from, to lifecycle.ManifestState, update func(*lifecycle.Manifest)) (lifecycle.Manifest, error) {
	current, err := s.Manifest(ctx, id)
	if err != nil {
		return lifecycle.Manifest{}, err
	}
	next := current
	next.State = to
	if update != nil {
		update(&next)
	}

	var downloadExp sql.NullTime
	if !next.DownloadExpiresAt.IsZero() {
		downloadExp = sql.NullTime{Time: next.DownloadExpiresAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		update platform.extraction_manifests
		set state = $3, updated_at = $4, failure = $5, download_ref = $6, download_expires_at = $7
		where id = $1 and state = $2
	`, id, from, to, next.UpdatedAt, nullIfEmpty(next.Failure), nullIfEmpty(next.DownloadRef), downloadExp)
	if err != nil {
		return lifecycle.Manifest{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return lifecycle.Manifest{}, err
	}
	if aff == 0 {
		return lifecycle.Manifest{}, fmt.Errorf("%w: manifest %s is %s, not %s",
			lifecycle.ErrInvalidStateTransition, id, current.State, from)
	}
	return next, nil
}

func (s *Store) DeleteExpiredManifests(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from platform.extraction_manifests where expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteManifestsForPrincipal(ctx context.Context, principalID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from platform.extraction_manifests where principal_id = $1
	`, principalID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CreateErasureRun(ctx context.Context, run lifecycle.ErasureRun) error {
	namespaces, err := json.Marshal(run.Namespaces)
	if err != nil {
		return fmt.Errorf("marshal namespaces: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into platform.erasure_runs
			(id, principal_id, requested_by, state, namespaces, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, run.ID, run.PrincipalID, run.RequestedBy, run.State, namespaces, run.CreatedAt, run.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: run %s exists", lifecycle.ErrInvalidInput, run.ID)
	}
	return err
}

func (s *Store) ErasureRun(ctx context.Context, id string) (lifecycle.ErasureRun, error) {
	var (
		run        lifecycle.ErasureRun
		namespaces []byte
		finished   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, principal_id, requested_by, state, namespaces, created_at, updated_at, finished_at
		from platform.erasure_runs
		where id = $1
	`, id).Scan(&run.ID, &run.PrincipalID, &run.RequestedBy, &run.State, &namespaces,
		&run.CreatedAt, &run.UpdatedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.ErasureRun{}, fmt.Errorf("%w: run %s", lifecycle.ErrNotFound, id)
	}
	if err != nil {
		return lifecycle.ErasureRun{}, err
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	if err := json.Unmarshal(namespaces, &run.Namespaces); err != nil {
		return lifecycle.ErasureRun{}, fmt.Errorf("decode namespaces: %w", err)
	}
	return run, nil
}

func (s *Store) SaveErasureRun(ctx context.Context, run lifecycle.ErasureRun) error {
	namespaces, err := json.Marshal(run.Namespaces)
	if err != nil {
		return fmt.Errorf("marshal namespaces: %w", err)
	}
	var finished sql.NullTime
	if !run.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: run.FinishedAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		update platform.erasure_runs
		set state = $2, namespaces = $3, updated_at = $4, finished_at = $5
		where id = $1
	`, run.ID, run.State, namespaces, run.UpdatedAt, finished)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: run %s", lifecycle.ErrNotFound, run.ID)
	}
	return nil
}

func (s *Store) QueuedErasureRuns(ctx context.Context, limit int) ([]lifecycle.ErasureRun, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id from platform.erasure_runs
		where state in ('queued', 'partial')
		order by created_at
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]lifecycle.ErasureRun, 0, len(ids))
	for _, id := range ids {
		run, err := s.ErasureRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}
