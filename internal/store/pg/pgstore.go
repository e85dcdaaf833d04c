// Package pg implements the directory, tenant, resource and lifecycle
// stores on PostgreSQL. Tenant namespaces map to schemas; every identifier
// interpolated into SQL is validated first.
package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"voyagehub.org/internal/tenant"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, for sqlmock tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// qualify builds a schema-qualified table reference. The namespace has to be
// the platform schema or pass tenant namespace validation; anything else is
// rejected before it can reach the SQL text.
func qualify(namespace, table string) (string, error) {
	if namespace != tenant.PlatformNamespace && !tenant.ValidNamespace(namespace) {
		return "", fmt.Errorf("%w: namespace %q", tenant.ErrInvalidInput, namespace)
	}
	return fmt.Sprintf(`"%s".%s`, namespace, table), nil
}
