// Package tenant maps application identities onto isolated data namespaces.
// Every application gets its own namespace at registration; resolution is
// fail-closed, and a namespace name is never reused once retired.
package tenant

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	ErrNotFound       = errors.New("tenant: application not found")
	ErrNamespaceTaken = errors.New("tenant: namespace already used")
	ErrAlreadyExists  = errors.New("tenant: application already registered")
	ErrRetired        = errors.New("tenant: application retired")
	ErrInvalidInput   = errors.New("tenant: invalid input")
)

// PlatformNamespace holds platform-level data (principals, organizations,
// grants) shared across applications. It is the resolution target when no
// application context is supplied.
const PlatformNamespace = "platform"

// Namespace names double as Postgres schema identifiers, so the alphabet is
// restricted to what can be embedded as a quoted identifier without escaping.
var namespacePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{2,62}$`)

// ValidNamespace reports whether name is usable as a tenant namespace.
func ValidNamespace(name string) bool {
	return name != PlatformNamespace && namespacePattern.MatchString(name)
}

// Application is one registered tenant of the platform.
type Application struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	Namespace   string    `json:"namespace"`
	Retired     bool      `json:"retired"`
	CreatedAt   time.Time `json:"created_at"`
	RetiredAt   time.Time `json:"retired_at,omitzero"`
}

// Store persists application registrations. NamespaceUsed must consider
// retired applications too; their namespaces stay burned forever.
type Store interface {
	Application(ctx context.Context, externalID string) (Application, error)
	Insert(ctx context.Context, app Application) error
	MarkRetired(ctx context.Context, externalID string, at time.Time) error
	NamespaceUsed(ctx context.Context, namespace string) (bool, error)
	Applications(ctx context.Context) ([]Application, error)
}
