package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"voyagehub.org/internal/ids"
)

// Router resolves application identities to namespaces and serializes
// registration so two applications can never race onto the same namespace.
type Router struct {
	store Store
	clock func() time.Time

	// Registration is rare and correctness-critical; a single writer keeps
	// the used-namespace check and the insert atomic for in-memory stores.
	// The pg store additionally enforces uniqueness at the database.
	mu sync.Mutex
}

type RouterOption func(*Router)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) RouterOption {
	return func(r *Router) { r.clock = clock }
}

func NewRouter(store Store, opts ...RouterOption) *Router {
	r := &Router{
		store: store,
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveNamespace maps an application external ID to its namespace. An
// empty external ID names the platform namespace. Unknown and retired
// applications fail resolution; there is no fallback namespace.
func (r *Router) ResolveNamespace(ctx context.Context, appExternalID string) (string, error) {
	appExternalID = strings.TrimSpace(appExternalID)
	if appExternalID == "" {
		return PlatformNamespace, nil
	}
	app, err := r.store.Application(ctx, appExternalID)
	if err != nil {
		return "", err
	}
	if app.Retired {
		return "", fmt.Errorf("%w: %s", ErrRetired, appExternalID)
	}
	return app.Namespace, nil
}

// Register creates a new application bound to a fresh namespace. The
// namespace must never have been used before, including by retired
// applications.
func (r *Router) Register(ctx context.Context, externalID, displayName, namespace string) (Application, error) {
	externalID = strings.TrimSpace(externalID)
	displayName = strings.TrimSpace(displayName)
	namespace = strings.TrimSpace(namespace)
	if externalID == "" {
		return Application{}, fmt.Errorf("%w: external id is required", ErrInvalidInput)
	}
	if displayName == "" {
		return Application{}, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	if !ValidNamespace(namespace) {
		return Application{}, fmt.Errorf("%w: namespace %q", ErrInvalidInput, namespace)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.Application(ctx, externalID); err == nil {
		return Application{}, fmt.Errorf("%w: %s", ErrAlreadyExists, externalID)
	} else if !errors.Is(err, ErrNotFound) {
		return Application{}, err
	}
	used, err := r.store.NamespaceUsed(ctx, namespace)
	if err != nil {
		return Application{}, err
	}
	if used {
		return Application{}, fmt.Errorf("%w: %s", ErrNamespaceTaken, namespace)
	}

	app := Application{
		ID:          ids.New(),
		ExternalID:  externalID,
		DisplayName: displayName,
		Namespace:   namespace,
		CreatedAt:   r.clock(),
	}
	if err := r.store.Insert(ctx, app); err != nil {
		return Application{}, err
	}
	return app, nil
}

// Retire deactivates an application. Its namespace stops resolving but stays
// reserved, so no future application can reuse the name. Retiring twice is
// a no-op.
func (r *Router) Retire(ctx context.Context, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return fmt.Errorf("%w: external id is required", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	app, err := r.store.Application(ctx, externalID)
	if err != nil {
		return err
	}
	if app.Retired {
		return nil
	}
	return r.store.MarkRetired(ctx, externalID, r.clock())
}

// Application looks up a registration by external ID, retired or not.
func (r *Router) Application(ctx context.Context, externalID string) (Application, error) {
	return r.store.Application(ctx, strings.TrimSpace(externalID))
}

// Applications lists every registration, retired included.
func (r *Router) Applications(ctx context.Context) ([]Application, error) {
	return r.store.Applications(ctx)
}

// Namespaces lists every namespace holding data: the platform namespace plus
// each registered application's, retired applications included.
func (r *Router) Namespaces(ctx context.Context) ([]string, error) {
	apps, err := r.store.Applications(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(apps)+1)
	out = append(out, PlatformNamespace)
	for _, app := range apps {
		out = append(out, app.Namespace)
	}
	return out, nil
}
