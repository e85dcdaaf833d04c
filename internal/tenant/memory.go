package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemory implements Store for tests and database-free runs. Namespaces of
// retired applications remain in the used set.
type InMemory struct {
	mu   sync.RWMutex
	apps map[string]Application
	used map[string]bool
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{
		apps: make(map[string]Application),
		used: map[string]bool{PlatformNamespace: true},
	}
}

func (s *InMemory) Application(ctx context.Context, externalID string) (Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[externalID]
	if !ok {
		return Application{}, fmt.Errorf("%w: %s", ErrNotFound, externalID)
	}
	return app, nil
}

func (s *InMemory) Insert(ctx context.Context, app Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.ExternalID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, app.ExternalID)
	}
	if s.used[app.Namespace] {
		return fmt.Errorf("%w: %s", ErrNamespaceTaken, app.Namespace)
	}
	s.apps[app.ExternalID] = app
	s.used[app.Namespace] = true
	return nil
}

func (s *InMemory) MarkRetired(ctx context.Context, externalID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[externalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, externalID)
	}
	app.Retired = true
	app.RetiredAt = at
	s.apps[externalID] = app
	return nil
}

func (s *InMemory) NamespaceUsed(ctx context.Context, namespace string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used[namespace], nil
}

func (s *InMemory) Applications(ctx context.Context) ([]Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Application, 0, len(s.apps))
	for _, app := range s.apps {
		out = append(out, app)
	}
	return out, nil
}
