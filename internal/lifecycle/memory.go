package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryStore implements Store for tests and database-free runs.
type InMemoryStore struct {
	mu        sync.Mutex
	manifests map[string]Manifest
	runs      map[string]ErasureRun
	order     []string
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		manifests: make(map[string]Manifest),
		runs:      make(map[string]ErasureRun),
	}
}

func (s *InMemoryStore) CreateManifest(ctx context.Context, m Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.manifests[m.ID]; ok {
		return fmt.Errorf("%w: manifest %s exists", ErrInvalidInput, m.ID)
	}
	s.manifests[m.ID] = m
	return nil
}

func (s *InMemoryStore) Manifest(ctx context.Context, id string) (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[id]
	if !ok {
		return Manifest{}, fmt.Errorf("%w: manifest %s", ErrNotFound, id)
	}
	return m, nil
}

func (s *InMemoryStore) TransitionManifest(ctx context.Context, id string, from, to ManifestState, update func(*Manifest)) (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[id]
	if !ok {
		return Manifest{}, fmt.Errorf("%w: manifest %s", ErrNotFound, id)
	}
	if m.State != from {
		return Manifest{}, fmt.Errorf("%w: manifest %s is %s, not %s", ErrInvalidStateTransition, id, m.State, from)
	}
	m.State = to
	if update != nil {
		update(&m)
	}
	s.manifests[id] = m
	return m, nil
}

func (s *InMemoryStore) DeleteExpiredManifests(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.manifests {
		if !m.ExpiresAt.After(now) {
			delete(s.manifests, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) DeleteManifestsForPrincipal(ctx context.Context, principalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.manifests {
		if m.PrincipalID == principalID {
			delete(s.manifests, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CreateErasureRun(ctx context.Context, run ErasureRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("%w: run %s exists", ErrInvalidInput, run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	s.order = append(s.order, run.ID)
	return nil
}

func (s *InMemoryStore) ErasureRun(ctx context.Context, id string) (ErasureRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErasureRun{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return cloneRun(run), nil
}

func (s *InMemoryStore) SaveErasureRun(ctx context.Context, run ErasureRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("%w: run %s", ErrNotFound, run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *InMemoryStore) QueuedErasureRuns(ctx context.Context, limit int) ([]ErasureRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ErasureRun
	for _, id := range s.order {
		run := s.runs[id]
		if run.State != ErasureQueued && run.State != ErasurePartial {
			continue
		}
		out = append(out, cloneRun(run))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func cloneRun(run ErasureRun) ErasureRun {
	out := run
	out.Namespaces = make([]NamespaceOutcome, len(run.Namespaces))
	copy(out.Namespaces, run.Namespaces)
	return out
}
