package store

import (
	"context"
	"sort"
	"sync"

	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/remote"
)

// MemoryStore keeps layouts in memory. Returned layouts are copies.
type MemoryStore struct {
	mu      sync.RWMutex
	layouts map[string]*remote.Layout
	opts    options
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		layouts: make(map[string]*remote.Layout),
		opts:    buildOptions(opts),
	}
}

// FetchLayout implements [remote.Gateway].
func (s *MemoryStore) FetchLayout(ctx context.Context, projectID string) (*remote.Layout, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layouts[projectID]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "project %s not found", projectID)
	}
	return copyLayout(l), nil
}

// PersistLayout implements [remote.Gateway].
func (s *MemoryStore) PersistLayout(ctx context.Context, projectID string, req remote.PersistRequest) (*remote.Ack, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if err := validatePanels(req.Panels); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.layouts[projectID]
	var current int64
	if ok {
		current = prev.Revision
	}
	if err := checkRevision(projectID, ok, current, req.BaseRevision); err != nil {
		return nil, err
	}
	next := apply(projectID, prev, req, s.opts.now())
	s.layouts[projectID] = next
	return &remote.Ack{Revision: next.Revision, LastUpdated: next.LastUpdated}, nil
}

// Seed stores l as-is, replacing any layout of the same project. It is
// meant for fixtures and does not check revisions.
func (s *MemoryStore) Seed(l *remote.Layout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layouts[l.ProjectID] = copyLayout(l)
}

// Projects returns the stored project ids, sorted.
func (s *MemoryStore) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.layouts))
	for id := range s.layouts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close implements [Store].
func (s *MemoryStore) Close(context.Context) error { return nil }
