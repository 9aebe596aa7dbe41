package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/panel"
	"github.com/matzehuels/panelsync/pkg/remote"
)

// FileStore keeps one JSON file per project in a data directory.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
	opts    options
}

type fileLayout struct {
	ProjectID   string        `json:"projectId"`
	Panels      []panel.Panel `json:"panels"`
	Width       float64       `json:"width,omitempty"`
	Height      float64       `json:"height,omitempty"`
	Scale       float64       `json:"scale,omitempty"`
	LastUpdated time.Time     `json:"lastUpdated"`
	Revision    int64         `json:"revision"`
}

// NewFileStore creates a file-based store rooted at baseDir.
// If baseDir is empty, defaults to ~/.local/share/panelsync/layouts/
func NewFileStore(baseDir string, opts ...Option) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		baseDir = filepath.Join(home, ".local", "share", "panelsync", "layouts")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create layout dir: %w", err)
	}
	return &FileStore{baseDir: baseDir, opts: buildOptions(opts)}, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string { return s.baseDir }

func (s *FileStore) layoutPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID+".json")
}

// FetchLayout implements [remote.Gateway].
func (s *FileStore) FetchLayout(ctx context.Context, projectID string) (*remote.Layout, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.read(projectID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "project %s not found", projectID)
	}
	return l, nil
}

// PersistLayout implements [remote.Gateway].
func (s *FileStore) PersistLayout(ctx context.Context, projectID string, req remote.PersistRequest) (*remote.Ack, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if err := validatePanels(req.Panels); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.read(projectID)
	if err != nil {
		return nil, err
	}
	var current int64
	if prev != nil {
		current = prev.Revision
	}
	if err := checkRevision(projectID, prev != nil, current, req.BaseRevision); err != nil {
		return nil, err
	}

	next := apply(projectID, prev, req, s.opts.now())
	if err := s.write(next); err != nil {
		return nil, err
	}
	return &remote.Ack{Revision: next.Revision, LastUpdated: next.LastUpdated}, nil
}

// Close implements [Store].
func (s *FileStore) Close(context.Context) error { return nil }

// read returns nil, nil for a missing project.
func (s *FileStore) read(projectID string) (*remote.Layout, error) {
	data, err := os.ReadFile(s.layoutPath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeTransport, err, "read layout %s", projectID)
	}
	var fl fileLayout
	if err := json.Unmarshal(data, &fl); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "parse layout %s", projectID)
	}
	return &remote.Layout{
		ProjectID:   projectID,
		Panels:      fl.Panels,
		Width:       fl.Width,
		Height:      fl.Height,
		Scale:       fl.Scale,
		LastUpdated: fl.LastUpdated,
		Revision:    fl.Revision,
	}, nil
}

func (s *FileStore) write(l *remote.Layout) error {
	data, err := json.MarshalIndent(fileLayout{
		ProjectID:   l.ProjectID,
		Panels:      l.Panels,
		Width:       l.Width,
		Height:      l.Height,
		Scale:       l.Scale,
		LastUpdated: l.LastUpdated,
		Revision:    l.Revision,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encode layout %s", l.ProjectID)
	}

	path := s.layoutPath(l.ProjectID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeTransport, err, "write layout %s", l.ProjectID)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.ErrCodeTransport, err, "write layout %s", l.ProjectID)
	}
	return nil
}
