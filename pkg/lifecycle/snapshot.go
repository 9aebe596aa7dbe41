package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matzehuels/panelsync/pkg/cache"
	"github.com/matzehuels/panelsync/pkg/panel"
)

// The last good layout of a project is kept next to its position records.
// It is only read to recover from an empty fetch.

func loadSnapshot(ctx context.Context, backend cache.Cache, keyer cache.Keyer, projectID string) (*panel.Snapshot, error) {
	data, ok, err := backend.Get(ctx, keyer.SnapshotKey(projectID))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var snap panel.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.ProjectID != projectID {
		return nil, fmt.Errorf("snapshot belongs to %q", snap.ProjectID)
	}
	return &snap, nil
}

func saveSnapshot(ctx context.Context, backend cache.Cache, keyer cache.Keyer, snap panel.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return backend.Set(ctx, keyer.SnapshotKey(snap.ProjectID), data, cache.TTLForever)
}

func clearSnapshot(ctx context.Context, backend cache.Cache, keyer cache.Keyer, projectID string) error {
	return backend.Delete(ctx, keyer.SnapshotKey(projectID))
}

// storeSnapshot records the current list as the last good layout. Empty
// lists are never stored.
func (l *Lifecycle) storeSnapshot() {
	s := &l.st
	if len(s.panels) == 0 {
		return
	}
	snap := panel.Snapshot{
		ProjectID:   s.projectID,
		Panels:      panel.CloneAll(s.panels),
		LastUpdated: s.lastUpdated,
		Revision:    s.revision,
	}
	if err := saveSnapshot(l.baseCtx, l.cfg.Cache, l.cfg.Keyer, snap); err != nil {
		l.logger.Debug("storing layout snapshot failed", "project", s.projectID, "err", err)
		return
	}
	s.snapshot = &snap
}
