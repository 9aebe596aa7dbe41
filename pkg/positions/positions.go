// Package positions implements the durable position cache: the last
// position the local client confirmed for every panel of a project.
//
// A project's records live under a single backend key as one JSON map of
// panel id to [panel.Position]. They have no TTL and are removed only by
// an explicit delete or [Cache.Clear]. Every write goes straight to the backend,
// so a reload never loses a confirmed drag.
//
// The cache does not decide what to write. The reconciliation engine and
// the layout lifecycle are its only writers.
package positions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/matzehuels/panelsync/pkg/cache"
	"github.com/matzehuels/panelsync/pkg/observability"
	"github.com/matzehuels/panelsync/pkg/panel"
)

const keyType = "positions"

// Cache is the position cache for one project. It is safe for concurrent use.
type Cache struct {
	mu        sync.RWMutex
	backend   cache.Cache
	key       string
	projectID string
	records   map[string]panel.Position
}

// Open loads the position records of projectID from backend.
// A missing or unreadable entry yields an empty cache. A backend error is
// returned along with an empty but usable cache, so callers can degrade
// to memory-only operation.
func Open(ctx context.Context, backend cache.Cache, keyer cache.Keyer, projectID string) (*Cache, error) {
	if backend == nil {
		backend = cache.NewNullCache()
	}
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	c := &Cache{
		backend:   backend,
		key:       keyer.PositionsKey(projectID),
		projectID: projectID,
		records:   make(map[string]panel.Position),
	}

	data, hit, err := backend.Get(ctx, c.key)
	if err != nil {
		return c, fmt.Errorf("read positions for %s: %w", projectID, err)
	}
	if !hit {
		observability.Cache().OnCacheMiss(ctx, keyType)
		return c, nil
	}
	observability.Cache().OnCacheHit(ctx, keyType)

	var stored map[string]panel.Position
	if err := json.Unmarshal(data, &stored); err != nil {
		// Corrupt entry - start over rather than fail the load
		return c, nil
	}
	for id, rec := range stored {
		c.records[id] = rec
	}
	return c, nil
}

// ProjectID returns the project the cache belongs to.
func (c *Cache) ProjectID() string { return c.projectID }

// Get returns the record for id.
func (c *Cache) Get(id string) (panel.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	return rec, ok
}

// GetAll returns a copy of every record.
func (c *Cache) GetAll() map[string]panel.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]panel.Position, len(c.records))
	for id, rec := range c.records {
		out[id] = rec
	}
	return out
}

// Len returns the number of records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// SetMany writes records, last write wins per id. The in-memory state is
// updated even if the backend write fails. The error reports the lost
// durability only.
func (c *Cache) SetMany(ctx context.Context, records map[string]panel.Position) error {
	if len(records) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, rec := range records {
		c.records[id] = rec
	}
	return c.flushLocked(ctx)
}

// Delete removes the records of ids.
func (c *Cache) Delete(ctx context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := false
	for _, id := range ids {
		if _, ok := c.records[id]; ok {
			delete(c.records, id)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	return c.flushLocked(ctx)
}

// Clear drops every record for the project. It is the recovery path for
// "discard local overrides and resync" and never runs automatically.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]panel.Position)
	if err := c.backend.Delete(ctx, c.key); err != nil {
		return fmt.Errorf("clear positions for %s: %w", c.projectID, err)
	}
	return nil
}

func (c *Cache) flushLocked(ctx context.Context) error {
	if len(c.records) == 0 {
		if err := c.backend.Delete(ctx, c.key); err != nil {
			return fmt.Errorf("write positions for %s: %w", c.projectID, err)
		}
		return nil
	}
	data, err := json.Marshal(c.records)
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}
	if err := c.backend.Set(ctx, c.key, data, cache.TTLForever); err != nil {
		return fmt.Errorf("write positions for %s: %w", c.projectID, err)
	}
	observability.Cache().OnCacheSet(ctx, keyType, len(data))
	return nil
}
