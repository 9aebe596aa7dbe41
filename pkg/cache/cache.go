// Package cache provides durable key/value backends for client-side state.
//
// The position cache and the last-known layout snapshot are stored through
// the [Cache] interface so the same code runs against a local directory
// (the default, surviving restarts), a shared Redis instance, or memory
// (tests and throwaway sessions).
//
// Keys are produced by a [Keyer] so that every backend uses one naming
// scheme, and [ScopedKeyer] can isolate profiles or users that share a backend.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of 0 means the entry never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// TTLForever marks entries that never expire. Position records and layout
// snapshots are only ever removed explicitly.
const TTLForever time.Duration = 0

// Keyer generates cache keys.
type Keyer interface {
	// PositionsKey is the key holding a project's position records.
	PositionsKey(projectID string) string

	// SnapshotKey is the key holding a project's last good layout.
	SnapshotKey(projectID string) string
}

// DefaultKeyer produces plain, human-readable keys.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default key scheme.
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

// PositionsKey returns "positions:<projectID>".
func (DefaultKeyer) PositionsKey(projectID string) string { return "positions:" + projectID }

// SnapshotKey returns "snapshot:<projectID>".
func (DefaultKeyer) SnapshotKey(projectID string) string { return "snapshot:" + projectID }
