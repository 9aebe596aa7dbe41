package cache

import (
	"context"
	"time"
)

// NullCache drops every write and misses on every read. It backs
// "--cache none" and is the lifecycle's default backend: position records
// then live in the positions.Cache map only, and a restart starts from the
// remote layout alone.
type NullCache struct{}

// NewNullCache returns a cache that persists nothing.
func NewNullCache() Cache {
	return NullCache{}
}

func (NullCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (NullCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NullCache) Delete(context.Context, string) error { return nil }

func (NullCache) Close() error { return nil }

var _ Cache = NullCache{}
