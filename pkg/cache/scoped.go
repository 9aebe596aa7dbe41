package cache

// ScopedKeyer wraps a Keyer with a prefix for profile isolation.
// Use it when several users or config profiles share one backend, such as
// a team Redis instance, so they do not overwrite each other's positions.
//
// Example usage:
//
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "client:3f2a:")
//	keyer.PositionsKey("site-7") // "client:3f2a:positions:site-7"
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// PositionsKey generates a prefixed positions key.
func (k *ScopedKeyer) PositionsKey(projectID string) string {
	return k.prefix + k.inner.PositionsKey(projectID)
}

// SnapshotKey generates a prefixed snapshot key.
func (k *ScopedKeyer) SnapshotKey(projectID string) string {
	return k.prefix + k.inner.SnapshotKey(projectID)
}
