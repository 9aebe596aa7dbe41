// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about layout loads, persists, push merges, position cache
// operations, and remote store calls.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetLifecycleHooks(&myLifecycleHooks{})
//	    observability.SetCacheHooks(&myCacheHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Lifecycle().OnLoadStart(ctx, projectID)
//	// ... fetch and reconcile ...
//	observability.Lifecycle().OnLoadComplete(ctx, projectID, panelCount, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Lifecycle Hooks
// =============================================================================

// LifecycleHooks receives events from the layout lifecycle.
type LifecycleHooks interface {
	// Load events
	OnLoadStart(ctx context.Context, projectID string)
	OnLoadComplete(ctx context.Context, projectID string, panelCount int, duration time.Duration, err error)

	// Persist events
	OnPersistStart(ctx context.Context, projectID string, seq uint64)
	OnPersistComplete(ctx context.Context, projectID string, seq uint64, duration time.Duration, err error)

	// OnPushMerged records a reconciled push event. adopted is the number of
	// panels whose remote position replaced the cached one.
	OnPushMerged(ctx context.Context, projectID string, adopted, rejected int)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from position cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from HTTP client operations.
type HTTPHooks interface {
	// OnRequest records an outgoing HTTP request.
	OnRequest(ctx context.Context, method, host, path string)

	// OnResponse records an HTTP response.
	OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration)

	// OnError records an HTTP error (network failure, timeout).
	OnError(ctx context.Context, method, host, path string, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopLifecycleHooks is a no-op implementation of LifecycleHooks.
type NoopLifecycleHooks struct{}

func (NoopLifecycleHooks) OnLoadStart(context.Context, string)                               {}
func (NoopLifecycleHooks) OnLoadComplete(context.Context, string, int, time.Duration, error) {}
func (NoopLifecycleHooks) OnPersistStart(context.Context, string, uint64)                    {}
func (NoopLifecycleHooks) OnPersistComplete(context.Context, string, uint64, time.Duration, error) {
}
func (NoopLifecycleHooks) OnPushMerged(context.Context, string, int, int) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (NoopHTTPHooks) OnError(context.Context, string, string, string, error)                 {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	lifecycleHooks LifecycleHooks = NoopLifecycleHooks{}
	cacheHooks     CacheHooks     = NoopCacheHooks{}
	httpHooks      HTTPHooks      = NoopHTTPHooks{}
	hooksMu        sync.RWMutex
)

// SetLifecycleHooks registers custom lifecycle hooks.
// This should be called once at application startup before any layout is loaded.
func SetLifecycleHooks(h LifecycleHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		lifecycleHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
// This should be called once at application startup before any HTTP operations.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Lifecycle returns the registered lifecycle hooks.
func Lifecycle() LifecycleHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return lifecycleHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	lifecycleHooks = NoopLifecycleHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}
