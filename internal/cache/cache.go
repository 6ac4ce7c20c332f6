// Package cache provides a read-through cache for segment blobs. Because
// segments are immutable and keyed by unique object names, cached bytes
// never go stale; eviction is purely a capacity and TTL concern.
package cache

import "context"

// Cache is a read-through cache for []byte data.
type Cache interface {
	// Take tries to get the value from cache by key. On a miss it calls
	// loader, caches the result, and returns it.
	Take(ctx context.Context, key string, loader func() ([]byte, error)) ([]byte, error)

	// Invalidate drops a key, e.g. after the object behind it has been
	// deleted.
	Invalidate(ctx context.Context, key string)
}

// NoOpCache always calls the loader (no caching).
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache.
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// Take always calls the loader.
func (c *NoOpCache) Take(ctx context.Context, key string, loader func() ([]byte, error)) ([]byte, error) {
	return loader()
}

// Invalidate is a no-op; nothing is cached.
func (c *NoOpCache) Invalidate(ctx context.Context, key string) {}
