package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tolkichat/lsm-tree/internal/trace"
)

// MemoryCache implements Cache using an in-memory map with TTL.
type MemoryCache struct {
	mu     sync.RWMutex
	data   map[string]*cacheEntry
	ttl    time.Duration
	flight singleflight.Group
}

type cacheEntry struct {
	value      []byte
	expireTime time.Time
}

// NewMemoryCache creates a memory cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	c := &MemoryCache{
		data: make(map[string]*cacheEntry),
		ttl:  ttl,
	}
	go c.cleanupLoop()
	return c
}

// Take implements Cache. Concurrent misses for the same key share a
// single loader call to prevent a stampede on the segment store.
func (c *MemoryCache) Take(ctx context.Context, key string, loader func() ([]byte, error)) ([]byte, error) {
	tr := trace.FromContext(ctx)

	value, err, _ := c.flight.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		if entry, ok := c.data[key]; ok && time.Now().Before(entry.expireTime) {
			c.mu.RUnlock()
			tr.RecordSpan("MemoryCache.Hit", map[string]any{
				"key":  key,
				"size": len(entry.value),
			})
			return entry.value, nil
		}
		c.mu.RUnlock()

		data, err := loader()
		if err != nil {
			return nil, err
		}
		tr.RecordSpan("MemoryCache.Loaded", map[string]any{
			"key":  key,
			"size": len(data),
		})

		c.mu.Lock()
		c.data[key] = &cacheEntry{
			value:      data,
			expireTime: time.Now().Add(c.ttl),
		}
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

// Invalidate drops a key, e.g. after compaction deletes its segment.
func (c *MemoryCache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		c.cleanup()
	}
}

func (c *MemoryCache) cleanup() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.data {
		if now.After(entry.expireTime) {
			delete(c.data, key)
		}
	}
}
