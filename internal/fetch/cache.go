package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type cacheEntry[V any] struct {
	value    V
	cachedAt time.Time
}

// Cache is a TTL cache for fetched values. Entries are independently
// replaceable snapshots: concurrent writes to the same key resolve as
// last writer wins, which is correct because every write is a complete
// fresh fetch result.
type Cache[V any] struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry[V]
}

// NewCache creates a TTL cache.
func NewCache[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]cacheEntry[V]),
	}
}

// Get returns the cached value for key if it is still fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.cachedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetStale returns the cached value for key regardless of age.
func (c *Cache[V]) GetStale(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key with a fresh timestamp.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, cachedAt: time.Now()}
	c.mu.Unlock()
}

// Len returns the number of entries, fresh or stale.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Evict removes entries older than maxAge.
func (c *Cache[V]) Evict(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if time.Since(e.cachedAt) > maxAge {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// GetOrFetch returns the fresh cached value for key, or runs fn to refresh
// it. If the refresh fails and a previous value exists (even expired), the
// stale value is returned instead of the error: serving slightly old market
// data beats serving none during an upstream outage.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := fn(ctx)
	if err != nil {
		if stale, ok := c.GetStale(key); ok {
			log.Warn().Err(err).Str("key", key).
				Msg("cache: refresh failed, serving stale value")
			return stale, nil
		}
		var zero V
		return zero, err
	}

	c.Put(key, v)
	return v, nil
}
