// Package cache provides an in-memory TTL cache.
package cache

import (
	"context"
	"sync"
	"time"
)

// TTL defaults for geocoding results.
const (
	TTLGeocodeHit  = 24 * time.Hour // addresses rarely move
	TTLGeocodeMiss = 1 * time.Hour  // retry unknown addresses sooner
)

const evictInterval = 5 * time.Minute

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe in-memory TTL cache.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	enabled bool
	now     func() time.Time
}

// New creates a new cache. Pass enabled=false to create a no-op cache.
// Expired entries are evicted in the background until ctx is cancelled.
func New[V any](ctx context.Context, enabled bool) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]entry[V]),
		enabled: enabled,
		now:     time.Now,
	}
	if enabled {
		go c.evictLoop(ctx)
	}
	return c
}

// Get retrieves a cached value and whether it was found.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil || !c.enabled {
		return zero, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, exists := c.entries[key]
	if !exists || c.now().After(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Set stores a value with a TTL.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if c == nil || !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Stats returns cache statistics.
func (c *Cache[V]) Stats() map[string]interface{} {
	if c == nil {
		return map[string]interface{}{"enabled": false}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := 0
	now := c.now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			active++
		}
	}
	return map[string]interface{}{
		"enabled":      c.enabled,
		"total_keys":   len(c.entries),
		"active_keys":  active,
		"expired_keys": len(c.entries) - active,
	}
}

// evictLoop periodically removes expired entries.
func (c *Cache[V]) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evict()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache[V]) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
