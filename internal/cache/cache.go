// Package cache is a typed TTL cache over patrickmn/go-cache.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache holds values of a single type with a default TTL.
type Cache[V any] struct {
	items *gocache.Cache
}

// New creates a cache whose entries expire after ttl. A zero ttl disables
// expiry; expired entries are purged every 2*ttl.
func New[V any](ttl time.Duration) *Cache[V] {
	cleanup := 2 * ttl
	if ttl <= 0 {
		ttl = gocache.NoExpiration
		cleanup = 0
	}
	return &Cache[V]{items: gocache.New(ttl, cleanup)}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	v, ok := c.items.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(V)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.items.SetDefault(key, value)
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.items.Delete(key)
}

// Len reports the number of entries, including expired ones not yet purged.
func (c *Cache[V]) Len() int {
	return c.items.ItemCount()
}
