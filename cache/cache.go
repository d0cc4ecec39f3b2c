// Package cache provides a bounded TTL cache for derived chain state.
// The cache is injected where used; no package keeps ambient global
// cache state.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is the get/put contract. Expired entries read as misses.
type Cache interface {
	Get(key string) (any, bool)
	Put(key string, value any, ttl time.Duration)
	Delete(key string)
}

// TTLCache wraps go-cache with an entry-count bound. When full, new
// entries are dropped rather than evicting. Entries are short-lived
// and the cache is advisory, a miss only costs a chain read.
type TTLCache struct {
	c          *gocache.Cache
	maxEntries int
}

func NewTTLCache(defaultTTL time.Duration, maxEntries int) *TTLCache {
	return &TTLCache{
		c:          gocache.New(defaultTTL, 2*defaultTTL),
		maxEntries: maxEntries,
	}
}

func (t *TTLCache) Get(key string) (any, bool) {
	return t.c.Get(key)
}

func (t *TTLCache) Put(key string, value any, ttl time.Duration) {
	if _, exists := t.c.Get(key); !exists && t.c.ItemCount() >= t.maxEntries {
		return
	}
	t.c.Set(key, value, ttl)
}

func (t *TTLCache) Delete(key string) {
	t.c.Delete(key)
}
