package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/pvdd/internal/log"
)

const DefaultExpiration = 10 * time.Minute
const DefaultCleanupInterval = 30 * time.Second

// NewInMemoryCacheManager initializes the in-memory cache. Expired entries are
// purged every cleanupInterval; a non-positive interval disables the janitor.
func NewInMemoryCacheManager[K ~string, V any](useCase string, defaultExpiration, cleanupInterval time.Duration) *InMemoryCacheManager[K, V] {
	return &InMemoryCacheManager[K, V]{
		useCase: useCase,
		cache:   gocache.New(defaultExpiration, cleanupInterval),
	}
}

// InMemoryCacheManager is the concrete implementation of the CacheManager interface
type InMemoryCacheManager[K ~string, V any] struct {
	useCase string
	cache   *gocache.Cache
}

var _ CacheManager[string, int] = (*InMemoryCacheManager[string, int])(nil)

// Get retrieves an item from the cache by its key
func (c *InMemoryCacheManager[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zeroValue V

	value, found := c.cache.Get(string(key))
	if !found {
		return zeroValue, false
	}

	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "wrong type assertion when getting value", "cache", c.useCase, "key", key)
		return zeroValue, false
	}

	return v, true
}

// Set stores value under key. A ttl of NoExpiration keeps it until deleted.
func (c *InMemoryCacheManager[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
}

// Delete removes the given keys. Each removed key triggers the eviction callback.
func (c *InMemoryCacheManager[K, V]) Delete(_ context.Context, keys ...K) error {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
	return nil
}

// Items returns a copy of all unexpired entries.
func (c *InMemoryCacheManager[K, V]) Items(_ context.Context) map[K]V {
	items := c.cache.Items()
	out := make(map[K]V, len(items))
	now := time.Now().UnixNano()
	for k, item := range items {
		if item.Expiration > 0 && now > item.Expiration {
			continue
		}
		v, ok := item.Object.(V)
		if !ok {
			continue
		}
		out[K(k)] = v
	}
	return out
}

// OnEvicted registers fn to run whenever an entry is deleted or purged after
// expiry. The callback runs outside the cache lock.
func (c *InMemoryCacheManager[K, V]) OnEvicted(fn func(key K, value V)) {
	if fn == nil {
		c.cache.OnEvicted(nil)
		return
	}
	c.cache.OnEvicted(func(k string, value any) {
		v, ok := value.(V)
		if !ok {
			log.Error(log.CatCache, "wrong type assertion on eviction", "cache", c.useCase, "key", k)
			return
		}
		fn(K(k), v)
	})
}

// DeleteExpired purges expired entries now instead of waiting for the janitor.
func (c *InMemoryCacheManager[K, V]) DeleteExpired(_ context.Context) {
	c.cache.DeleteExpired()
}

// Flush removes every entry without running the eviction callback.
func (c *InMemoryCacheManager[K, V]) Flush(_ context.Context) error {
	c.cache.Flush()
	return nil
}
