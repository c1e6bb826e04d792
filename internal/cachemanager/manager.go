// Package cachemanager provides typed TTL caches.
// The address monitor uses it to expire addresses whose valid lifetime ran out.
package cachemanager

import (
	"context"
	"time"
)

// NoExpiration marks an entry that never expires.
const NoExpiration time.Duration = -1

type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Items(ctx context.Context) map[K]V
	OnEvicted(fn func(key K, value V))
	DeleteExpired(ctx context.Context)
	Flush(ctx context.Context) error
}
