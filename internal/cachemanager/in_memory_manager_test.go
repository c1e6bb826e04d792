package cachemanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type addressKey string

type lease struct {
	InterfaceIndex int
	Valid          time.Duration
}

func newTestCache() *InMemoryCacheManager[addressKey, lease] {
	return NewInMemoryCacheManager[addressKey, lease]("address-lifetimes", NoExpiration, 0)
}

func TestNewInMemoryCacheManager(t *testing.T) {
	require.NotPanics(t, func() {
		NewInMemoryCacheManager[string, string]("test", DefaultExpiration, DefaultCleanupInterval)
	})
}

func TestInMemoryCacheManager_GetExistingValue(t *testing.T) {
	cache := newTestCache()
	want := lease{InterfaceIndex: 2, Valid: time.Hour}
	cache.Set(context.Background(), "2001:db8::1", want, NoExpiration)

	got, ok := cache.Get(context.Background(), "2001:db8::1")
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestInMemoryCacheManager_GetMissing(t *testing.T) {
	cache := newTestCache()

	got, ok := cache.Get(context.Background(), "2001:db8::1")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetWrongType(t *testing.T) {
	cache := newTestCache()
	cache.cache.Set("2001:db8::1", 123, NoExpiration)

	got, ok := cache.Get(context.Background(), "2001:db8::1")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetExpired(t *testing.T) {
	cache := newTestCache()
	cache.Set(context.Background(), "2001:db8::1", lease{}, time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	_, ok := cache.Get(context.Background(), "2001:db8::1")
	require.False(t, ok)
	require.Empty(t, cache.Items(context.Background()))
}

func TestInMemoryCacheManager_Items(t *testing.T) {
	cache := newTestCache()
	ctx := context.Background()
	cache.Set(ctx, "2001:db8::1", lease{InterfaceIndex: 1}, NoExpiration)
	cache.Set(ctx, "2001:db8::2", lease{InterfaceIndex: 2}, NoExpiration)
	cache.cache.Set("bogus", "not-a-lease", NoExpiration)

	items := cache.Items(ctx)
	require.Equal(t, map[addressKey]lease{
		"2001:db8::1": {InterfaceIndex: 1},
		"2001:db8::2": {InterfaceIndex: 2},
	}, items)
}

func TestInMemoryCacheManager_DeleteTriggersEviction(t *testing.T) {
	cache := newTestCache()
	ctx := context.Background()

	var evicted []addressKey
	cache.OnEvicted(func(key addressKey, _ lease) {
		evicted = append(evicted, key)
	})

	cache.Set(ctx, "2001:db8::1", lease{}, NoExpiration)
	require.NoError(t, cache.Delete(ctx, "2001:db8::1", "2001:db8::9"))

	require.Equal(t, []addressKey{"2001:db8::1"}, evicted, "missing keys do not trigger eviction")
}

func TestInMemoryCacheManager_DeleteExpiredTriggersEviction(t *testing.T) {
	cache := newTestCache()
	ctx := context.Background()

	var mu sync.Mutex
	var evicted []lease
	cache.OnEvicted(func(_ addressKey, v lease) {
		mu.Lock()
		defer mu.Unlock()
		evicted = append(evicted, v)
	})

	cache.Set(ctx, "2001:db8::1", lease{InterfaceIndex: 4}, time.Millisecond)
	cache.Set(ctx, "2001:db8::2", lease{InterfaceIndex: 5}, NoExpiration)
	time.Sleep(5 * time.Millisecond)

	cache.DeleteExpired(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []lease{{InterfaceIndex: 4}}, evicted)
}

func TestInMemoryCacheManager_FlushSkipsEviction(t *testing.T) {
	cache := newTestCache()
	ctx := context.Background()

	called := false
	cache.OnEvicted(func(addressKey, lease) { called = true })
	cache.Set(ctx, "2001:db8::1", lease{}, NoExpiration)

	require.NoError(t, cache.Flush(ctx))
	require.False(t, called)
	require.Empty(t, cache.Items(ctx))
}

func TestInMemoryCacheManager_OnEvictedNilClears(t *testing.T) {
	cache := newTestCache()
	ctx := context.Background()

	cache.OnEvicted(func(addressKey, lease) { t.Fatal("callback should be cleared") })
	cache.OnEvicted(nil)
	cache.Set(ctx, "2001:db8::1", lease{}, NoExpiration)

	require.NoError(t, cache.Delete(ctx, "2001:db8::1"))
}
