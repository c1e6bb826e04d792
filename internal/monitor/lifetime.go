package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/zjrosen/pvdd/internal/cachemanager"
	"github.com/zjrosen/pvdd/internal/log"
	"github.com/zjrosen/pvdd/internal/pvd"
)

// DefaultSweepInterval is how often expired addresses are purged.
const DefaultSweepInterval = time.Second

// LifetimeTracker forwards address events to the next handler and
// synthesises a removal event when an address outlives its valid lifetime.
// Every address yields at most one removal, whether it was reported
// explicitly or produced by expiry.
type LifetimeTracker struct {
	next  pvd.AddressChangeHandler
	cache cachemanager.CacheManager[string, pvd.AddressEvent]

	// mu serialises delivery so next sees events in order. Eviction
	// callbacks only run while mu is held.
	mu        sync.Mutex
	explicit  bool
	delivered bool
	expired   int
}

// NewLifetimeTracker creates a tracker that forwards to next.
func NewLifetimeTracker(next pvd.AddressChangeHandler) *LifetimeTracker {
	cache := cachemanager.NewInMemoryCacheManager[string, pvd.AddressEvent](
		"address-lifetimes", cachemanager.NoExpiration, 0,
	)
	return newLifetimeTracker(next, cache)
}

func newLifetimeTracker(next pvd.AddressChangeHandler, cache cachemanager.CacheManager[string, pvd.AddressEvent]) *LifetimeTracker {
	t := &LifetimeTracker{
		next:  next,
		cache: cache,
	}
	cache.OnEvicted(t.onEvicted)
	return t
}

var _ pvd.AddressChangeHandler = (*LifetimeTracker)(nil)

// OnAddressChange records the address lifetime and forwards the event.
func (t *LifetimeTracker) OnAddressChange(ev pvd.AddressEvent) {
	if !ev.Address.IsValid() {
		return
	}
	ev.Address = ev.Address.Unmap()
	key := ev.Address.String()
	ctx := context.Background()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Added {
		ttl := cachemanager.NoExpiration
		if ev.ValidLifetime > 0 {
			ttl = ev.ValidLifetime
		}
		t.cache.Set(ctx, key, ev, ttl)
		t.next.OnAddressChange(ev)
		return
	}

	// A tracked address is removed through the cache so the eviction
	// callback is the single place removals are forwarded from.
	t.explicit, t.delivered = true, false
	_ = t.cache.Delete(ctx, key)
	t.explicit = false
	if !t.delivered {
		t.next.OnAddressChange(ev)
	}
}

// Sweep purges expired addresses, forwarding a removal event for each.
func (t *LifetimeTracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.DeleteExpired(context.Background())
}

// Run sweeps at the given interval until ctx is cancelled.
func (t *LifetimeTracker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Expired returns how many removals were produced by lifetime expiry.
func (t *LifetimeTracker) Expired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Tracked returns the number of addresses with a live lease.
func (t *LifetimeTracker) Tracked() int {
	return len(t.cache.Items(context.Background()))
}

// onEvicted runs with mu held, from OnAddressChange or Sweep.
func (t *LifetimeTracker) onEvicted(key string, added pvd.AddressEvent) {
	if t.explicit {
		t.delivered = true
	} else {
		t.expired++
		log.Info(log.CatMonitor, "address valid lifetime expired", "address", key, "ifindex", added.InterfaceIndex)
	}
	t.next.OnAddressChange(pvd.AddressEvent{
		Address:        added.Address,
		InterfaceIndex: added.InterfaceIndex,
	})
}
