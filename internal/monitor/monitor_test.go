package monitor

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/pvdd/internal/pvd"
)

// recorder is an AddressChangeHandler that keeps every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []pvd.AddressEvent
}

func (r *recorder) OnAddressChange(ev pvd.AddressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []pvd.AddressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pvd.AddressEvent, len(r.events))
	copy(out, r.events)
	return out
}

var (
	a1 = netip.MustParseAddr("2001:db8::1")
	a2 = netip.MustParseAddr("2001:db8::2")
	a3 = netip.MustParseAddr("192.0.2.1")
	lo = netip.MustParseAddr("::1")
)

// staticLister returns the addrs slice currently pointed to.
func staticLister(addrs *[]InterfaceAddr) AddrLister {
	return func() ([]InterfaceAddr, error) {
		return *addrs, nil
	}
}

// === Poller ===

func TestPoller_FirstScanReportsAdditionsSorted(t *testing.T) {
	rec := &recorder{}
	addrs := []InterfaceAddr{{2, a2}, {2, a1}, {3, a3}, {1, lo}}
	p := NewPoller(Config{Lister: staticLister(&addrs)}, rec)

	require.NoError(t, p.Poll())

	require.Equal(t, []pvd.AddressEvent{
		{Address: a3, InterfaceIndex: 3, Added: true},
		{Address: a1, InterfaceIndex: 2, Added: true},
		{Address: a2, InterfaceIndex: 2, Added: true},
	}, rec.snapshot(), "loopback is skipped by default")
}

func TestPoller_DiffRemovalsBeforeAdditions(t *testing.T) {
	rec := &recorder{}
	addrs := []InterfaceAddr{{2, a1}, {2, a2}}
	p := NewPoller(Config{Lister: staticLister(&addrs)}, rec)
	require.NoError(t, p.Poll())

	addrs = []InterfaceAddr{{2, a2}, {3, a3}}
	require.NoError(t, p.Poll())

	events := rec.snapshot()[2:]
	require.Equal(t, []pvd.AddressEvent{
		{Address: a1, InterfaceIndex: 2},
		{Address: a3, InterfaceIndex: 3, Added: true},
	}, events)
}

func TestPoller_NoChangeNoEvents(t *testing.T) {
	rec := &recorder{}
	addrs := []InterfaceAddr{{2, a1}}
	p := NewPoller(Config{Lister: staticLister(&addrs)}, rec)

	require.NoError(t, p.Poll())
	require.NoError(t, p.Poll())

	require.Len(t, rec.snapshot(), 1)
}

func TestPoller_InterfaceMoveUpdatesInPlace(t *testing.T) {
	rec := &recorder{}
	addrs := []InterfaceAddr{{2, a1}}
	p := NewPoller(Config{Lister: staticLister(&addrs)}, rec)
	require.NoError(t, p.Poll())

	addrs = []InterfaceAddr{{5, a1}}
	require.NoError(t, p.Poll())

	require.Equal(t, []pvd.AddressEvent{
		{Address: a1, InterfaceIndex: 5, Added: true},
	}, rec.snapshot()[1:], "a moved address is never reported as removed")
}

func TestPoller_InterfaceMoveKeepsAssociatedPvD(t *testing.T) {
	reg := pvd.NewRegistry()
	_, _, err := reg.Upsert("net-a.example.com.")
	require.NoError(t, err)
	require.True(t, reg.Associate("net-a.example.com.", a1))

	addrs := []InterfaceAddr{{1, a1}}
	p := NewPoller(Config{Lister: staticLister(&addrs)}, reg)
	require.NoError(t, p.Poll())

	addrs = []InterfaceAddr{{2, a1}}
	require.NoError(t, p.Poll())

	_, ok := reg.Find("net-a.example.com.")
	require.True(t, ok, "the address is still configured on the host")
	st, ok := reg.Address(a1)
	require.True(t, ok)
	require.Equal(t, 2, st.InterfaceIndex)

	addrs = nil
	require.NoError(t, p.Poll())
	_, ok = reg.Find("net-a.example.com.")
	require.False(t, ok, "removing the address for real still evicts")
}

func TestPoller_IncludeLoopback(t *testing.T) {
	rec := &recorder{}
	addrs := []InterfaceAddr{{1, lo}}
	p := NewPoller(Config{Lister: staticLister(&addrs), IncludeLoopback: true}, rec)

	require.NoError(t, p.Poll())
	require.Len(t, rec.snapshot(), 1)
}

func TestPoller_ListerError(t *testing.T) {
	rec := &recorder{}
	p := NewPoller(Config{Lister: func() ([]InterfaceAddr, error) {
		return nil, errors.New("netlink unavailable")
	}}, rec)

	err := p.Poll()
	require.Error(t, err)
	require.Contains(t, err.Error(), "netlink unavailable")
	require.Empty(t, rec.snapshot())
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	addrs := []InterfaceAddr{{2, a1}}
	p := NewPoller(Config{Interval: 5 * time.Millisecond, Lister: staticLister(&addrs)}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// === LifetimeTracker ===

func TestLifetimeTracker_ForwardsAdded(t *testing.T) {
	rec := &recorder{}
	tr := NewLifetimeTracker(rec)

	ev := pvd.AddressEvent{Address: a1, InterfaceIndex: 2, Added: true, ValidLifetime: time.Hour}
	tr.OnAddressChange(ev)

	require.Equal(t, []pvd.AddressEvent{ev}, rec.snapshot())
	require.Equal(t, 1, tr.Tracked())
}

func TestLifetimeTracker_ExplicitRemovalForwardedOnce(t *testing.T) {
	rec := &recorder{}
	tr := NewLifetimeTracker(rec)

	tr.OnAddressChange(pvd.AddressEvent{Address: a1, InterfaceIndex: 2, Added: true})
	tr.OnAddressChange(pvd.AddressEvent{Address: a1, InterfaceIndex: 2})
	tr.Sweep()

	events := rec.snapshot()
	require.Len(t, events, 2)
	require.False(t, events[1].Added)
	require.Equal(t, a1, events[1].Address)
	require.Equal(t, 0, tr.Expired())
	require.Equal(t, 0, tr.Tracked())
}

func TestLifetimeTracker_UntrackedRemovalForwarded(t *testing.T) {
	rec := &recorder{}
	tr := NewLifetimeTracker(rec)

	tr.OnAddressChange(pvd.AddressEvent{Address: a2, InterfaceIndex: 4})

	require.Equal(t, []pvd.AddressEvent{{Address: a2, InterfaceIndex: 4}}, rec.snapshot())
}

func TestLifetimeTracker_ExpirySynthesisesRemoval(t *testing.T) {
	rec := &recorder{}
	tr := NewLifetimeTracker(rec)

	tr.OnAddressChange(pvd.AddressEvent{Address: a1, InterfaceIndex: 2, Added: true, ValidLifetime: time.Millisecond})
	tr.OnAddressChange(pvd.AddressEvent{Address: a2, InterfaceIndex: 2, Added: true})
	time.Sleep(5 * time.Millisecond)

	tr.Sweep()

	events := rec.snapshot()
	require.Len(t, events, 3)
	require.Equal(t, pvd.AddressEvent{Address: a1, InterfaceIndex: 2}, events[2])
	require.Equal(t, 1, tr.Expired())
	require.Equal(t, 1, tr.Tracked())

	// The address is no longer tracked, so a late explicit removal passes through.
	tr.OnAddressChange(pvd.AddressEvent{Address: a1, InterfaceIndex: 2})
	require.Len(t, rec.snapshot(), 4)
}

func TestLifetimeTracker_LifetimeRefresh(t *testing.T) {
	rec := &recorder{}
	tr := NewLifetimeTracker(rec)

	tr.OnAddressChange(pvd.AddressEvent{Address: a1, Added: true, ValidLifetime: time.Millisecond})
	tr.OnAddressChange(pvd.AddressEvent{Address: a1, Added: true, ValidLifetime: time.Hour})
	time.Sleep(5 * time.Millisecond)
	tr.Sweep()

	require.Len(t, rec.snapshot(), 2, "refreshed lease must not expire")
	require.Equal(t, 0, tr.Expired())
}

func TestLifetimeTracker_InvalidAddressDropped(t *testing.T) {
	rec := &recorder{}
	tr := NewLifetimeTracker(rec)

	tr.OnAddressChange(pvd.AddressEvent{Added: true})
	require.Empty(t, rec.snapshot())
}

func TestLifetimeTracker_DrivesRegistryEviction(t *testing.T) {
	reg := pvd.NewRegistry()
	_, _, err := reg.Upsert("net-a.example.")
	require.NoError(t, err)
	require.True(t, reg.Associate("net-a.example.", a1))

	tr := NewLifetimeTracker(reg)
	tr.OnAddressChange(pvd.AddressEvent{Address: a1, Added: true, ValidLifetime: time.Millisecond})
	time.Sleep(5 * time.Millisecond)
	tr.Sweep()

	_, ok := reg.Find("net-a.example.")
	require.False(t, ok, "expired sole address evicts the associated PvD")
}
