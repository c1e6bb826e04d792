package monitor

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/zjrosen/pvdd/internal/log"
	"github.com/zjrosen/pvdd/internal/pvd"
)

// DefaultPollInterval is the default interval between address scans.
const DefaultPollInterval = 5 * time.Second

// InterfaceAddr is one address configured on an interface.
type InterfaceAddr struct {
	InterfaceIndex int
	Address        netip.Addr
}

// AddrLister returns the addresses currently configured on the host.
type AddrLister func() ([]InterfaceAddr, error)

// Config holds poller configuration options.
type Config struct {
	Interval time.Duration
	// IncludeLoopback also reports loopback addresses.
	IncludeLoopback bool
	// Lister overrides the system address source (tests).
	Lister AddrLister
}

// Poller detects address changes by diffing successive address scans.
type Poller struct {
	handler  pvd.AddressChangeHandler
	interval time.Duration
	loopback bool
	list     AddrLister
	known    map[netip.Addr]int
}

// NewPoller creates a poller delivering events to handler.
func NewPoller(cfg Config, handler pvd.AddressChangeHandler) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	list := cfg.Lister
	if list == nil {
		list = SystemAddrs
	}
	return &Poller{
		handler:  handler,
		interval: interval,
		loopback: cfg.IncludeLoopback,
		list:     list,
		known:    make(map[netip.Addr]int),
	}
}

// Poll scans once and delivers the differences from the previous scan:
// removals first, then additions, each sorted by address.
func (p *Poller) Poll() error {
	addrs, err := p.list()
	if err != nil {
		return fmt.Errorf("listing interface addresses: %w", err)
	}

	current := make(map[netip.Addr]int, len(addrs))
	for _, a := range addrs {
		if !a.Address.IsValid() {
			continue
		}
		addr := a.Address.Unmap()
		if addr.IsLoopback() && !p.loopback {
			continue
		}
		current[addr] = a.InterfaceIndex
	}

	// An address that moved to another interface is still configured, so it
	// is reported as added with its new index and never as removed.
	var removed, added []netip.Addr
	for addr := range p.known {
		if _, ok := current[addr]; !ok {
			removed = append(removed, addr)
		}
	}
	for addr, idx := range current {
		if old, ok := p.known[addr]; !ok || old != idx {
			added = append(added, addr)
		}
	}
	slices.SortFunc(removed, netip.Addr.Compare)
	slices.SortFunc(added, netip.Addr.Compare)

	for _, addr := range removed {
		log.Debug(log.CatMonitor, "address removed", "address", addr, "ifindex", p.known[addr])
		p.handler.OnAddressChange(pvd.AddressEvent{Address: addr, InterfaceIndex: p.known[addr]})
	}
	for _, addr := range added {
		log.Debug(log.CatMonitor, "address added", "address", addr, "ifindex", current[addr])
		p.handler.OnAddressChange(pvd.AddressEvent{Address: addr, InterfaceIndex: current[addr], Added: true})
	}

	p.known = current
	return nil
}

// Run polls until ctx is cancelled. Scan errors are logged and retried on
// the next tick.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Poll(); err != nil {
		log.ErrorErr(log.CatMonitor, "initial address scan failed", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Poll(); err != nil {
				log.ErrorErr(log.CatMonitor, "address scan failed", err)
			}
		}
	}
}

// SystemAddrs lists unicast addresses of all interfaces that are up.
func SystemAddrs() ([]InterfaceAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []InterfaceAddr
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", ifc.Name, err)
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipnet.IP)
			if !ok {
				continue
			}
			out = append(out, InterfaceAddr{InterfaceIndex: ifc.Index, Address: addr.Unmap()})
		}
	}
	return out, nil
}
