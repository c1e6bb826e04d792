package pvd

import (
	"net/netip"
	"time"
)

// AddressEvent reports that a source address on some interface was added,
// removed, or had its lifetimes changed. A lifetime change is delivered as
// an Added event for an address that is already known.
type AddressEvent struct {
	Address           netip.Addr
	InterfaceIndex    int
	Added             bool
	PreferredLifetime time.Duration // zero means infinite
	ValidLifetime     time.Duration // zero means infinite
}

// AddressChangeHandler receives address-change events from the host's
// address monitor. Events must be delivered in the order they were observed.
type AddressChangeHandler interface {
	OnAddressChange(ev AddressEvent)
}

// AddressState is the liveness information the registry keeps per address.
type AddressState struct {
	Address           netip.Addr
	InterfaceIndex    int
	PreferredLifetime time.Duration
	ValidLifetime     time.Duration
}

