package pvd

import (
	"net/netip"
	"slices"
)

var _ AddressChangeHandler = (*Registry)(nil)

// OnAddressChange applies an address-change event. It is the entry point the
// host context registers with its address monitor.
func (r *Registry) OnAddressChange(ev AddressEvent) {
	r.ApplyAddressChange(ev)
}

// ApplyAddressChange applies ev and returns the identities of the records it
// evicted, in creation order. Events with an invalid address are ignored.
func (r *Registry) ApplyAddressChange(ev AddressEvent) []Identity {
	if !ev.Address.IsValid() {
		return nil
	}
	addr := ev.Address.Unmap()

	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Added {
		r.addresses[addr] = AddressState{
			Address:           addr,
			InterfaceIndex:    ev.InterfaceIndex,
			PreferredLifetime: ev.PreferredLifetime,
			ValidLifetime:     ev.ValidLifetime,
		}
		return nil
	}

	delete(r.addresses, addr)

	var evicted []Identity
	for _, id := range slices.Clone(r.order) {
		bound, ok := r.bindings[id]
		if !ok {
			continue
		}
		if _, ok := bound[addr]; !ok {
			continue
		}
		if len(bound) == 1 && r.evictOnRemoval {
			r.removeLocked(id)
			evicted = append(evicted, id)
			continue
		}
		delete(bound, addr)
		if len(bound) == 0 {
			delete(r.bindings, id)
		}
	}
	return evicted
}

// Associate records that the PvD id is reachable through addr. Removing the
// last associated address of a record evicts it. It reports false if the
// record does not exist.
func (r *Registry) Associate(id Identity, addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return false
	}
	bound, ok := r.bindings[id]
	if !ok {
		bound = make(map[netip.Addr]struct{})
		r.bindings[id] = bound
	}
	bound[addr.Unmap()] = struct{}{}
	return true
}

// Dissociate drops the association between id and addr without evicting.
func (r *Registry) Dissociate(id Identity, addr netip.Addr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	bound, ok := r.bindings[id]
	if !ok {
		return false
	}
	addr = addr.Unmap()
	if _, ok := bound[addr]; !ok {
		return false
	}
	delete(bound, addr)
	if len(bound) == 0 {
		delete(r.bindings, id)
	}
	return true
}

// Associations returns the addresses associated with id, sorted.
func (r *Registry) Associations(id Identity) []netip.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.associationsLocked(id)
	if out == nil {
		return []netip.Addr{}
	}
	return out
}

// associationsLocked returns the sorted associations of id, or nil if none.
func (r *Registry) associationsLocked(id Identity) []netip.Addr {
	bound := r.bindings[id]
	if len(bound) == 0 {
		return nil
	}
	out := make([]netip.Addr, 0, len(bound))
	for addr := range bound {
		out = append(out, addr)
	}
	slices.SortFunc(out, netip.Addr.Compare)
	return out
}

// Address returns the liveness state of addr.
func (r *Registry) Address(addr netip.Addr) (AddressState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.addresses[addr.Unmap()]
	return st, ok
}

// Addresses returns the liveness table sorted by address.
func (r *Registry) Addresses() []AddressState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AddressState, 0, len(r.addresses))
	for _, st := range r.addresses {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b AddressState) int { return a.Address.Compare(b.Address) })
	return out
}
