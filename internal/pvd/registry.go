package pvd

import (
	"iter"
	"net/netip"
	"slices"
	"sync"
)

// Registry holds every known PvD record of one host networking context.
// It is safe for concurrent use; each call runs under a single registry-wide lock.
type Registry struct {
	mu      sync.RWMutex
	records map[Identity]*Record
	order   []Identity

	// addresses is the liveness table fed by OnAddressChange.
	addresses map[netip.Addr]AddressState
	// bindings maps a record to the addresses an outside collaborator
	// associated with it.
	bindings map[Identity]map[netip.Addr]struct{}

	evictOnRemoval bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithEvictOnAddressRemoval controls whether removing the last associated
// address of a record evicts the record. Enabled by default.
func WithEvictOnAddressRemoval(enabled bool) Option {
	return func(r *Registry) {
		r.evictOnRemoval = enabled
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		records:        make(map[Identity]*Record),
		addresses:      make(map[netip.Addr]AddressState),
		bindings:       make(map[Identity]map[netip.Addr]struct{}),
		evictOnRemoval: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Find returns a snapshot of the record for id.
func (r *Registry) Find(id Identity) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Upsert returns a snapshot of the record for id, creating an empty record
// first if none exists. The created flag reports which case applied.
func (r *Registry) Upsert(id Identity) (rec *Record, created bool, err error) {
	if !id.IsValid() {
		return nil, false, ErrInvalidIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[id]
	if ok {
		return existing.Clone(), false, nil
	}
	fresh := NewRecord(id)
	r.records[id] = fresh
	r.order = append(r.order, id)
	return fresh.Clone(), true, nil
}

// Remove destroys the record for id together with its attributes and
// address associations. It reports false if no such record exists.
func (r *Registry) Remove(id Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Registry) removeLocked(id Identity) bool {
	rec, ok := r.records[id]
	if !ok {
		return false
	}
	rec.destroy()
	delete(r.records, id)
	delete(r.bindings, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return true
}

// SetAttribute sets key to value on the record for id.
func (r *Registry) SetAttribute(id Identity, key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	return rec.SetAttribute(key, value)
}

// GetAttribute returns the value of key on the record for id.
func (r *Registry) GetAttribute(id Identity, key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return "", false
	}
	return rec.GetAttribute(key)
}

// RemoveAttribute deletes key from the record for id. It reports false if
// the key was absent; removing from an unknown record returns ErrNotFound.
func (r *Registry) RemoveAttribute(id Identity, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false, ErrNotFound
	}
	return rec.RemoveAttribute(key), nil
}

// Update applies fn to a copy of the record for id and commits the copy only
// if fn returns nil, so a failing update leaves the record untouched.
func (r *Registry) Update(id Identity, fn func(*Record) error) error {
	if fn == nil {
		return ErrNilUpdate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	work := rec.Clone()
	if err := fn(work); err != nil {
		return err
	}
	r.records[id] = work
	return nil
}

// Put replaces the attributes of the record for id with attrs, in order,
// and its address associations with addrs, creating the record first if none
// exists. Both change under one lock. Nothing changes if any key is empty;
// invalid addresses are skipped. The created flag reports whether the record
// was new.
func (r *Registry) Put(id Identity, attrs []Attribute, addrs []netip.Addr) (created bool, err error) {
	if !id.IsValid() {
		return false, ErrInvalidIdentity
	}
	next := NewRecord(id)
	for _, a := range attrs {
		if err := next.SetAttribute(a.Key, a.Value); err != nil {
			return false, err
		}
	}
	var bound map[netip.Addr]struct{}
	for _, addr := range addrs {
		if !addr.IsValid() {
			continue
		}
		if bound == nil {
			bound = make(map[netip.Addr]struct{}, len(addrs))
		}
		bound[addr.Unmap()] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.records[id]; ok {
		old.destroy()
	} else {
		r.order = append(r.order, id)
		created = true
	}
	r.records[id] = next
	if bound != nil {
		r.bindings[id] = bound
	} else {
		delete(r.bindings, id)
	}
	return created, nil
}

// Entry is one element of a registry snapshot.
type Entry struct {
	Identity   Identity     `json:"identity"`
	Attributes []Attribute  `json:"attributes"`
	Addresses  []netip.Addr `json:"addresses,omitempty"`
}

// Snapshot returns every record with its associated addresses, in creation
// order, as of the call.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, Entry{
			Identity:   id,
			Attributes: r.records[id].Attributes(),
			Addresses:  r.associationsLocked(id),
		})
	}
	return entries
}

// All returns a lazy sequence over the records as of the call.
// The sequence is finite and can be ranged over more than once; later
// mutations are not reflected in it.
func (r *Registry) All() iter.Seq2[Identity, []Attribute] {
	entries := r.Snapshot()
	return func(yield func(Identity, []Attribute) bool) {
		for _, e := range entries {
			if !yield(e.Identity, slices.Clone(e.Attributes)) {
				return
			}
		}
	}
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Reset destroys every record and forgets all address state.
// It is called when the owning context shuts down.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		rec.destroy()
	}
	clear(r.records)
	clear(r.bindings)
	clear(r.addresses)
	r.order = nil
}
