package pvd

// Record is an identified, ordered collection of attributes describing one
// provisioning domain.
//
// Records handed out by a Registry are copies. Mutating one only affects the
// copy; use Registry.SetAttribute or Registry.Update to change registry state.
type Record struct {
	id    Identity
	attrs attributeSet
}

// NewRecord creates an empty record bound to id.
// Uniqueness of id is enforced by the Registry, not by the record.
func NewRecord(id Identity) *Record {
	return &Record{
		id:    id,
		attrs: newAttributeSet(),
	}
}

// ID returns the record identity.
func (r *Record) ID() Identity {
	return r.id
}

// SetAttribute sets key to value. An existing key keeps its position.
func (r *Record) SetAttribute(key, value string) error {
	return r.attrs.set(key, value)
}

// GetAttribute returns the current value of key.
func (r *Record) GetAttribute(key string) (string, bool) {
	return r.attrs.get(key)
}

// RemoveAttribute deletes key. It reports false if the key was absent.
func (r *Record) RemoveAttribute(key string) bool {
	return r.attrs.remove(key)
}

// Attributes returns the attributes in insertion order.
func (r *Record) Attributes() []Attribute {
	return r.attrs.snapshot()
}

// Len returns the number of attributes.
func (r *Record) Len() int {
	return r.attrs.len()
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	return &Record{
		id:    r.id,
		attrs: r.attrs.clone(),
	}
}

// destroy releases all attributes. Only the registry calls it.
func (r *Record) destroy() {
	r.attrs.clear()
}
