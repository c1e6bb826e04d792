package pvd

import "iter"

// Provider defines read-only access to a PvD registry.
// Subsystems that only consult PvD metadata, such as connection setup,
// depend on this interface instead of *Registry.
type Provider interface {
	// Find returns a snapshot of the record for id.
	Find(id Identity) (*Record, bool)

	// GetAttribute returns the value of key on the record for id.
	GetAttribute(id Identity, key string) (string, bool)

	// All returns a restartable sequence over all records as of the call.
	All() iter.Seq2[Identity, []Attribute]

	// Len returns the number of records.
	Len() int
}

// Compile-time check that Registry implements Provider.
var _ Provider = (*Registry)(nil)
