package pvd

// Identity is the immutable handle of a Record within a Registry.
// The registry treats it as opaque; callers that own the mapping from
// network attachments to PvDs are responsible for choosing it consistently.
type Identity string

// String returns the identity as a plain string.
func (id Identity) String() string {
	return string(id)
}

// IsValid reports whether the identity can name a record.
func (id Identity) IsValid() bool {
	return id != ""
}
