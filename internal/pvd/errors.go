package pvd

import "errors"

// Registry errors
var (
	ErrInvalidKey      = errors.New("attribute key cannot be empty")
	ErrInvalidIdentity = errors.New("pvd identity cannot be empty")
	ErrNotFound        = errors.New("pvd not found")
	ErrNilUpdate       = errors.New("update function cannot be nil")
)
