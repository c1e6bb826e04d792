package provisioning

import "errors"

// Provisioning errors
var (
	ErrInvalidIdentity    = errors.New("invalid pvd identity")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrDuplicateAttribute = errors.New("duplicate attribute key")
	ErrDuplicateIdentity  = errors.New("pvd declared more than once")
	ErrUnsupportedFormat  = errors.New("unsupported declaration format")
)
