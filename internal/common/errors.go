package common

import "errors"

// Sentinels shared by the transport and session layers. Package-level
// errors wrap or alias these so errors.Is works across layers.
var (
	ErrNotFound        = errors.New("not found")
	ErrClosed          = errors.New("closed")
	ErrInvalidArgument = errors.New("invalid argument")
)
