package schema

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/sfpubsub/internal/common"
)

var (
	ErrSchemaNotFound = errors.New("schema not found")
	ErrDecode         = errors.New("payload does not match schema")
	ErrInvalidSchema  = errors.New("invalid schema definition")
	ErrClosed         = fmt.Errorf("schema cache %w", common.ErrClosed)
)

// Error reports a failure tied to one schema id. Err is one of the
// package sentinels, optionally wrapping the underlying cause.
type Error struct {
	SchemaID string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("schema %s: %v", e.SchemaID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
