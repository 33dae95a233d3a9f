package schema

import (
	"fmt"

	"github.com/linkedin/goavro/v2"
)

// Descriptor is a compiled Avro schema. It is immutable and safe for
// concurrent use.
type Descriptor struct {
	ID         string
	Definition string

	codec *goavro.Codec
}

// Compile parses an Avro schema definition (JSON).
func Compile(id, definition string) (*Descriptor, error) {
	codec, err := goavro.NewCodec(definition)
	if err != nil {
		return nil, &Error{SchemaID: id, Err: fmt.Errorf("%w: %v", ErrInvalidSchema, err)}
	}
	return &Descriptor{ID: id, Definition: definition, codec: codec}, nil
}

// Decode turns an Avro binary payload into its native record form.
func (d *Descriptor) Decode(payload []byte) (map[string]any, error) {
	native, rest, err := d.codec.NativeFromBinary(payload)
	if err != nil {
		return nil, &Error{SchemaID: d.ID, Err: fmt.Errorf("%w: %v", ErrDecode, err)}
	}
	if len(rest) > 0 {
		return nil, &Error{SchemaID: d.ID, Err: fmt.Errorf("%w: %d trailing bytes", ErrDecode, len(rest))}
	}

	record, ok := native.(map[string]any)
	if !ok {
		return nil, &Error{SchemaID: d.ID, Err: fmt.Errorf("%w: top-level type %T is not a record", ErrDecode, native)}
	}
	return record, nil
}

// Encode produces the Avro binary form of a record. Union fields take the
// goavro.Union representation.
func (d *Descriptor) Encode(record map[string]any) ([]byte, error) {
	b, err := d.codec.BinaryFromNative(nil, record)
	if err != nil {
		return nil, &Error{SchemaID: d.ID, Err: fmt.Errorf("%w: %v", ErrDecode, err)}
	}
	return b, nil
}

// Canonical returns the Parsing Canonical Form of the definition.
func (d *Descriptor) Canonical() string { return d.codec.CanonicalSchema() }
