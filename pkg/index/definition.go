// ABOUTME: Secondary index definitions with fixed-length index keys
// ABOUTME: A row key is the index key followed by the target record key

package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/nainya/recordindex/pkg/storage"
)

// ErrInvalidDefinition is returned for unusable index definitions
var ErrInvalidDefinition = errors.New("invalid index definition")

// ErrInvalidValue is returned when index values do not fit the definition
var ErrInvalidValue = errors.New("invalid index value")

// FieldKind is the encoding of one indexed field
type FieldKind int

const (
	// String values are NUL-padded to the field width
	String FieldKind = iota
	// Long values are 8-byte big-endian with the sign bit flipped
	Long
)

func (k FieldKind) String() string {
	switch k {
	case String:
		return "string"
	case Long:
		return "long"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

const longWidth = 8

// FieldDef is one indexed field
type FieldDef struct {
	Name  string    `json:"name"`
	Kind  FieldKind `json:"kind"`
	Width int       `json:"width,omitempty"` // bytes reserved for String fields
}

func (f FieldDef) width() int {
	if f.Kind == Long {
		return longWidth
	}
	return f.Width
}

// Definition describes a secondary index stored under its own table prefix
type Definition struct {
	Name   string     `json:"name"`
	Prefix uint32     `json:"prefix"`
	Fields []FieldDef `json:"fields"`
}

// Validate checks that every field has a usable encoding
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("%w: %s has no fields", ErrInvalidDefinition, d.Name)
	}
	for _, f := range d.Fields {
		switch f.Kind {
		case String:
			if f.Width <= 0 {
				return fmt.Errorf("%w: %s.%s needs a positive width", ErrInvalidDefinition, d.Name, f.Name)
			}
		case Long:
		default:
			return fmt.Errorf("%w: %s.%s has unknown kind %d", ErrInvalidDefinition, d.Name, f.Name, f.Kind)
		}
	}
	return nil
}

// KeyLength is the length of every index key of this definition.
// Rows do not record it; readers must know it.
func (d *Definition) KeyLength() int {
	n := storage.PREFIX_SIZE
	for _, f := range d.Fields {
		n += f.width()
	}
	return n
}

// EncodeKey builds the index key for one value per field.
// Strings accept string or []byte; longs accept any integer type.
func (d *Definition) EncodeKey(values ...any) ([]byte, error) {
	if len(values) != len(d.Fields) {
		return nil, fmt.Errorf("%w: %s takes %d values, got %d", ErrInvalidValue, d.Name, len(d.Fields), len(values))
	}

	out := binary.BigEndian.AppendUint32(make([]byte, 0, d.KeyLength()), d.Prefix)
	for i, f := range d.Fields {
		var err error
		switch f.Kind {
		case String:
			out, err = appendString(out, f, values[i])
		case Long:
			out, err = appendLong(out, f, values[i])
		default:
			err = fmt.Errorf("%w: %s has unknown kind %d", ErrInvalidDefinition, f.Name, f.Kind)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendString(out []byte, f FieldDef, v any) ([]byte, error) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return nil, fmt.Errorf("%w: %s wants a string, got %T", ErrInvalidValue, f.Name, v)
	}
	if len(s) > f.Width {
		return nil, fmt.Errorf("%w: %s is %d bytes, width is %d", ErrInvalidValue, f.Name, len(s), f.Width)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return nil, fmt.Errorf("%w: %s contains NUL", ErrInvalidValue, f.Name)
	}
	out = append(out, s...)
	for i := len(s); i < f.Width; i++ {
		out = append(out, 0)
	}
	return out, nil
}

func appendLong(out []byte, f FieldDef, v any) ([]byte, error) {
	var n int64
	switch x := v.(type) {
	case int64:
		n = x
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	default:
		return nil, fmt.Errorf("%w: %s wants an integer, got %T", ErrInvalidValue, f.Name, v)
	}
	return binary.BigEndian.AppendUint64(out, uint64(n)^(1<<63)), nil
}

// MarshalText encodes the kind by name
func (k FieldKind) MarshalText() ([]byte, error) {
	switch k {
	case String, Long:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidDefinition, int(k))
	}
}

// UnmarshalText accepts the names produced by MarshalText
func (k *FieldKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "string":
		*k = String
	case "long":
		*k = Long
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDefinition, text)
	}
	return nil
}

// RowKey concatenates an index key and a target key
func (d *Definition) RowKey(indexKey, target []byte) ([]byte, error) {
	if len(indexKey) != d.KeyLength() {
		return nil, fmt.Errorf("%w: index key of %s is %d bytes, want %d", ErrInvalidValue, d.Name, len(indexKey), d.KeyLength())
	}
	out := make([]byte, 0, len(indexKey)+len(target))
	out = append(out, indexKey...)
	return append(out, target...), nil
}
