// ABOUTME: Order-preserving encoding for composite keys
// ABOUTME: Table prefixes, type-tagged values, and prefix range helpers

package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Type tags of encoded values. Tags are below 0xFF so PrefixEnd of any value is finite.
const (
	TYPE_BYTES  = 1
	TYPE_INT64  = 2
	TYPE_UINT64 = 3
)

// PREFIX_SIZE is the width of the big-endian table prefix written by EncodeKey
const PREFIX_SIZE = 4

// ErrBadKey is returned when an encoded key cannot be decoded
var ErrBadKey = errors.New("storage: malformed key")

// Value is one component of a composite key. Type selects the populated field.
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	U64  uint64
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewInt64Value creates an int64 value
func NewInt64Value(i int64) Value {
	return Value{Type: TYPE_INT64, I64: i}
}

// NewUint64Value creates a uint64 value
func NewUint64Value(u uint64) Value {
	return Value{Type: TYPE_UINT64, U64: u}
}

func (v Value) String() string {
	switch v.Type {
	case TYPE_BYTES:
		return fmt.Sprintf("%q", v.Str)
	case TYPE_INT64:
		return fmt.Sprint(v.I64)
	case TYPE_UINT64:
		return fmt.Sprint(v.U64)
	}
	return fmt.Sprintf("<type %d>", v.Type)
}

// EncodeValues appends the encodings of vals so that byte order matches value order.
//
//	bytes:  tag, escaped bytes, 0x00
//	int64:  tag, big-endian with the sign bit flipped
//	uint64: tag, big-endian
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 16*len(vals))
	for _, v := range vals {
		out = append(out, v.Type)
		switch v.Type {
		case TYPE_BYTES:
			out = appendEscaped(out, v.Str)
			out = append(out, 0x00)
		case TYPE_INT64:
			out = binary.BigEndian.AppendUint64(out, uint64(v.I64)^(1<<63))
		case TYPE_UINT64:
			out = binary.BigEndian.AppendUint64(out, v.U64)
		default:
			panic(fmt.Sprintf("storage: cannot encode value type %d", v.Type))
		}
	}
	return out
}

// appendEscaped writes 0x00 as 01 01 and 0x01 as 01 02 so the terminator stays unique
func appendEscaped(out []byte, s []byte) []byte {
	for _, b := range s {
		if b > 0x01 {
			out = append(out, b)
		} else {
			out = append(out, 0x01, b+1)
		}
	}
	return out
}

func unescape(s []byte) ([]byte, error) {
	if bytes.IndexByte(s, 0x01) < 0 {
		return append([]byte{}, s...), nil
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != 0x01 {
			out = append(out, s[i])
			continue
		}
		i++
		if i == len(s) || (s[i] != 0x01 && s[i] != 0x02) {
			return nil, fmt.Errorf("%w: bad escape at byte %d", ErrBadKey, i-1)
		}
		out = append(out, s[i]-1)
	}
	return out, nil
}

// DecodeValues reverses EncodeValues
func DecodeValues(data []byte) ([]Value, error) {
	var vals []Value
	for pos := 0; pos < len(data); {
		tag := data[pos]
		body := data[pos+1:]

		switch tag {
		case TYPE_INT64, TYPE_UINT64:
			if len(body) < 8 {
				return nil, fmt.Errorf("%w: truncated integer at byte %d", ErrBadKey, pos)
			}
			u := binary.BigEndian.Uint64(body)
			if tag == TYPE_INT64 {
				vals = append(vals, NewInt64Value(int64(u^(1<<63))))
			} else {
				vals = append(vals, NewUint64Value(u))
			}
			pos += 1 + 8

		case TYPE_BYTES:
			end := bytes.IndexByte(body, 0x00)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated bytes at byte %d", ErrBadKey, pos)
			}
			str, err := unescape(body[:end])
			if err != nil {
				return nil, err
			}
			vals = append(vals, NewBytesValue(str))
			pos += 1 + end + 1

		default:
			return nil, fmt.Errorf("%w: unknown type %d at byte %d", ErrBadKey, tag, pos)
		}
	}
	return vals, nil
}

// EncodeKey writes the table prefix followed by the encoded values
func EncodeKey(prefix uint32, vals []Value) []byte {
	out := make([]byte, PREFIX_SIZE, PREFIX_SIZE+16*len(vals))
	binary.BigEndian.PutUint32(out, prefix)
	return append(out, EncodeValues(vals)...)
}

// ExtractPrefix returns the table prefix of key, or 0 for a short key
func ExtractPrefix(key []byte) uint32 {
	if len(key) < PREFIX_SIZE {
		return 0
	}
	return binary.BigEndian.Uint32(key)
}

// ExtractValues decodes the values following the table prefix
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < PREFIX_SIZE {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a table prefix", ErrBadKey, len(key))
	}
	return DecodeValues(key[PREFIX_SIZE:])
}

// PrefixEnd returns the smallest key greater than every key starting with prefix,
// or nil when prefix is all 0xFF.
func PrefixEnd(prefix []byte) []byte {
	i := len(prefix) - 1
	for i >= 0 && prefix[i] == 0xFF {
		i--
	}
	if i < 0 {
		return nil
	}
	end := append([]byte{}, prefix[:i+1]...)
	end[i]++
	return end
}
