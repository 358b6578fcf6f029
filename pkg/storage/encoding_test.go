// ABOUTME: Tests for order-preserving key encoding
// ABOUTME: Ordering, escaping, and prefix range helpers

package storage

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeInt64Ordering(t *testing.T) {
	nums := []int64{-1 << 63, -1000, -1, 0, 1, 42, 1 << 40, 1<<63 - 1}

	var prev []byte
	for _, n := range nums {
		enc := EncodeValues([]Value{NewInt64Value(n)})
		if prev != nil && bytes.Compare(prev, enc) >= 0 {
			t.Errorf("Encoding of %d does not sort after its predecessor", n)
		}
		prev = enc
	}
}

func TestEncodeBytesOrdering(t *testing.T) {
	strs := []string{"", "a", "a\x00", "a\x00b", "ab", "b", "\xfe", "\xff"}

	var prev []byte
	for _, s := range strs {
		enc := EncodeValues([]Value{NewBytesValue([]byte(s))})
		if prev != nil && bytes.Compare(prev, enc) >= 0 {
			t.Errorf("Encoding of %q does not sort after its predecessor", s)
		}
		prev = enc
	}
}

func TestEncodeDecodeEscapes(t *testing.T) {
	vals := []Value{
		NewBytesValue([]byte("plain")),
		NewBytesValue([]byte{0x00, 0x01, 0x02, 0xFF, 0x01, 0x00}),
		NewInt64Value(-7),
		NewUint64Value(99),
		NewBytesValue(nil),
	}

	decoded, err := DecodeValues(EncodeValues(vals))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded) != len(vals) {
		t.Fatalf("Expected %d values, got %d", len(vals), len(decoded))
	}

	if !bytes.Equal(decoded[1].Str, vals[1].Str) {
		t.Errorf("Escaped bytes: expected %x, got %x", vals[1].Str, decoded[1].Str)
	}
	if decoded[2].I64 != -7 || decoded[3].U64 != 99 {
		t.Errorf("Numeric values mismatch: %+v", decoded)
	}
	if len(decoded[4].Str) != 0 {
		t.Errorf("Expected empty bytes, got %x", decoded[4].Str)
	}
}

func TestDecodeValuesErrors(t *testing.T) {
	cases := map[string][]byte{
		"unterminated": {TYPE_BYTES, 'a', 'b'},
		"short int":    {TYPE_INT64, 1, 2},
		"unknown type": {9},
		"bad escape":   {TYPE_BYTES, 0x01, 0x07, 0x00},
		"dangling esc": {TYPE_BYTES, 'a', 0x01, 0x00},
	}
	for name, data := range cases {
		if _, err := DecodeValues(data); !errors.Is(err, ErrBadKey) {
			t.Errorf("%s: expected ErrBadKey, got %v", name, err)
		}
	}
	if _, err := ExtractValues([]byte{1, 2}); !errors.Is(err, ErrBadKey) {
		t.Errorf("Short key: expected ErrBadKey, got %v", err)
	}
}

func TestEncodeKeyPrefix(t *testing.T) {
	key := EncodeKey(7, []Value{NewBytesValue([]byte("x"))})
	if ExtractPrefix(key) != 7 {
		t.Errorf("Expected prefix 7, got %d", ExtractPrefix(key))
	}
	vals, err := ExtractValues(key)
	if err != nil || len(vals) != 1 || string(vals[0].Str) != "x" {
		t.Errorf("Unexpected values %+v (err=%v)", vals, err)
	}
}

func TestPrefixEnd(t *testing.T) {
	if got := PrefixEnd([]byte{0x00, 0x01}); !bytes.Equal(got, []byte{0x00, 0x02}) {
		t.Errorf("Expected 0002, got %x", got)
	}
	if got := PrefixEnd([]byte{0x01, 0xFF}); !bytes.Equal(got, []byte{0x02}) {
		t.Errorf("Expected 02, got %x", got)
	}
	if got := PrefixEnd([]byte{0xFF, 0xFF}); got != nil {
		t.Errorf("Expected nil, got %x", got)
	}
}

func TestValueString(t *testing.T) {
	cases := map[string]Value{
		`"a\x00"`:  NewBytesValue([]byte("a\x00")),
		"-3":       NewInt64Value(-3),
		"12":       NewUint64Value(12),
		"<type 9>": {Type: 9},
	}
	for want, v := range cases {
		if got := v.String(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}
