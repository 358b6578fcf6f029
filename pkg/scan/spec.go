// ABOUTME: Record scan specification: bounds, filter, projection, and caching hints
// ABOUTME: Specs are immutable; changes go through a Builder

package scan

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/nainya/recordindex/pkg/filter"
	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/schema"
	"github.com/nainya/recordindex/pkg/storage"
)

// ErrInvalidSpec is returned by Build for unusable settings
var ErrInvalidSpec = errors.New("invalid record scan")

// Bound is one end of a scan range: a logical record id, raw key bytes, or unset.
// At most one form is held; setting raw bytes replaces a logical id and vice versa.
type Bound struct {
	id     ids.RecordID
	raw    []byte
	hasID  bool
	hasRaw bool
}

// LogicalBound bounds a scan at a record id
func LogicalBound(id ids.RecordID) Bound {
	return Bound{id: id, hasID: true}
}

// RawBound bounds a scan at raw key bytes
func RawBound(b []byte) Bound {
	return Bound{raw: append([]byte{}, b...), hasRaw: true}
}

// IsSet reports whether the bound holds either form
func (b Bound) IsSet() bool { return b.hasID || b.hasRaw }

// ID returns the logical id, if that is the form held
func (b Bound) ID() (ids.RecordID, bool) { return b.id, b.hasID }

// Raw returns a copy of the raw bytes, if that is the form held
func (b Bound) Raw() ([]byte, bool) {
	if !b.hasRaw {
		return nil, false
	}
	return append([]byte{}, b.raw...), true
}

// Bytes is the effective key of the bound, nil when unset
func (b Bound) Bytes() []byte {
	switch {
	case b.hasRaw:
		return append([]byte{}, b.raw...)
	case b.hasID:
		return b.id.Bytes()
	default:
		return nil
	}
}

// Equal compares two bounds including their form
func (b Bound) Equal(other Bound) bool {
	if b.hasRaw != other.hasRaw || b.hasID != other.hasID {
		return false
	}
	if b.hasRaw {
		return bytes.Equal(b.raw, other.raw)
	}
	return !b.hasID || b.id.Equal(other.id)
}

func (b Bound) String() string {
	switch {
	case b.hasRaw:
		return fmt.Sprintf("raw:%x", b.raw)
	case b.hasID:
		return b.id.String()
	default:
		return "unbounded"
	}
}

// ReturnFieldsType selects a projection variant
type ReturnFieldsType string

const (
	ReturnAll  ReturnFieldsType = "ALL"
	ReturnNone ReturnFieldsType = "NONE"
	ReturnEnum ReturnFieldsType = "ENUM"
)

// ReturnFields is the projection of a scan. The zero value returns all fields.
type ReturnFields struct {
	typ    ReturnFieldsType
	fields []schema.QName
}

// AllFields returns every stored field
func AllFields() ReturnFields { return ReturnFields{typ: ReturnAll} }

// NoFields returns records without field values
func NoFields() ReturnFields { return ReturnFields{typ: ReturnNone} }

// EnumFields returns only the listed fields. Duplicates are kept and harmless.
func EnumFields(fields ...schema.QName) ReturnFields {
	return ReturnFields{typ: ReturnEnum, fields: append([]schema.QName{}, fields...)}
}

// Type is the projection variant
func (r ReturnFields) Type() ReturnFieldsType {
	if r.typ == "" {
		return ReturnAll
	}
	return r.typ
}

// Fields lists the fields of an ENUM projection
func (r ReturnFields) Fields() []schema.QName {
	return append([]schema.QName{}, r.fields...)
}

// Includes reports whether the projection returns name
func (r ReturnFields) Includes(name schema.QName) bool {
	switch r.Type() {
	case ReturnNone:
		return false
	case ReturnEnum:
		for _, f := range r.fields {
			if f == name {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// Spec is an immutable record scan
type Spec struct {
	start        Bound
	stop         Bound
	filter       filter.Filter
	returnFields ReturnFields
	caching      int
	cacheBlocks  bool
}

// StartID is the inclusive lower bound
func (s *Spec) StartID() Bound { return s.start }

// StopID is the exclusive upper bound
func (s *Spec) StopID() Bound { return s.stop }

// Filter is the root of the record filter, nil for none. Callers must not modify it.
func (s *Spec) Filter() filter.Filter { return s.filter }

// ReturnFields is the projection
func (s *Spec) ReturnFields() ReturnFields { return s.returnFields }

// Caching is the number of rows fetched per batch
func (s *Spec) Caching() int { return s.caching }

// CacheBlocks reports whether the scan reads through the block cache
func (s *Spec) CacheBlocks() bool { return s.cacheBlocks }

// ToBuilder returns a builder initialized from s
func (s *Spec) ToBuilder() *Builder {
	cp := *s
	return &Builder{spec: cp}
}

// Builder assembles a Spec. The zero Builder is not ready for use; call NewBuilder.
type Builder struct {
	spec Spec
}

// NewBuilder returns a builder holding the defaults: unbounded, no filter, all
// fields, storage.DefaultCaching rows per batch, block cache on
func NewBuilder() *Builder {
	return &Builder{spec: Spec{
		returnFields: AllFields(),
		caching:      storage.DefaultCaching,
		cacheBlocks:  true,
	}}
}

// StartID sets a logical lower bound
func (b *Builder) StartID(id ids.RecordID) *Builder {
	b.spec.start = LogicalBound(id)
	return b
}

// StopID sets a logical upper bound
func (b *Builder) StopID(id ids.RecordID) *Builder {
	b.spec.stop = LogicalBound(id)
	return b
}

// RawStart sets a raw lower bound, replacing any logical one
func (b *Builder) RawStart(key []byte) *Builder {
	b.spec.start = RawBound(key)
	return b
}

// RawStop sets a raw upper bound, replacing any logical one
func (b *Builder) RawStop(key []byte) *Builder {
	b.spec.stop = RawBound(key)
	return b
}

// Filter sets the record filter
func (b *Builder) Filter(f filter.Filter) *Builder {
	b.spec.filter = f
	return b
}

// ReturnFields sets the projection
func (b *Builder) ReturnFields(r ReturnFields) *Builder {
	b.spec.returnFields = r
	return b
}

// Caching sets the batch size
func (b *Builder) Caching(n int) *Builder {
	b.spec.caching = n
	return b
}

// CacheBlocks toggles the block cache
func (b *Builder) CacheBlocks(on bool) *Builder {
	b.spec.cacheBlocks = on
	return b
}

// Build validates and returns a new Spec. The builder may be reused afterwards.
func (b *Builder) Build() (*Spec, error) {
	if b.spec.caching < 1 {
		return nil, fmt.Errorf("%w: caching must be at least 1, got %d", ErrInvalidSpec, b.spec.caching)
	}
	out := b.spec
	out.returnFields = ReturnFields{typ: out.returnFields.Type(), fields: out.returnFields.Fields()}
	return &out, nil
}
