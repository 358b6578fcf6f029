// ABOUTME: Schema data model: qualified names, value types, field types, record types, records
// ABOUTME: Record types are versioned and list their direct mixins by id and version

package schema

import (
	"fmt"
	"strings"

	"github.com/nainya/recordindex/pkg/ids"
)

// QName is a namespace-qualified name
type QName struct {
	Namespace string
	Name      string
}

// NewQName creates a qualified name
func NewQName(namespace, name string) QName {
	return QName{Namespace: namespace, Name: name}
}

// String returns the expanded form {namespace}name
func (q QName) String() string {
	return "{" + q.Namespace + "}" + q.Name
}

// IsZero reports whether q has neither namespace nor name
func (q QName) IsZero() bool {
	return q.Namespace == "" && q.Name == ""
}

// ParseQName parses the expanded form {namespace}name
func ParseQName(s string) (QName, error) {
	if !strings.HasPrefix(s, "{") {
		return QName{}, fmt.Errorf("qualified name %q does not start with {", s)
	}
	end := strings.IndexByte(s, '}')
	if end < 0 {
		return QName{}, fmt.Errorf("qualified name %q has no closing }", s)
	}
	if end == len(s)-1 {
		return QName{}, fmt.Errorf("qualified name %q has an empty local name", s)
	}
	return QName{Namespace: s[1:end], Name: s[end+1:]}, nil
}

// MarshalText lets qualified names serve as JSON object keys
func (q QName) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText parses the expanded form
func (q *QName) UnmarshalText(text []byte) error {
	parsed, err := ParseQName(string(text))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// Primitive value type names
const (
	PrimitiveString  = "STRING"
	PrimitiveLong    = "LONG"
	PrimitiveBoolean = "BOOLEAN"
)

// ValueType describes the values a field holds
type ValueType struct {
	Primitive string `json:"primitive"`
	Multi     bool   `json:"multi,omitempty"`
}

func (v ValueType) String() string {
	if v.Multi {
		return "LIST<" + v.Primitive + ">"
	}
	return v.Primitive
}

// FieldType is a named, typed field definition
type FieldType struct {
	ID        ids.SchemaID `json:"id"`
	Name      QName        `json:"name"`
	ValueType ValueType    `json:"valueType"`
}

// MixinRef points at one version of a mixin record type
type MixinRef struct {
	ID      ids.SchemaID `json:"id"`
	Version int64        `json:"version"`
}

// RecordType is one version of a record type definition
type RecordType struct {
	ID      ids.SchemaID   `json:"id"`
	Name    QName          `json:"name"`
	Version int64          `json:"version"`
	Fields  []ids.SchemaID `json:"fields,omitempty"`
	Mixins  []MixinRef     `json:"mixins,omitempty"` // direct mixins in declaration order
}

// Record is a stored record with its declared type and field values.
// Version 0 means the record is unversioned.
type Record struct {
	ID                ids.RecordID  `json:"-"`
	Version           int64         `json:"version"`
	RecordTypeName    QName         `json:"recordType"`
	RecordTypeVersion int64         `json:"recordTypeVersion"`
	Fields            map[QName]any `json:"fields,omitempty"`
}

// Field returns the stored value of name, if any
func (r *Record) Field(name QName) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// SetField stores a value
func (r *Record) SetField(name QName, value any) {
	if r.Fields == nil {
		r.Fields = make(map[QName]any)
	}
	r.Fields[name] = value
}

// Clone returns a copy with its own field map
func (r *Record) Clone() *Record {
	out := *r
	if r.Fields != nil {
		out.Fields = make(map[QName]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return &out
}
