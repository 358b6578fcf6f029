// ABOUTME: Record filter predicate tree
// ABOUTME: A closed set of leaf and composite nodes with exhaustive evaluation

package filter

import (
	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/schema"
)

// Filter is one node of a predicate tree.
// The implementations in this package are the only node kinds.
type Filter interface {
	filterNode()
}

// CompareOp is the comparison of a FieldValueFilter
type CompareOp string

const (
	OpEqual    CompareOp = "EQUAL"
	OpNotEqual CompareOp = "NOT_EQUAL"
)

// Operator combines the children of a List
type Operator string

const (
	MustPassAll Operator = "MUST_PASS_ALL"
	MustPassOne Operator = "MUST_PASS_ONE"
)

// FieldValueFilter compares a field value, virtual fields included.
// With FilterIfMissing, records lacking the field are rejected; otherwise they pass.
type FieldValueFilter struct {
	Field           schema.QName
	Op              CompareOp
	Value           any
	FilterIfMissing bool
}

// RecordTypeFilter passes records of a record type, optionally of one version (0 means any)
type RecordTypeFilter struct {
	Name    schema.QName
	Version int64
}

// RecordIDPrefixFilter passes records whose id starts with Prefix
type RecordIDPrefixFilter struct {
	Prefix ids.RecordID
}

// List combines filters with MUST_PASS_ALL or MUST_PASS_ONE
type List struct {
	Operator Operator
	Filters  []Filter
}

func (*FieldValueFilter) filterNode()     {}
func (*RecordTypeFilter) filterNode()     {}
func (*RecordIDPrefixFilter) filterNode() {}
func (*List) filterNode()                 {}

// Wire discriminator values
const (
	ClassKey                  = "@class"
	ClassFieldValueFilter     = "FieldValueFilter"
	ClassRecordTypeFilter     = "RecordTypeFilter"
	ClassRecordIDPrefixFilter = "RecordIdPrefixFilter"
	ClassList                 = "RecordFilterList"
)
