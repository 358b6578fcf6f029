// ABOUTME: Declared virtual fields exposing record metadata as addressable fields
// ABOUTME: Each field has a fixed kind, a value type, and a stable name-derived id

package virtualfield

import (
	"github.com/google/uuid"

	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/schema"
)

// Namespace holds every virtual field
const Namespace = "org.lilyproject.system"

// IDSpace is the name-based UUID namespace for virtual field ids.
// Changing it changes every derived id.
var IDSpace = uuid.MustParse("6f1c2a4e-9b3d-5e7a-8c10-2d4b6a8e0f31")

// Kind selects the evaluation branch of a virtual field
type Kind int

const (
	KindVersion Kind = iota
	KindRecordType
	KindRecordTypeName
	KindRecordTypeNamespace
	KindRecordTypeVersion
	KindRecordTypeWithVersion
	KindMixins
	KindMixinsWithVersion
	KindMixinNames
	KindMixinNamespaces
	KindRecordTypes
	KindRecordTypesWithVersion
	KindRecordTypeNames
	KindRecordTypeNamespaces
)

type declaration struct {
	kind      Kind
	name      string
	primitive string
	multi     bool
}

var declarations = []declaration{
	{KindVersion, "version", schema.PrimitiveLong, false},
	{KindRecordType, "recordType", schema.PrimitiveString, false},
	{KindRecordTypeName, "recordTypeName", schema.PrimitiveString, false},
	{KindRecordTypeNamespace, "recordTypeNamespace", schema.PrimitiveString, false},
	{KindRecordTypeVersion, "recordTypeVersion", schema.PrimitiveLong, false},
	{KindRecordTypeWithVersion, "recordTypeWithVersion", schema.PrimitiveString, false},
	{KindMixins, "mixins", schema.PrimitiveString, true},
	{KindMixinsWithVersion, "mixinsWithVersion", schema.PrimitiveString, true},
	{KindMixinNames, "mixinNames", schema.PrimitiveString, true},
	{KindMixinNamespaces, "mixinNamespaces", schema.PrimitiveString, true},
	{KindRecordTypes, "recordTypes", schema.PrimitiveString, true},
	{KindRecordTypesWithVersion, "recordTypesWithVersion", schema.PrimitiveString, true},
	{KindRecordTypeNames, "recordTypeNames", schema.PrimitiveString, true},
	{KindRecordTypeNamespaces, "recordTypeNamespaces", schema.PrimitiveString, true},
}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(declarations) {
		return "unknown"
	}
	return declarations[k].name
}

// Field is a built virtual field
type Field struct {
	Kind Kind
	Type schema.FieldType
}

// Name is the qualified name of the field
func (f *Field) Name() schema.QName { return f.Type.Name }

// ID is the stable id of the field
func (f *Field) ID() ids.SchemaID { return f.Type.ID }

// DeriveID returns the stable id for a qualified name: a version 5 UUID of
// {namespace}local in IDSpace. Ordinary schema ids are version 4.
func DeriveID(name schema.QName) ids.SchemaID {
	return ids.SchemaIDFromUUID(deriveUUID(name))
}

func deriveUUID(name schema.QName) uuid.UUID {
	return uuid.NewSHA1(IDSpace, []byte(name.String()))
}

// Names lists the qualified names of all declared virtual fields in declaration order
func Names() []schema.QName {
	out := make([]schema.QName, len(declarations))
	for i, d := range declarations {
		out[i] = schema.NewQName(Namespace, d.name)
	}
	return out
}
