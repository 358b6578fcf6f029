// ABOUTME: Immutable registry of virtual fields keyed by qualified name and stable id
// ABOUTME: Built once per provider; every lookup after the build is a plain map read

package virtualfield

import (
	"context"

	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/schema"
)

// Registry resolves and evaluates virtual fields
type Registry struct {
	fields []*Field
	byName map[schema.QName]*Field
	byID   map[ids.SchemaID]*Field
}

// Build derives ids and interns value types for every declared field.
// Any failure aborts the whole build.
func Build(ctx context.Context, tm schema.TypeManager, gen *ids.Generator) (*Registry, error) {
	r := &Registry{
		fields: make([]*Field, 0, len(declarations)),
		byName: make(map[schema.QName]*Field, len(declarations)),
		byID:   make(map[ids.SchemaID]*Field, len(declarations)),
	}

	for _, d := range declarations {
		if err := ctx.Err(); err != nil {
			return nil, &InitError{Field: d.name, cause: err}
		}

		name := schema.NewQName(Namespace, d.name)
		vt, err := tm.ValueType(d.primitive, d.multi)
		if err != nil {
			return nil, &InitError{Field: d.name, cause: err}
		}

		f := &Field{
			Kind: d.kind,
			Type: schema.FieldType{
				ID:        gen.SchemaID(deriveUUID(name)),
				Name:      name,
				ValueType: vt,
			},
		}
		r.fields = append(r.fields, f)
		r.byName[name] = f
		r.byID[f.Type.ID] = f
	}
	return r, nil
}

// IsVirtual reports whether name is a virtual field
func (r *Registry) IsVirtual(name schema.QName) bool {
	_, ok := r.byName[name]
	return ok
}

// IsVirtualID reports whether id is the stable id of a virtual field
func (r *Registry) IsVirtualID(id ids.SchemaID) bool {
	_, ok := r.byID[id]
	return ok
}

// Field resolves a virtual field by name
func (r *Registry) Field(name schema.QName) (*Field, error) {
	f, ok := r.byName[name]
	if !ok {
		return nil, &schema.FieldTypeNotFoundError{Name: name}
	}
	return f, nil
}

// FieldByID resolves a virtual field by stable id
func (r *Registry) FieldByID(id ids.SchemaID) (*Field, error) {
	f, ok := r.byID[id]
	if !ok {
		return nil, &schema.FieldTypeNotFoundError{ID: id}
	}
	return f, nil
}

// Fields returns all virtual fields in declaration order
func (r *Registry) Fields() []*Field {
	out := make([]*Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Len is the number of registered fields
func (r *Registry) Len() int {
	return len(r.fields)
}
