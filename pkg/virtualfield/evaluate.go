// ABOUTME: Evaluation of virtual fields against a record and its type lineage
// ABOUTME: One dispatch over the field kind; mixin traversal covers direct mixins only

package virtualfield

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nainya/recordindex/pkg/schema"
)

// Evaluate computes field for rec. Type resolution errors are returned as is.
// Only KindVersion may yield nil, for unversioned records.
func (r *Registry) Evaluate(ctx context.Context, rec *schema.Record, field *Field, tm schema.TypeManager) (any, error) {
	if field == nil {
		return nil, fmt.Errorf("evaluate: nil field")
	}
	return evaluate(ctx, field.Kind, rec, tm)
}

// EvaluateOrFallback evaluates name when it is virtual, otherwise returns the stored
// value of name on rec. A missing stored value is nil, not an error.
func (r *Registry) EvaluateOrFallback(ctx context.Context, rec *schema.Record, name schema.QName, tm schema.TypeManager) (any, error) {
	if f, ok := r.byName[name]; ok {
		return evaluate(ctx, f.Kind, rec, tm)
	}
	v, _ := rec.Field(name)
	return v, nil
}

func evaluate(ctx context.Context, kind Kind, rec *schema.Record, tm schema.TypeManager) (any, error) {
	switch kind {
	case KindVersion:
		if rec.Version == 0 {
			return nil, nil
		}
		return rec.Version, nil
	case KindRecordType:
		return formatName(rec.RecordTypeName), nil
	case KindRecordTypeName:
		return rec.RecordTypeName.Name, nil
	case KindRecordTypeNamespace:
		return rec.RecordTypeName.Namespace, nil
	case KindRecordTypeVersion:
		return rec.RecordTypeVersion, nil
	case KindRecordTypeWithVersion:
		return formatNameVersion(rec.RecordTypeName, rec.RecordTypeVersion), nil
	case KindMixins, KindRecordTypes:
		return collect(ctx, rec, tm, kind == KindRecordTypes, func(rt *schema.RecordType) string {
			return formatName(rt.Name)
		})
	case KindMixinsWithVersion, KindRecordTypesWithVersion:
		return collect(ctx, rec, tm, kind == KindRecordTypesWithVersion, func(rt *schema.RecordType) string {
			return formatNameVersion(rt.Name, rt.Version)
		})
	case KindMixinNames, KindRecordTypeNames:
		return collect(ctx, rec, tm, kind == KindRecordTypeNames, func(rt *schema.RecordType) string {
			return rt.Name.Name
		})
	case KindMixinNamespaces, KindRecordTypeNamespaces:
		return collect(ctx, rec, tm, kind == KindRecordTypeNamespaces, func(rt *schema.RecordType) string {
			return rt.Name.Namespace
		})
	default:
		return nil, fmt.Errorf("evaluate: unknown virtual field kind %d", kind)
	}
}

// collect formats the record's type (when includeOwn) and each of its direct mixins,
// dropping repeats and keeping first-seen order
func collect(ctx context.Context, rec *schema.Record, tm schema.TypeManager, includeOwn bool, format func(*schema.RecordType) string) ([]string, error) {
	rt, err := tm.RecordTypeByName(ctx, rec.RecordTypeName, rec.RecordTypeVersion)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(rt.Mixins)+1)
	seen := make(map[string]struct{}, len(rt.Mixins)+1)
	add := func(s string) {
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if includeOwn {
		add(format(rt))
	}
	for _, ref := range rt.Mixins {
		mixin, err := tm.RecordTypeByID(ctx, ref.ID, ref.Version)
		if err != nil {
			return nil, err
		}
		add(format(mixin))
	}
	return out, nil
}

func formatName(name schema.QName) string {
	return name.String()
}

func formatNameVersion(name schema.QName, version int64) string {
	return name.String() + ":" + strconv.FormatInt(version, 10)
}
