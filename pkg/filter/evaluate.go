package filter

import (
	"context"
	"fmt"
	"reflect"

	"github.com/nainya/recordindex/pkg/schema"
	"github.com/nainya/recordindex/pkg/virtualfield"
)

// Env supplies field resolution for evaluation
type Env struct {
	Fields *virtualfield.Registry
	Types  schema.TypeManager
}

// Evaluate reports whether rec passes f. A nil filter passes everything.
func Evaluate(ctx context.Context, f Filter, rec *schema.Record, env Env) (bool, error) {
	switch x := f.(type) {
	case nil:
		return true, nil
	case *FieldValueFilter:
		var v any
		if env.Fields != nil {
			var err error
			if v, err = env.Fields.EvaluateOrFallback(ctx, rec, x.Field, env.Types); err != nil {
				return false, err
			}
		} else {
			v, _ = rec.Field(x.Field)
		}
		if v == nil {
			return !x.FilterIfMissing, nil
		}
		eq := valuesEqual(v, x.Value)
		if x.Op == OpNotEqual {
			return !eq, nil
		}
		return eq, nil
	case *RecordTypeFilter:
		if rec.RecordTypeName != x.Name {
			return false, nil
		}
		return x.Version == 0 || rec.RecordTypeVersion == x.Version, nil
	case *RecordIDPrefixFilter:
		return rec.ID.HasPrefix(x.Prefix), nil
	case *List:
		for _, c := range x.Filters {
			ok, err := Evaluate(ctx, c, rec, env)
			if err != nil {
				return false, err
			}
			if x.Operator == MustPassOne && ok {
				return true, nil
			}
			if x.Operator != MustPassOne && !ok {
				return false, nil
			}
		}
		return x.Operator != MustPassOne, nil
	default:
		return false, fmt.Errorf("evaluate filter: unsupported node %T", f)
	}
}

func valuesEqual(a, b any) bool {
	a, b = canonical(a), canonical(b)
	as, aList := a.([]any)
	bs, bList := b.([]any)
	if aList || bList {
		if !aList || !bList || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !valuesEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// canonical widens integers to int64, whole floats to int64, and typed slices to []any
func canonical(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []int64:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out
	default:
		return v
	}
}
