// ABOUTME: JSON wire codec for filter trees
// ABOUTME: Nodes are objects tagged with @class; each node may carry its own namespaces

package filter

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/wire"
)

// Decode reads a filter node. ns is the enclosing namespace table and path names
// the node in error messages.
func Decode(node any, ns *wire.Namespaces, gen *ids.Generator, path string) (Filter, error) {
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, wire.KindError(path, node, wire.KindObject)
	}

	local, err := wire.NamespacesFromContext(obj, ns)
	if err != nil {
		return nil, err
	}

	class, present, err := wire.String(obj, ClassKey, wire.Path(path, ClassKey))
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, wire.Errorf(wire.Path(path, ClassKey), "missing filter class")
	}

	switch shortClass(class) {
	case ClassFieldValueFilter:
		return decodeFieldValue(obj, local, path)
	case ClassRecordTypeFilter:
		return decodeRecordType(obj, local, path)
	case ClassRecordIDPrefixFilter:
		return decodeRecordIDPrefix(obj, gen, path)
	case ClassList:
		return decodeList(obj, local, gen, path)
	default:
		return nil, wire.Errorf(wire.Path(path, ClassKey), "unknown filter class %q", class)
	}
}

// shortClass accepts both short and package-qualified class names
func shortClass(class string) string {
	if i := strings.LastIndexByte(class, '.'); i >= 0 {
		return class[i+1:]
	}
	return class
}

func decodeFieldValue(obj map[string]any, ns *wire.Namespaces, path string) (Filter, error) {
	f := &FieldValueFilter{Op: OpEqual, FilterIfMissing: true}

	name, ok, err := wire.String(obj, "field", wire.Path(path, "field"))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, wire.Errorf(wire.Path(path, "field"), "missing field name")
	}
	if f.Field, err = wire.ParseQName(name, ns, wire.Path(path, "field")); err != nil {
		return nil, err
	}

	raw, ok := wire.Member(obj, "fieldValue")
	if !ok {
		return nil, wire.Errorf(wire.Path(path, "fieldValue"), "missing field value")
	}
	if f.Value, err = normalizeValue(raw, wire.Path(path, "fieldValue")); err != nil {
		return nil, err
	}

	op, ok, err := wire.String(obj, "compareOp", wire.Path(path, "compareOp"))
	if err != nil {
		return nil, err
	}
	if ok {
		switch CompareOp(op) {
		case OpEqual, OpNotEqual:
			f.Op = CompareOp(op)
		default:
			return nil, wire.Errorf(wire.Path(path, "compareOp"), "unsupported compare operator %q", op)
		}
	}

	missing, ok, err := wire.Bool(obj, "filterIfMissing", wire.Path(path, "filterIfMissing"))
	if err != nil {
		return nil, err
	}
	if ok {
		f.FilterIfMissing = missing
	}
	return f, nil
}

func decodeRecordType(obj map[string]any, ns *wire.Namespaces, path string) (Filter, error) {
	name, ok, err := wire.String(obj, "recordType", wire.Path(path, "recordType"))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, wire.Errorf(wire.Path(path, "recordType"), "missing record type")
	}

	f := &RecordTypeFilter{}
	if f.Name, err = wire.ParseQName(name, ns, wire.Path(path, "recordType")); err != nil {
		return nil, err
	}

	version, ok, err := wire.Int(obj, "version", wire.Path(path, "version"))
	if err != nil {
		return nil, err
	}
	if ok {
		if version < 1 {
			return nil, wire.Errorf(wire.Path(path, "version"), "version must be at least 1, got %d", version)
		}
		f.Version = version
	}
	return f, nil
}

func decodeRecordIDPrefix(obj map[string]any, gen *ids.Generator, path string) (Filter, error) {
	s, ok, err := wire.String(obj, "recordId", wire.Path(path, "recordId"))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, wire.Errorf(wire.Path(path, "recordId"), "missing record id prefix")
	}
	id, err := gen.FromString(s)
	if err != nil {
		return nil, wire.Errorf(wire.Path(path, "recordId"), "%v", err)
	}
	return &RecordIDPrefixFilter{Prefix: id}, nil
}

func decodeList(obj map[string]any, ns *wire.Namespaces, gen *ids.Generator, path string) (Filter, error) {
	f := &List{Operator: MustPassAll}

	op, ok, err := wire.String(obj, "operator", wire.Path(path, "operator"))
	if err != nil {
		return nil, err
	}
	if ok {
		switch Operator(op) {
		case MustPassAll, MustPassOne:
			f.Operator = Operator(op)
		default:
			return nil, wire.Errorf(wire.Path(path, "operator"), "unsupported operator %q", op)
		}
	}

	children, _, err := wire.Array(obj, "filters", wire.Path(path, "filters"))
	if err != nil {
		return nil, err
	}
	for i, child := range children {
		c, err := Decode(child, ns, gen, wire.Index(wire.Path(path, "filters"), i))
		if err != nil {
			return nil, err
		}
		f.Filters = append(f.Filters, c)
	}
	return f, nil
}

// normalizeValue turns wire numbers into int64 or float64 and checks nested arrays
func normalizeValue(v any, path string) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, wire.Errorf(path, "invalid number %s", x.String())
		}
		return f, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := normalizeValue(e, wire.Index(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case string, bool, int64, float64:
		return x, nil
	case nil:
		return nil, wire.KindError(path, v, "a value")
	default:
		return nil, wire.KindError(path, v, "a string, number, boolean or array")
	}
}

// Encode writes f as a wire node. With a non-nil ns, qualified names are written as
// prefix:local and ns collects the prefixes used.
func Encode(f Filter, ns *wire.Namespaces) (map[string]any, error) {
	switch x := f.(type) {
	case *FieldValueFilter:
		return map[string]any{
			ClassKey:          ClassFieldValueFilter,
			"field":           wire.FormatQName(x.Field, ns),
			"fieldValue":      x.Value,
			"compareOp":       string(x.Op),
			"filterIfMissing": x.FilterIfMissing,
		}, nil
	case *RecordTypeFilter:
		out := map[string]any{
			ClassKey:     ClassRecordTypeFilter,
			"recordType": wire.FormatQName(x.Name, ns),
		}
		if x.Version > 0 {
			out["version"] = x.Version
		}
		return out, nil
	case *RecordIDPrefixFilter:
		return map[string]any{
			ClassKey:   ClassRecordIDPrefixFilter,
			"recordId": x.Prefix.String(),
		}, nil
	case *List:
		children := make([]any, 0, len(x.Filters))
		for _, c := range x.Filters {
			node, err := Encode(c, ns)
			if err != nil {
				return nil, err
			}
			children = append(children, node)
		}
		return map[string]any{
			ClassKey:   ClassList,
			"operator": string(x.Operator),
			"filters":  children,
		}, nil
	case nil:
		return nil, fmt.Errorf("encode filter: nil filter")
	default:
		return nil, fmt.Errorf("encode filter: unsupported node %T", f)
	}
}
