// ABOUTME: JSON wire codec for record scans
// ABOUTME: Decoding only overrides the members present; raw bounds override logical ones

package scan

import (
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/nainya/recordindex/pkg/filter"
	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/wire"
)

// Wire member names
const (
	KeyStartRecordID    = "startRecordId"
	KeyStopRecordID     = "stopRecordId"
	KeyRawStartRecordID = "rawStartRecordId"
	KeyRawStopRecordID  = "rawStopRecordId"
	KeyRecordFilter     = "recordFilter"
	KeyReturnFields     = "returnFields"
	KeyCaching          = "caching"
	KeyCacheBlocks      = "cacheBlocks"
)

// Decode parses a record scan document. ambient supplies prefixes the document does not define.
func Decode(data []byte, ambient *wire.Namespaces, gen *ids.Generator) (*Spec, error) {
	node, err := wire.Parse(data)
	if err != nil {
		return nil, err
	}
	return DecodeNode(node, ambient, gen)
}

// DecodeNode reads a record scan from a generic JSON node
func DecodeNode(node any, ambient *wire.Namespaces, gen *ids.Generator) (*Spec, error) {
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, &wire.FormatError{Kind: wire.KindOf(node), Msg: "record scan must be a JSON object"}
	}

	ns, err := wire.NamespacesFromContext(obj, ambient)
	if err != nil {
		return nil, err
	}

	b := NewBuilder()

	if s, ok, err := wire.String(obj, KeyStartRecordID, KeyStartRecordID); err != nil {
		return nil, err
	} else if ok {
		id, err := gen.FromString(s)
		if err != nil {
			return nil, wire.Errorf(KeyStartRecordID, "%v", err)
		}
		b.StartID(id)
	}

	if s, ok, err := wire.String(obj, KeyStopRecordID, KeyStopRecordID); err != nil {
		return nil, err
	} else if ok {
		id, err := gen.FromString(s)
		if err != nil {
			return nil, wire.Errorf(KeyStopRecordID, "%v", err)
		}
		b.StopID(id)
	}

	if raw, ok, err := decodeRaw(obj, KeyRawStartRecordID); err != nil {
		return nil, err
	} else if ok {
		b.RawStart(raw)
	}

	if raw, ok, err := decodeRaw(obj, KeyRawStopRecordID); err != nil {
		return nil, err
	} else if ok {
		b.RawStop(raw)
	}

	if fnode, ok := wire.Member(obj, KeyRecordFilter); ok {
		f, err := filter.Decode(fnode, ns, gen, KeyRecordFilter)
		if err != nil {
			return nil, err
		}
		b.Filter(f)
	}

	if rnode, ok, err := wire.Object(obj, KeyReturnFields, KeyReturnFields); err != nil {
		return nil, err
	} else if ok {
		rf, err := decodeReturnFields(rnode, ns)
		if err != nil {
			return nil, err
		}
		b.ReturnFields(rf)
	}

	if n, ok, err := wire.Int(obj, KeyCaching, KeyCaching); err != nil {
		return nil, err
	} else if ok {
		if n < 1 {
			return nil, wire.Errorf(KeyCaching, "must be at least 1, got %d", n)
		}
		b.Caching(int(n))
	}

	if on, ok, err := wire.Bool(obj, KeyCacheBlocks, KeyCacheBlocks); err != nil {
		return nil, err
	} else if ok {
		b.CacheBlocks(on)
	}

	spec, err := b.Build()
	if err != nil {
		return nil, &wire.FormatError{Msg: err.Error()}
	}
	return spec, nil
}

func decodeRaw(obj map[string]any, key string) ([]byte, bool, error) {
	s, ok, err := wire.String(obj, key, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, true, wire.Errorf(key, "invalid base64: %v", err)
	}
	return raw, true, nil
}

func decodeReturnFields(obj map[string]any, ns *wire.Namespaces) (ReturnFields, error) {
	typePath := wire.Path(KeyReturnFields, "type")
	typ, ok, err := wire.String(obj, "type", typePath)
	if err != nil {
		return ReturnFields{}, err
	}
	if !ok {
		return ReturnFields{}, wire.Errorf(typePath, "missing projection type")
	}

	switch ReturnFieldsType(typ) {
	case ReturnAll:
		return AllFields(), nil
	case ReturnNone:
		return NoFields(), nil
	case ReturnEnum:
	default:
		return ReturnFields{}, wire.Errorf(typePath, "unknown projection type %q", typ)
	}

	fieldsPath := wire.Path(KeyReturnFields, "fields")
	entries, _, err := wire.Array(obj, "fields", fieldsPath)
	if err != nil {
		return ReturnFields{}, err
	}

	rf := ReturnFields{typ: ReturnEnum}
	for i, entry := range entries {
		path := wire.Index(fieldsPath, i)
		s, isStr := entry.(string)
		if !isStr {
			return ReturnFields{}, wire.KindError(path, entry, "a qualified name string")
		}
		q, err := wire.ParseQName(s, ns, path)
		if err != nil {
			return ReturnFields{}, err
		}
		rf.fields = append(rf.fields, q)
	}
	return rf, nil
}

// Encode writes spec as a record scan document
func Encode(spec *Spec, opts wire.WriteOptions) ([]byte, error) {
	node, err := EncodeNode(spec, opts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(node)
}

// EncodeNode writes spec as a generic JSON node. With UseNamespacePrefixes, prefixes are
// assigned as names are written and the table is attached once under "namespaces".
func EncodeNode(spec *Spec, opts wire.WriteOptions) (map[string]any, error) {
	if spec == nil {
		return nil, fmt.Errorf("encode record scan: nil spec")
	}

	var ns *wire.Namespaces
	if opts.UseNamespacePrefixes {
		ns = wire.NewNamespaces(nil)
	}

	out := make(map[string]any)
	encodeBound(out, spec.start, KeyStartRecordID, KeyRawStartRecordID)
	encodeBound(out, spec.stop, KeyStopRecordID, KeyRawStopRecordID)

	if spec.filter != nil {
		f, err := filter.Encode(spec.filter, ns)
		if err != nil {
			return nil, err
		}
		out[KeyRecordFilter] = f
	}

	rf := map[string]any{"type": string(spec.returnFields.Type())}
	if spec.returnFields.Type() == ReturnEnum {
		fields := make([]any, 0, len(spec.returnFields.fields))
		for _, q := range spec.returnFields.fields {
			fields = append(fields, wire.FormatQName(q, ns))
		}
		rf["fields"] = fields
	}
	out[KeyReturnFields] = rf

	out[KeyCaching] = spec.caching
	out[KeyCacheBlocks] = spec.cacheBlocks

	if ns != nil && ns.Len() > 0 {
		out[wire.NamespacesKey] = ns.Node()
	}
	return out, nil
}

func encodeBound(out map[string]any, b Bound, logicalKey, rawKey string) {
	if raw, ok := b.Raw(); ok {
		out[rawKey] = base64.StdEncoding.EncodeToString(raw)
		return
	}
	if id, ok := b.ID(); ok {
		out[logicalKey] = id.String()
	}
}
