// ABOUTME: KV-backed type manager for field types and versioned record types
// ABOUTME: Types are stored as JSON rows under dedicated table prefixes

package schema

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/nainya/recordindex/internal/logger"
	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/storage"
)

// Prefixes for schema storage
const (
	PREFIX_FIELD_TYPE         = uint32(100) // (fieldTypeID) -> FieldType
	PREFIX_FIELD_TYPE_NAME    = uint32(110) // (name) -> fieldTypeID
	PREFIX_RECORD_TYPE        = uint32(200) // (recordTypeID, version) -> RecordType
	PREFIX_RECORD_TYPE_NAME   = uint32(210) // (name) -> recordTypeID
	PREFIX_RECORD_TYPE_LATEST = uint32(220) // (recordTypeID) -> latest version
)

// TypeManager resolves schema types. Version 0 asks for the latest version.
type TypeManager interface {
	ValueType(primitive string, multi bool) (ValueType, error)
	FieldTypeByName(ctx context.Context, name QName) (*FieldType, error)
	FieldTypeByID(ctx context.Context, id ids.SchemaID) (*FieldType, error)
	RecordTypeByName(ctx context.Context, name QName, version int64) (*RecordType, error)
	RecordTypeByID(ctx context.Context, id ids.SchemaID, version int64) (*RecordType, error)
}

// TypeStore is a TypeManager persisted in the KV store
type TypeStore struct {
	kv  *storage.KV
	gen *ids.Generator
	log *logger.Logger

	mu       sync.Mutex
	interned map[ValueType]ValueType
}

// NewTypeStore creates a type store over kv
func NewTypeStore(kv *storage.KV, gen *ids.Generator, log *logger.Logger) *TypeStore {
	return &TypeStore{
		kv:       kv,
		gen:      gen,
		log:      logger.OrNop(log).SchemaLogger(),
		interned: make(map[ValueType]ValueType),
	}
}

// ValueType interns a value type. Interning is monotonic: once known, a type stays known.
func (ts *TypeStore) ValueType(primitive string, multi bool) (ValueType, error) {
	switch primitive {
	case PrimitiveString, PrimitiveLong, PrimitiveBoolean:
	default:
		return ValueType{}, fmt.Errorf("%w: %q", ErrUnsupportedValueType, primitive)
	}

	vt := ValueType{Primitive: primitive, Multi: multi}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if known, ok := ts.interned[vt]; ok {
		return known, nil
	}
	ts.interned[vt] = vt
	return vt, nil
}

// CreateFieldType stores a new field type and assigns its id
func (ts *TypeStore) CreateFieldType(ctx context.Context, name QName, vt ValueType) (*FieldType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := ts.ValueType(vt.Primitive, vt.Multi); err != nil {
		return nil, err
	}

	nameKey := fieldTypeNameKey(name)
	if _, ok := ts.kv.Get(nameKey); ok {
		return nil, fmt.Errorf("%w: field type %s", ErrTypeExists, name)
	}

	ft := &FieldType{ID: ts.gen.NewSchemaID(), Name: name, ValueType: vt}
	body, err := json.Marshal(ft)
	if err != nil {
		return nil, fmt.Errorf("encode field type: %w", err)
	}

	tx := ts.kv.Begin()
	tx.Set(fieldTypeKey(ft.ID), body)
	tx.Set(nameKey, ft.ID.UUID[:])
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store field type %s: %w", name, err)
	}

	ts.log.Debug("field type created").Str("name", name.String()).Str("id", ft.ID.String()).Send()
	return ft, nil
}

// FieldTypeByName looks up a field type by name
func (ts *TypeStore) FieldTypeByName(ctx context.Context, name QName) (*FieldType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, ok := ts.kv.Get(fieldTypeNameKey(name))
	if !ok {
		return nil, &FieldTypeNotFoundError{Name: name}
	}
	id, err := schemaIDFromBytes(raw)
	if err != nil {
		return nil, err
	}
	return ts.FieldTypeByID(ctx, id)
}

// FieldTypeByID looks up a field type by id
func (ts *TypeStore) FieldTypeByID(ctx context.Context, id ids.SchemaID) (*FieldType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, ok := ts.kv.Get(fieldTypeKey(id))
	if !ok {
		return nil, &FieldTypeNotFoundError{ID: id}
	}
	var ft FieldType
	if err := json.Unmarshal(body, &ft); err != nil {
		return nil, fmt.Errorf("decode field type %s: %w", id, err)
	}
	return &ft, nil
}

// CreateRecordType stores version 1 of a new record type
func (ts *TypeStore) CreateRecordType(ctx context.Context, name QName, fields []ids.SchemaID, mixins []MixinRef) (*RecordType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nameKey := recordTypeNameKey(name)
	if _, ok := ts.kv.Get(nameKey); ok {
		return nil, fmt.Errorf("%w: record type %s", ErrTypeExists, name)
	}

	rt := &RecordType{
		ID:      ts.gen.NewSchemaID(),
		Name:    name,
		Version: 1,
		Fields:  fields,
		Mixins:  mixins,
	}
	if err := ts.putRecordType(rt, nameKey); err != nil {
		return nil, err
	}
	return rt, nil
}

// UpdateRecordType stores a new version of an existing record type
func (ts *TypeStore) UpdateRecordType(ctx context.Context, name QName, fields []ids.SchemaID, mixins []MixinRef) (*RecordType, error) {
	latest, err := ts.RecordTypeByName(ctx, name, 0)
	if err != nil {
		return nil, err
	}

	rt := &RecordType{
		ID:      latest.ID,
		Name:    name,
		Version: latest.Version + 1,
		Fields:  fields,
		Mixins:  mixins,
	}
	if err := ts.putRecordType(rt, nil); err != nil {
		return nil, err
	}
	return rt, nil
}

func (ts *TypeStore) putRecordType(rt *RecordType, nameKey []byte) error {
	body, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("encode record type: %w", err)
	}

	tx := ts.kv.Begin()
	tx.Set(recordTypeKey(rt.ID, rt.Version), body)
	tx.Set(recordTypeLatestKey(rt.ID), storage.EncodeValues([]storage.Value{storage.NewInt64Value(rt.Version)}))
	if nameKey != nil {
		tx.Set(nameKey, rt.ID.UUID[:])
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store record type %s: %w", rt.Name, err)
	}

	ts.log.Debug("record type stored").
		Str("name", rt.Name.String()).
		Int64("version", rt.Version).
		Int("mixins", len(rt.Mixins)).
		Send()
	return nil
}

// RecordTypeByName looks up a record type version by name
func (ts *TypeStore) RecordTypeByName(ctx context.Context, name QName, version int64) (*RecordType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, ok := ts.kv.Get(recordTypeNameKey(name))
	if !ok {
		return nil, &RecordTypeNotFoundError{Name: name, Version: version}
	}
	id, err := schemaIDFromBytes(raw)
	if err != nil {
		return nil, err
	}
	rt, err := ts.RecordTypeByID(ctx, id, version)
	if err != nil {
		return nil, &RecordTypeNotFoundError{Name: name, Version: version}
	}
	return rt, nil
}

// RecordTypeByID looks up a record type version by id
func (ts *TypeStore) RecordTypeByID(ctx context.Context, id ids.SchemaID, version int64) (*RecordType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if version == 0 {
		raw, ok := ts.kv.Get(recordTypeLatestKey(id))
		if !ok {
			return nil, &RecordTypeNotFoundError{ID: id}
		}
		vals, err := storage.DecodeValues(raw)
		if err != nil || len(vals) != 1 {
			return nil, fmt.Errorf("decode latest version of %s: %v", id, err)
		}
		version = vals[0].I64
	}

	body, ok := ts.kv.Get(recordTypeKey(id, version))
	if !ok {
		return nil, &RecordTypeNotFoundError{ID: id, Version: version}
	}
	var rt RecordType
	if err := json.Unmarshal(body, &rt); err != nil {
		return nil, fmt.Errorf("decode record type %s: %w", id, err)
	}
	return &rt, nil
}

// RecordTypes lists the latest version of every record type
func (ts *TypeStore) RecordTypes(ctx context.Context) ([]*RecordType, error) {
	start := storage.EncodeKey(PREFIX_RECORD_TYPE_LATEST, nil)
	var idsFound []ids.SchemaID
	var scanErr error
	ts.kv.Scan(start, func(key, _ []byte) bool {
		if storage.ExtractPrefix(key) != PREFIX_RECORD_TYPE_LATEST {
			return false
		}
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) != 1 {
			scanErr = fmt.Errorf("corrupt record type key %x", key)
			return false
		}
		id, err := schemaIDFromBytes(vals[0].Str)
		if err != nil {
			scanErr = err
			return false
		}
		idsFound = append(idsFound, id)
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}

	out := make([]*RecordType, 0, len(idsFound))
	for _, id := range idsFound {
		rt, err := ts.RecordTypeByID(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, nil
}

func fieldTypeKey(id ids.SchemaID) []byte {
	return storage.EncodeKey(PREFIX_FIELD_TYPE, []storage.Value{storage.NewBytesValue(id.UUID[:])})
}

func fieldTypeNameKey(name QName) []byte {
	return storage.EncodeKey(PREFIX_FIELD_TYPE_NAME, []storage.Value{
		storage.NewBytesValue([]byte(name.Namespace)),
		storage.NewBytesValue([]byte(name.Name)),
	})
}

func recordTypeKey(id ids.SchemaID, version int64) []byte {
	return storage.EncodeKey(PREFIX_RECORD_TYPE, []storage.Value{
		storage.NewBytesValue(id.UUID[:]),
		storage.NewInt64Value(version),
	})
}

func recordTypeNameKey(name QName) []byte {
	return storage.EncodeKey(PREFIX_RECORD_TYPE_NAME, []storage.Value{
		storage.NewBytesValue([]byte(name.Namespace)),
		storage.NewBytesValue([]byte(name.Name)),
	})
}

func recordTypeLatestKey(id ids.SchemaID) []byte {
	return storage.EncodeKey(PREFIX_RECORD_TYPE_LATEST, []storage.Value{storage.NewBytesValue(id.UUID[:])})
}

func schemaIDFromBytes(b []byte) (ids.SchemaID, error) {
	var id ids.SchemaID
	if len(b) != len(id.UUID) {
		return id, fmt.Errorf("corrupt schema id: %d bytes", len(b))
	}
	copy(id.UUID[:], b)
	return id, nil
}
