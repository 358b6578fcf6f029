// ABOUTME: Record repository over the KV store
// ABOUTME: Record CRUD, record table scans, and index queries resolved into records

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/nainya/recordindex/internal/logger"
	"github.com/nainya/recordindex/internal/metrics"
	"github.com/nainya/recordindex/pkg/btree"
	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/schema"
	"github.com/nainya/recordindex/pkg/storage"
	"github.com/nainya/recordindex/pkg/virtualfield"
)

// PREFIX_RECORD is the table prefix of the record table: (recordID bytes) -> body
const PREFIX_RECORD = uint32(1000)

var (
	// ErrRecordNotFound is returned for reads, updates, and deletes of unknown records
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists is returned when creating a record whose id is taken
	ErrRecordExists = errors.New("record already exists")

	// ErrInvalidRecord is returned for records that do not match the schema
	ErrInvalidRecord = errors.New("invalid record")
)

// Options configures a Repository
type Options struct {
	Compression Compression
	Log         *logger.Logger
	Metrics     *metrics.Metrics
}

// Repository stores records and runs scans over them
type Repository struct {
	kv          *storage.KV
	types       schema.TypeManager
	fields      *virtualfield.Provider
	gen         *ids.Generator
	compression Compression
	log         *logger.Logger
	metrics     *metrics.Metrics
}

// New creates a repository. fields is the virtual field provider shared by every
// component of this repository context.
func New(kv *storage.KV, types schema.TypeManager, fields *virtualfield.Provider, gen *ids.Generator, opts Options) *Repository {
	return &Repository{
		kv:          kv,
		types:       types,
		fields:      fields,
		gen:         gen,
		compression: opts.Compression,
		log:         logger.OrNop(opts.Log),
		metrics:     opts.Metrics,
	}
}

// Generator returns the id generator of the repository
func (r *Repository) Generator() *ids.Generator { return r.gen }

// Types returns the type manager of the repository
func (r *Repository) Types() schema.TypeManager { return r.types }

// VirtualFields returns the registry, building it on first use
func (r *Repository) VirtualFields(ctx context.Context) (*virtualfield.Registry, error) {
	return r.fields.Get(ctx)
}

// Ready reports whether the virtual field registry has been built
func (r *Repository) Ready() bool { return r.fields.Initialized() }

// RecordTablePrefix is the key prefix shared by every record row
func RecordTablePrefix() []byte {
	return storage.EncodeKey(PREFIX_RECORD, nil)
}

// RecordKey is the record table key of id
func RecordKey(id ids.RecordID) []byte {
	return append(RecordTablePrefix(), id.Bytes()...)
}

// Create stores a new record at version 1. A zero id is replaced by a generated one.
// A record type version of 0 resolves to the latest version.
func (r *Repository) Create(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	out, err := r.prepare(ctx, rec)
	if err != nil {
		return nil, err
	}
	if out.ID.IsZero() {
		out.ID = r.gen.NewRecordID()
	}
	out.Version = 1

	body, err := encodeBody(out, r.compression)
	if err != nil {
		return nil, err
	}

	req := &btree.UpdateReq{Key: RecordKey(out.ID), Val: body, Mode: btree.ModeInsertOnly}
	added, err := r.kv.Update(req)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", out.ID, err)
	}
	if !added {
		return nil, fmt.Errorf("%w: %s", ErrRecordExists, out.ID)
	}

	r.log.Debug("record created").Str("id", out.ID.String()).Int("bytes", len(body)).Send()
	return out, nil
}

// Update replaces the fields of an existing record and bumps its version
func (r *Repository) Update(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	out, err := r.prepare(ctx, rec)
	if err != nil {
		return nil, err
	}

	key := RecordKey(out.ID)
	tx := r.kv.Begin()
	old, exists := tx.Get(key)
	if !exists {
		tx.Abort()
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, out.ID)
	}
	prev, err := decodeBody(old)
	if err != nil {
		tx.Abort()
		return nil, fmt.Errorf("update %s: %w", out.ID, err)
	}
	out.Version = prev.Version + 1

	body, err := encodeBody(out, r.compression)
	if err != nil {
		tx.Abort()
		return nil, err
	}
	tx.Update(&btree.UpdateReq{Key: key, Val: body, Mode: btree.ModeUpdateOnly})
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update %s: %w", out.ID, err)
	}
	return out, nil
}

// Read loads a record
func (r *Repository) Read(ctx context.Context, id ids.RecordID) (*schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, ok := r.kv.Get(RecordKey(id))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	rec, err := decodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	rec.ID = id
	return rec, nil
}

// Delete removes a record. Index entries pointing at it become dangling and are
// skipped by index queries.
func (r *Repository) Delete(ctx context.Context, id ids.RecordID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deleted, err := r.kv.Del(RecordKey(id))
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return nil
}

// prepare validates rec against the schema and returns a normalized copy
func (r *Repository) prepare(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if rec.RecordTypeName.IsZero() {
		return nil, fmt.Errorf("%w: no record type", ErrInvalidRecord)
	}

	rt, err := r.types.RecordTypeByName(ctx, rec.RecordTypeName, rec.RecordTypeVersion)
	if err != nil {
		return nil, err
	}

	registry, err := r.fields.Get(ctx)
	if err != nil {
		return nil, err
	}

	out := rec.Clone()
	out.RecordTypeVersion = rt.Version
	for name, v := range rec.Fields {
		if registry.IsVirtual(name) {
			return nil, fmt.Errorf("%w: %s is a virtual field", ErrInvalidRecord, name)
		}
		ft, err := r.types.FieldTypeByName(ctx, name)
		if err != nil {
			return nil, err
		}
		nv, err := normalizeValue(ft, v)
		if err != nil {
			return nil, err
		}
		out.Fields[name] = nv
	}
	return out, nil
}

func normalizeValue(ft *schema.FieldType, v any) (any, error) {
	if !ft.ValueType.Multi {
		return normalizeScalar(ft, v)
	}

	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case []string:
		for _, s := range x {
			items = append(items, s)
		}
	case []int64:
		for _, n := range x {
			items = append(items, n)
		}
	default:
		return nil, fmt.Errorf("%w: %s wants a list, got %T", ErrInvalidRecord, ft.Name, v)
	}

	out := make([]any, len(items))
	for i, item := range items {
		n, err := normalizeScalar(ft, item)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func normalizeScalar(ft *schema.FieldType, v any) (any, error) {
	switch ft.ValueType.Primitive {
	case schema.PrimitiveString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.PrimitiveLong:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		}
	case schema.PrimitiveBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s wants %s, got %T", ErrInvalidRecord, ft.Name, ft.ValueType.Primitive, v)
}
