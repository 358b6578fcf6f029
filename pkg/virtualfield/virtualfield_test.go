package virtualfield

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/recordindex/internal/metrics"
	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/schema"
)

const testNS = "org.example"

// fakeTypes is an in-memory schema.TypeManager
type fakeTypes struct {
	failValueTypes atomic.Int32 // number of upcoming ValueType calls that fail
	valueTypeCalls atomic.Int32

	byName map[schema.QName]map[int64]*schema.RecordType
	byID   map[ids.SchemaID]map[int64]*schema.RecordType
}

func newFakeTypes() *fakeTypes {
	return &fakeTypes{
		byName: make(map[schema.QName]map[int64]*schema.RecordType),
		byID:   make(map[ids.SchemaID]map[int64]*schema.RecordType),
	}
}

func (f *fakeTypes) add(rt *schema.RecordType) *schema.RecordType {
	if f.byName[rt.Name] == nil {
		f.byName[rt.Name] = make(map[int64]*schema.RecordType)
	}
	if f.byID[rt.ID] == nil {
		f.byID[rt.ID] = make(map[int64]*schema.RecordType)
	}
	f.byName[rt.Name][rt.Version] = rt
	f.byID[rt.ID][rt.Version] = rt
	return rt
}

func (f *fakeTypes) ValueType(primitive string, multi bool) (schema.ValueType, error) {
	f.valueTypeCalls.Add(1)
	if f.failValueTypes.Load() > 0 {
		f.failValueTypes.Add(-1)
		return schema.ValueType{}, errors.New("type interning unavailable")
	}
	return schema.ValueType{Primitive: primitive, Multi: multi}, nil
}

func (f *fakeTypes) FieldTypeByName(_ context.Context, name schema.QName) (*schema.FieldType, error) {
	return nil, &schema.FieldTypeNotFoundError{Name: name}
}

func (f *fakeTypes) FieldTypeByID(_ context.Context, id ids.SchemaID) (*schema.FieldType, error) {
	return nil, &schema.FieldTypeNotFoundError{ID: id}
}

func (f *fakeTypes) RecordTypeByName(_ context.Context, name schema.QName, version int64) (*schema.RecordType, error) {
	if rt, ok := f.byName[name][version]; ok {
		return rt, nil
	}
	return nil, &schema.RecordTypeNotFoundError{Name: name, Version: version}
}

func (f *fakeTypes) RecordTypeByID(_ context.Context, id ids.SchemaID, version int64) (*schema.RecordType, error) {
	if rt, ok := f.byID[id][version]; ok {
		return rt, nil
	}
	return nil, &schema.RecordTypeNotFoundError{ID: id, Version: version}
}

func sysName(local string) schema.QName {
	return schema.NewQName(Namespace, local)
}

func buildRegistry(t *testing.T, tm schema.TypeManager) *Registry {
	t.Helper()
	r, err := Build(context.Background(), tm, ids.NewGenerator())
	require.NoError(t, err)
	return r
}

// lineageFixture declares Article v2 with mixins A v1, B v1, A v2 and returns a record of it
func lineageFixture(tm *fakeTypes, gen *ids.Generator) *schema.Record {
	aID, bID := gen.NewSchemaID(), gen.NewSchemaID()
	tm.add(&schema.RecordType{ID: aID, Name: schema.NewQName(testNS, "A"), Version: 1})
	tm.add(&schema.RecordType{ID: aID, Name: schema.NewQName(testNS, "A"), Version: 2})
	tm.add(&schema.RecordType{ID: bID, Name: schema.NewQName("org.other", "B"), Version: 1})
	tm.add(&schema.RecordType{
		ID:      gen.NewSchemaID(),
		Name:    schema.NewQName(testNS, "Article"),
		Version: 2,
		Mixins: []schema.MixinRef{
			{ID: aID, Version: 1},
			{ID: bID, Version: 1},
			{ID: aID, Version: 2},
		},
	})

	return &schema.Record{
		Version:           5,
		RecordTypeName:    schema.NewQName(testNS, "Article"),
		RecordTypeVersion: 2,
	}
}

func TestDeriveIDDeterministic(t *testing.T) {
	name := sysName("recordTypes")

	first := DeriveID(name)
	assert.Equal(t, first, DeriveID(name))
	assert.Equal(t, 5, int(first.Version()))
	assert.NotEqual(t, first, DeriveID(sysName("recordType")))

	// Ordinary schema ids are random version 4 ids
	assert.NotEqual(t, first.Version(), ids.NewGenerator().NewSchemaID().Version())
}

func TestBuildRegistersAllFields(t *testing.T) {
	tm := newFakeTypes()
	r := buildRegistry(t, tm)

	assert.Equal(t, len(declarations), r.Len())
	assert.Equal(t, int32(len(declarations)), tm.valueTypeCalls.Load())

	for _, name := range Names() {
		require.True(t, r.IsVirtual(name), name.String())
		f, err := r.Field(name)
		require.NoError(t, err)
		assert.Equal(t, DeriveID(name), f.ID())
		assert.True(t, r.IsVirtualID(f.ID()))

		byID, err := r.FieldByID(f.ID())
		require.NoError(t, err)
		assert.Same(t, f, byID)
	}

	mixins, _ := r.Field(sysName("mixins"))
	assert.True(t, mixins.Type.ValueType.Multi)
	version, _ := r.Field(sysName("version"))
	assert.Equal(t, schema.PrimitiveLong, version.Type.ValueType.Primitive)
	assert.False(t, version.Type.ValueType.Multi)
}

func TestLookupMisses(t *testing.T) {
	r := buildRegistry(t, newFakeTypes())

	assert.False(t, r.IsVirtual(schema.NewQName(testNS, "title")))
	assert.False(t, r.IsVirtualID(ids.NewGenerator().NewSchemaID()))

	_, err := r.Field(schema.NewQName(Namespace, "nope"))
	assert.ErrorIs(t, err, schema.ErrFieldNotFound)

	_, err = r.FieldByID(ids.NewGenerator().NewSchemaID())
	assert.ErrorIs(t, err, schema.ErrFieldNotFound)
}

func TestEvaluateScalars(t *testing.T) {
	ctx := context.Background()
	tm := newFakeTypes()
	rec := lineageFixture(tm, ids.NewGenerator())
	r := buildRegistry(t, tm)

	cases := map[string]any{
		"version":               int64(5),
		"recordType":            "{org.example}Article",
		"recordTypeName":        "Article",
		"recordTypeNamespace":   testNS,
		"recordTypeVersion":     int64(2),
		"recordTypeWithVersion": "{org.example}Article:2",
	}
	for local, want := range cases {
		f, err := r.Field(sysName(local))
		require.NoError(t, err)
		got, err := r.Evaluate(ctx, rec, f, tm)
		require.NoError(t, err, local)
		assert.Equal(t, want, got, local)
	}
}

func TestEvaluateUnversionedRecord(t *testing.T) {
	r := buildRegistry(t, newFakeTypes())
	f, _ := r.Field(sysName("version"))

	got, err := r.Evaluate(context.Background(), &schema.Record{}, f, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEvaluateMixinDedup(t *testing.T) {
	ctx := context.Background()
	tm := newFakeTypes()
	rec := lineageFixture(tm, ids.NewGenerator())
	r := buildRegistry(t, tm)

	eval := func(local string) []string {
		f, err := r.Field(sysName(local))
		require.NoError(t, err)
		v, err := r.Evaluate(ctx, rec, f, tm)
		require.NoError(t, err)
		return v.([]string)
	}

	assert.Equal(t, []string{"{org.example}A", "{org.other}B"}, eval("mixins"))
	assert.Equal(t, []string{"{org.example}A:1", "{org.other}B:1", "{org.example}A:2"}, eval("mixinsWithVersion"))
	assert.Equal(t, []string{"A", "B"}, eval("mixinNames"))
	assert.Equal(t, []string{testNS, "org.other"}, eval("mixinNamespaces"))
}

func TestRecordTypesIsOwnTypePlusMixins(t *testing.T) {
	ctx := context.Background()
	tm := newFakeTypes()
	rec := lineageFixture(tm, ids.NewGenerator())
	r := buildRegistry(t, tm)

	pairs := map[string]string{
		"recordTypes":            "mixins",
		"recordTypesWithVersion": "mixinsWithVersion",
	}
	for all, mixinsOnly := range pairs {
		fAll, _ := r.Field(sysName(all))
		fMix, _ := r.Field(sysName(mixinsOnly))
		vAll, err := r.Evaluate(ctx, rec, fAll, tm)
		require.NoError(t, err)
		vMix, err := r.Evaluate(ctx, rec, fMix, tm)
		require.NoError(t, err)

		own, _ := r.Evaluate(ctx, rec, mustField(t, r, "recordType"), tm)
		if all == "recordTypesWithVersion" {
			own, _ = r.Evaluate(ctx, rec, mustField(t, r, "recordTypeWithVersion"), tm)
		}
		want := append([]string{own.(string)}, vMix.([]string)...)
		assert.Equal(t, want, vAll, all)
	}

	// The own namespace is also a mixin namespace, so it appears once
	names, err := r.Evaluate(ctx, rec, mustField(t, r, "recordTypeNamespaces"), tm)
	require.NoError(t, err)
	assert.Equal(t, []string{testNS, "org.other"}, names)
}

func TestMixinTraversalIsShallow(t *testing.T) {
	ctx := context.Background()
	gen := ids.NewGenerator()
	tm := newFakeTypes()

	inner := tm.add(&schema.RecordType{ID: gen.NewSchemaID(), Name: schema.NewQName(testNS, "Inner"), Version: 1})
	outer := tm.add(&schema.RecordType{
		ID: gen.NewSchemaID(), Name: schema.NewQName(testNS, "Outer"), Version: 1,
		Mixins: []schema.MixinRef{{ID: inner.ID, Version: 1}},
	})
	tm.add(&schema.RecordType{
		ID: gen.NewSchemaID(), Name: schema.NewQName(testNS, "Doc"), Version: 1,
		Mixins: []schema.MixinRef{{ID: outer.ID, Version: 1}},
	})

	r := buildRegistry(t, tm)
	rec := &schema.Record{RecordTypeName: schema.NewQName(testNS, "Doc"), RecordTypeVersion: 1}
	v, err := r.Evaluate(ctx, rec, mustField(t, r, "mixins"), tm)
	require.NoError(t, err)
	assert.Equal(t, []string{"{org.example}Outer"}, v)
}

func TestEvaluatePropagatesSchemaErrors(t *testing.T) {
	ctx := context.Background()
	tm := newFakeTypes()
	r := buildRegistry(t, tm)

	rec := &schema.Record{RecordTypeName: schema.NewQName(testNS, "Ghost"), RecordTypeVersion: 3}
	_, err := r.Evaluate(ctx, rec, mustField(t, r, "recordTypes"), tm)
	assert.ErrorIs(t, err, schema.ErrSchemaInconsistency)

	// A dangling mixin reference is an inconsistency too
	gen := ids.NewGenerator()
	tm.add(&schema.RecordType{
		ID: gen.NewSchemaID(), Name: schema.NewQName(testNS, "Broken"), Version: 1,
		Mixins: []schema.MixinRef{{ID: gen.NewSchemaID(), Version: 1}},
	})
	rec = &schema.Record{RecordTypeName: schema.NewQName(testNS, "Broken"), RecordTypeVersion: 1}
	_, err = r.Evaluate(ctx, rec, mustField(t, r, "mixinNames"), tm)
	var rtnf *schema.RecordTypeNotFoundError
	assert.ErrorAs(t, err, &rtnf)

	_, err = r.EvaluateOrFallback(ctx, rec, sysName("mixins"), tm)
	assert.ErrorIs(t, err, schema.ErrSchemaInconsistency)
}

func TestEvaluateOrFallback(t *testing.T) {
	ctx := context.Background()
	tm := newFakeTypes()
	rec := lineageFixture(tm, ids.NewGenerator())
	rec.SetField(schema.NewQName(testNS, "title"), "hello")
	r := buildRegistry(t, tm)

	v, err := r.EvaluateOrFallback(ctx, rec, schema.NewQName(testNS, "title"), tm)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = r.EvaluateOrFallback(ctx, rec, schema.NewQName(testNS, "missing"), tm)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = r.EvaluateOrFallback(ctx, rec, sysName("recordTypeName"), tm)
	require.NoError(t, err)
	assert.Equal(t, "Article", v)
}

func TestProviderConcurrentGet(t *testing.T) {
	tm := newFakeTypes()
	p := NewProvider(tm, ids.NewGenerator())
	assert.False(t, p.Initialized())

	const callers = 32
	results := make([]*Registry, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			r, err := p.Get(context.Background())
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	close(start)
	wg.Wait()

	require.NotNil(t, results[0])
	for _, r := range results {
		assert.Same(t, results[0], r)
		assert.Equal(t, len(declarations), r.Len())
	}
	assert.True(t, p.Initialized())
	assert.Equal(t, int32(len(declarations)), tm.valueTypeCalls.Load(), "registry must be built once")
}

func TestProviderRetriesFailedBuild(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	tm := newFakeTypes()
	tm.failValueTypes.Store(1)
	p := NewProvider(tm, ids.NewGenerator())
	p.Metrics = m

	_, err := p.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitFailed)
	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "version", ie.Field)
	assert.False(t, p.Initialized())

	r, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(declarations), r.Len())
	assert.True(t, p.Initialized())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryBuildsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryBuildsTotal.WithLabelValues("success")))
}

func TestBuildHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, newFakeTypes(), ids.NewGenerator())
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrInitFailed)
}

func mustField(t *testing.T, r *Registry, local string) *Field {
	t.Helper()
	f, err := r.Field(sysName(local))
	require.NoError(t, err)
	return f
}
