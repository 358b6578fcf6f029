package scan

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/recordindex/pkg/filter"
	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/schema"
	"github.com/nainya/recordindex/pkg/storage"
	"github.com/nainya/recordindex/pkg/wire"
)

func TestBuilderDefaults(t *testing.T) {
	spec, err := NewBuilder().Build()
	require.NoError(t, err)

	assert.False(t, spec.StartID().IsSet())
	assert.False(t, spec.StopID().IsSet())
	assert.Nil(t, spec.StartID().Bytes())
	assert.Nil(t, spec.Filter())
	assert.Equal(t, ReturnAll, spec.ReturnFields().Type())
	assert.Equal(t, storage.DefaultCaching, spec.Caching())
	assert.True(t, spec.CacheBlocks())

	_, err = NewBuilder().Caching(0).Build()
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestSpecIsImmutable(t *testing.T) {
	raw := []byte{1, 2, 3}
	fields := []schema.QName{schema.NewQName("ns", "a")}

	b := NewBuilder().RawStart(raw).ReturnFields(EnumFields(fields...))
	spec, err := b.Build()
	require.NoError(t, err)

	raw[0] = 9
	fields[0] = schema.NewQName("ns", "changed")
	b.Caching(5)
	spec.ReturnFields().Fields()[0] = schema.NewQName("ns", "changed")

	assert.Equal(t, []byte{1, 2, 3}, spec.StartID().Bytes())
	assert.Equal(t, []schema.QName{schema.NewQName("ns", "a")}, spec.ReturnFields().Fields())
	assert.Equal(t, storage.DefaultCaching, spec.Caching())

	changed, err := spec.ToBuilder().Caching(7).Build()
	require.NoError(t, err)
	assert.Equal(t, 7, changed.Caching())
	assert.Equal(t, storage.DefaultCaching, spec.Caching())
}

func TestBoundForms(t *testing.T) {
	gen := ids.NewGenerator()
	id, _ := gen.UserRecordID("x")

	logical := LogicalBound(id)
	assert.Equal(t, id.Bytes(), logical.Bytes())
	_, isRaw := logical.Raw()
	assert.False(t, isRaw)

	// Raw replaces logical on the same builder bound
	spec, err := NewBuilder().StartID(id).RawStart([]byte("k")).Build()
	require.NoError(t, err)
	_, hasID := spec.StartID().ID()
	assert.False(t, hasID)
	assert.Equal(t, []byte("k"), spec.StartID().Bytes())
}

func TestReturnFieldsIncludes(t *testing.T) {
	a, b := schema.NewQName("ns", "a"), schema.NewQName("ns", "b")

	assert.True(t, AllFields().Includes(a))
	assert.True(t, ReturnFields{}.Includes(a))
	assert.False(t, NoFields().Includes(a))
	assert.True(t, EnumFields(a, a).Includes(a))
	assert.False(t, EnumFields(a).Includes(b))
}

func TestDecodeFullDocument(t *testing.T) {
	gen := ids.NewGenerator()
	ambient := wire.NewNamespaces(nil)
	ambient.Define("amb", "urn:ambient")

	doc := `{
		"namespaces": {"org.example": "ex"},
		"startRecordId": "USER.a",
		"stopRecordId": "USER.m",
		"recordFilter": {"@class": "FieldValueFilter", "field": "ex:status", "fieldValue": "open"},
		"returnFields": {"type": "ENUM", "fields": ["ex:title", "amb:body", "{urn:other}x"]},
		"caching": 25,
		"cacheBlocks": false
	}`

	spec, err := Decode([]byte(doc), ambient, gen)
	require.NoError(t, err)

	start, ok := spec.StartID().ID()
	require.True(t, ok)
	assert.Equal(t, "USER.a", start.String())
	stop, _ := spec.StopID().ID()
	assert.Equal(t, "USER.m", stop.String())

	fv, ok := spec.Filter().(*filter.FieldValueFilter)
	require.True(t, ok)
	assert.Equal(t, schema.NewQName("org.example", "status"), fv.Field)

	assert.Equal(t, ReturnEnum, spec.ReturnFields().Type())
	assert.Equal(t, []schema.QName{
		schema.NewQName("org.example", "title"),
		schema.NewQName("urn:ambient", "body"),
		schema.NewQName("urn:other", "x"),
	}, spec.ReturnFields().Fields())
	assert.Equal(t, 25, spec.Caching())
	assert.False(t, spec.CacheBlocks())
}

func TestDecodeAbsentKeysKeepDefaults(t *testing.T) {
	spec, err := Decode([]byte(`{}`), nil, ids.NewGenerator())
	require.NoError(t, err)

	def, _ := NewBuilder().Build()
	assert.Equal(t, def, spec)
}

func TestRawOverridesLogical(t *testing.T) {
	raw := []byte{0x00, 0x01, 0xFF}
	doc := `{"startRecordId": "USER.X", "rawStartRecordId": "` + base64.StdEncoding.EncodeToString(raw) + `"}`

	spec, err := Decode([]byte(doc), nil, ids.NewGenerator())
	require.NoError(t, err)

	assert.Equal(t, raw, spec.StartID().Bytes())
	_, hasID := spec.StartID().ID()
	assert.False(t, hasID)
}

func TestDecodeRootMustBeObject(t *testing.T) {
	cases := map[string]string{
		`[]`:    wire.KindArray,
		`"x"`:   wire.KindString,
		`12`:    wire.KindNumber,
		`true`:  wire.KindBoolean,
		`null`:  wire.KindNull,
	}
	for doc, kind := range cases {
		_, err := Decode([]byte(doc), nil, ids.NewGenerator())
		var fe *wire.FormatError
		require.ErrorAs(t, err, &fe, doc)
		assert.Equal(t, kind, fe.Kind, doc)
	}
}

func TestDecodeNumericReturnField(t *testing.T) {
	doc := `{"returnFields": {"type": "ENUM", "fields": ["{ns}a", 42]}}`

	_, err := Decode([]byte(doc), nil, ids.NewGenerator())
	require.ErrorIs(t, err, wire.ErrMalformedSpec)

	var fe *wire.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, wire.KindNumber, fe.Kind)
	assert.Equal(t, "returnFields.fields[1]", fe.Key)
	assert.Contains(t, err.Error(), "number")
}

func TestDecodeMalformedMembers(t *testing.T) {
	cases := map[string]string{
		"bad id":          `{"startRecordId": "nope"}`,
		"id kind":         `{"stopRecordId": 5}`,
		"bad base64":      `{"rawStopRecordId": "***"}`,
		"raw kind":        `{"rawStartRecordId": []}`,
		"filter kind":     `{"recordFilter": "x"}`,
		"fields kind":     `{"returnFields": []}`,
		"missing type":    `{"returnFields": {}}`,
		"unknown type":    `{"returnFields": {"type": "SOME"}}`,
		"undefined pfx":   `{"returnFields": {"type": "ENUM", "fields": ["zz:a"]}}`,
		"zero caching":    `{"caching": 0}`,
		"fraction":        `{"caching": 1.5}`,
		"caching kind":    `{"caching": "10"}`,
		"cacheBlocks":     `{"cacheBlocks": "yes"}`,
		"namespaces kind": `{"namespaces": "ex"}`,
		"invalid json":    `{"caching": `,
	}
	for name, doc := range cases {
		_, err := Decode([]byte(doc), nil, ids.NewGenerator())
		assert.ErrorIs(t, err, wire.ErrMalformedSpec, name)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	gen := ids.NewGenerator()
	start, _ := gen.UserRecordID("a")
	stop := gen.NewRecordID()
	a := schema.NewQName("urn:one", "a")
	b := schema.NewQName("urn:two", "b")

	spec, err := NewBuilder().
		StartID(start).
		StopID(stop).
		Filter(&filter.RecordTypeFilter{Name: schema.NewQName("urn:one", "Doc")}).
		ReturnFields(EnumFields(a, b)).
		Caching(10).
		CacheBlocks(false).
		Build()
	require.NoError(t, err)

	for _, opts := range []wire.WriteOptions{{}, {UseNamespacePrefixes: true}} {
		data, err := Encode(spec, opts)
		require.NoError(t, err)

		back, err := Decode(data, nil, gen)
		require.NoError(t, err, string(data))

		assert.True(t, back.StartID().Equal(spec.StartID()))
		assert.True(t, back.StopID().Equal(spec.StopID()))
		assert.ElementsMatch(t, spec.ReturnFields().Fields(), back.ReturnFields().Fields())
		assert.Equal(t, spec.Filter(), back.Filter())
		assert.Equal(t, 10, back.Caching())
		assert.False(t, back.CacheBlocks())
	}
}

func TestEncodeNamespaceModes(t *testing.T) {
	spec, err := NewBuilder().
		ReturnFields(EnumFields(schema.NewQName("urn:one", "a"), schema.NewQName("urn:one", "b"))).
		Build()
	require.NoError(t, err)

	expanded, err := EncodeNode(spec, wire.WriteOptions{})
	require.NoError(t, err)
	assert.NotContains(t, expanded, wire.NamespacesKey)
	assert.Equal(t, []any{"{urn:one}a", "{urn:one}b"}, expanded[KeyReturnFields].(map[string]any)["fields"])

	prefixed, err := EncodeNode(spec, wire.WriteOptions{UseNamespacePrefixes: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"urn:one": "ns1"}, prefixed[wire.NamespacesKey])
	assert.Equal(t, []any{"ns1:a", "ns1:b"}, prefixed[KeyReturnFields].(map[string]any)["fields"])
}

func TestEncodeRawBounds(t *testing.T) {
	spec, err := NewBuilder().RawStart([]byte{0xDE, 0xAD}).Build()
	require.NoError(t, err)

	node, err := EncodeNode(spec, wire.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "3q0=", node[KeyRawStartRecordID])
	assert.NotContains(t, node, KeyStartRecordID)
	assert.NotContains(t, node, KeyStopRecordID)
}
