package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/recordindex/pkg/schema"
)

func TestParseAndKinds(t *testing.T) {
	node, err := Parse([]byte(`{"a": [1, "x", true, null, {}], "n": 12345678901234567}`))
	require.NoError(t, err)

	obj := node.(map[string]any)
	arr := obj["a"].([]any)
	kinds := []string{KindNumber, KindString, KindBoolean, KindNull, KindObject}
	for i, k := range kinds {
		assert.Equal(t, k, KindOf(arr[i]))
	}
	assert.Equal(t, KindArray, KindOf(obj["a"]))

	n, ok, err := Int(obj, "n", "n")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(12345678901234567), n)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte(`{"a":`))
	assert.ErrorIs(t, err, ErrMalformedSpec)

	_, err = Parse([]byte(`{} {}`))
	assert.ErrorIs(t, err, ErrMalformedSpec)
}

func TestAccessorKindErrors(t *testing.T) {
	obj := map[string]any{"s": 1.5, "i": "x"}

	_, _, err := String(obj, "s", "root.s")
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "root.s", fe.Key)
	assert.Equal(t, KindNumber, fe.Kind)

	_, _, err = Int(obj, "i", "i")
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindString, fe.Kind)

	_, err = AsInt(1.5, "f")
	assert.ErrorIs(t, err, ErrMalformedSpec)

	_, ok, err := Bool(obj, "missing", "missing")
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestNamespacesScoping(t *testing.T) {
	ambient := NewNamespaces(nil)
	ambient.Define("a", "urn:ambient-a")
	ambient.Define("b", "urn:ambient-b")

	obj := map[string]any{
		NamespacesKey: map[string]any{"urn:local-b": "b"},
	}
	local, err := NamespacesFromContext(obj, ambient)
	require.NoError(t, err)

	ns, ok := local.Namespace("a")
	assert.True(t, ok)
	assert.Equal(t, "urn:ambient-a", ns)

	ns, _ = local.Namespace("b")
	assert.Equal(t, "urn:local-b", ns)

	_, ok = local.Namespace("c")
	assert.False(t, ok)
}

func TestNamespacesFromContextErrors(t *testing.T) {
	_, err := NamespacesFromContext(map[string]any{NamespacesKey: []any{}}, nil)
	assert.ErrorIs(t, err, ErrMalformedSpec)

	_, err = NamespacesFromContext(map[string]any{NamespacesKey: map[string]any{"urn:x": 3.0}}, nil)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindNumber, fe.Kind)

	_, err = NamespacesFromContext(map[string]any{NamespacesKey: map[string]any{"urn:x": "p:q"}}, nil)
	assert.ErrorIs(t, err, ErrMalformedSpec)
}

func TestQNameWireForms(t *testing.T) {
	ns := NewNamespaces(nil)
	ns.Define("ex", "org.example")

	q, err := ParseQName("ex:title", ns, "f")
	require.NoError(t, err)
	assert.Equal(t, schema.NewQName("org.example", "title"), q)

	q, err = ParseQName("{org.other}body", ns, "f")
	require.NoError(t, err)
	assert.Equal(t, schema.NewQName("org.other", "body"), q)

	for _, bad := range []string{"title", "zz:title", "ex:", ":title", "{broken"} {
		_, err := ParseQName(bad, ns, "f")
		assert.ErrorIs(t, err, ErrMalformedSpec, bad)
	}
}

func TestFormatQNameGeneratesPrefixes(t *testing.T) {
	out := NewNamespaces(nil)
	a := FormatQName(schema.NewQName("urn:a", "x"), out)
	b := FormatQName(schema.NewQName("urn:b", "y"), out)
	again := FormatQName(schema.NewQName("urn:a", "z"), out)

	assert.Equal(t, "ns1:x", a)
	assert.Equal(t, "ns2:y", b)
	assert.Equal(t, "ns1:z", again)
	assert.Equal(t, map[string]any{"urn:a": "ns1", "urn:b": "ns2"}, out.Node())

	assert.Equal(t, "{urn:a}x", FormatQName(schema.NewQName("urn:a", "x"), nil))
}
