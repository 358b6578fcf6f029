package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogPutGetList(t *testing.T) {
	cat := NewCatalog(openKV(t))

	status := statusIndex()
	byAge := &Definition{Name: "by_age", Prefix: 9100, Fields: []FieldDef{{Name: "age", Kind: Long}}}
	require.NoError(t, cat.Put(status))
	require.NoError(t, cat.Put(byAge))

	got, err := cat.Get(status.Name)
	require.NoError(t, err)
	assert.Equal(t, status, got)
	assert.Equal(t, status.KeyLength(), got.KeyLength())

	all, err := cat.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, status.Name, all[0].Name)
	assert.Equal(t, "by_age", all[1].Name)
}

func TestCatalogRejects(t *testing.T) {
	cat := NewCatalog(openKV(t))
	require.NoError(t, cat.Put(statusIndex()))

	clash := &Definition{Name: "other", Prefix: statusIndex().Prefix, Fields: []FieldDef{{Name: "n", Kind: Long}}}
	assert.ErrorIs(t, cat.Put(clash), ErrInvalidDefinition)

	reserved := &Definition{Name: "reserved", Prefix: PREFIX_INDEX_DEF, Fields: []FieldDef{{Name: "n", Kind: Long}}}
	assert.ErrorIs(t, cat.Put(reserved), ErrInvalidDefinition)

	assert.ErrorIs(t, cat.Put(&Definition{Name: "empty", Prefix: 9200}), ErrInvalidDefinition)

	// Redefining an index under its own prefix is allowed
	redefined := statusIndex()
	redefined.Fields[0].Width = 32
	require.NoError(t, cat.Put(redefined))
}

func TestCatalogMissing(t *testing.T) {
	cat := NewCatalog(openKV(t))

	_, err := cat.Get("nope")
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.ErrorIs(t, cat.Delete("nope"), ErrIndexNotFound)

	require.NoError(t, cat.Put(statusIndex()))
	require.NoError(t, cat.Delete(statusIndex().Name))
	_, err = cat.Get(statusIndex().Name)
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestFieldKindText(t *testing.T) {
	for _, k := range []FieldKind{String, Long} {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var back FieldKind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}

	_, err := FieldKind(7).MarshalText()
	assert.ErrorIs(t, err, ErrInvalidDefinition)
	var k FieldKind
	assert.ErrorIs(t, k.UnmarshalText([]byte("float")), ErrInvalidDefinition)
}

func TestPutAndDeleteEntry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	kv := openKV(t)
	def := statusIndex()

	require.NoError(t, PutEntry(kv, def, []byte("r1"), "open", int64(1)))
	require.NoError(t, PutEntry(kv, def, []byte("r2"), "open", int64(1)))

	res, err := (&Executor{KV: kv}).Query(ctx, def, []any{"open", int64(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, drainTargets(t, res))

	deleted, err := DeleteEntry(kv, def, []byte("r1"), "open", int64(1))
	require.NoError(t, err)
	assert.True(t, deleted)

	res, err = (&Executor{KV: kv}).Query(ctx, def, []any{"open", int64(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, drainTargets(t, res))

	assert.ErrorIs(t, PutEntry(kv, def, []byte("r3"), 42, int64(1)), ErrInvalidValue)
}
