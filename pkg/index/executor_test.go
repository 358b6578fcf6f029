package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/recordindex/internal/metrics"
	"github.com/nainya/recordindex/pkg/scan"
	"github.com/nainya/recordindex/pkg/storage"
)

func openKV(t *testing.T) *storage.KV {
	t.Helper()
	kv := &storage.KV{Path: filepath.Join(t.TempDir(), "index.db")}
	require.NoError(t, kv.Open())
	t.Cleanup(func() { kv.Close() })
	return kv
}

func putEntry(t *testing.T, kv *storage.KV, def *Definition, target string, values ...any) {
	t.Helper()
	key, err := def.EncodeKey(values...)
	require.NoError(t, err)
	row, err := def.RowKey(key, []byte(target))
	require.NoError(t, err)
	require.NoError(t, kv.Set(row, nil))
}

func drainTargets(t *testing.T, res *Result) []string {
	t.Helper()
	defer res.Close()
	var out []string
	for {
		target, ok, err := res.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, string(target))
	}
}

func TestExecutorQuery(t *testing.T) {
	ctx := context.Background()
	kv := openKV(t)
	def := statusIndex()

	putEntry(t, kv, def, "t1", "open", int64(1))
	putEntry(t, kv, def, "t3", "open", int64(1))
	putEntry(t, kv, def, "t2", "open", int64(1))
	putEntry(t, kv, def, "t4", "open", int64(2))
	putEntry(t, kv, def, "t5", "closed", int64(1))

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	exec := &Executor{KV: kv, Metrics: m}

	spec, err := scan.NewBuilder().Caching(1).Build()
	require.NoError(t, err)

	res, err := exec.Query(ctx, def, []any{"open", int64(1)}, spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, drainTargets(t, res))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TargetsDecoded))

	res, err = exec.Query(ctx, def, []any{"closed", int64(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"t5"}, drainTargets(t, res))

	res, err = exec.Query(ctx, def, []any{"missing", int64(1)}, nil)
	require.NoError(t, err)
	assert.Empty(t, drainTargets(t, res))
}

func TestExecutorQueryBounds(t *testing.T) {
	ctx := context.Background()
	kv := openKV(t)
	def := statusIndex()
	for _, target := range []string{"a", "b", "c", "d"} {
		putEntry(t, kv, def, target, "open", int64(1))
	}
	exec := &Executor{KV: kv}

	spec, err := scan.NewBuilder().RawStart([]byte("b")).RawStop([]byte("d")).Build()
	require.NoError(t, err)

	res, err := exec.Query(ctx, def, []any{"open", int64(1)}, spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, drainTargets(t, res))
}

func TestExecutorQueryErrors(t *testing.T) {
	exec := &Executor{KV: openKV(t)}
	def := statusIndex()

	_, err := exec.Query(context.Background(), def, []any{"open"}, nil)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = exec.Query(context.Background(), &Definition{Name: "empty"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = exec.Query(ctx, def, []any{"open", int64(1)}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueryRange(t *testing.T) {
	indexKey := []byte{0, 0, 0, 7, 'k'}

	spec, _ := scan.NewBuilder().Caching(3).CacheBlocks(false).Build()
	rng := QueryRange(indexKey, spec)
	assert.Equal(t, indexKey, rng.Start)
	assert.Equal(t, []byte{0, 0, 0, 7, 'l'}, rng.Stop)
	assert.Equal(t, 3, rng.Caching)
	assert.False(t, rng.CacheBlocks)

	spec, _ = scan.NewBuilder().RawStart([]byte("s")).RawStop([]byte("t")).Build()
	rng = QueryRange(indexKey, spec)
	assert.Equal(t, append(append([]byte{}, indexKey...), 's'), rng.Start)
	assert.Equal(t, append(append([]byte{}, indexKey...), 't'), rng.Stop)
}
