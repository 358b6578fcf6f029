package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/recordindex/internal/config"
	"github.com/nainya/recordindex/internal/logger"
	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/index"
	"github.com/nainya/recordindex/pkg/schema"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, dbPath string) {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.DBPath = dbPath
	a, err := openApp(cfg, logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	status, err := a.types.CreateFieldType(ctx, schema.NewQName("org.example", "status"), schema.ValueType{Primitive: schema.PrimitiveString})
	require.NoError(t, err)
	_, err = a.types.CreateRecordType(ctx, schema.NewQName("org.example", "Ticket"), []ids.SchemaID{status.ID}, nil)
	require.NoError(t, err)

	def := &index.Definition{Name: "by-status", Prefix: 9000, Fields: []index.FieldDef{{Name: "status", Kind: index.String, Width: 8}}}
	require.NoError(t, index.NewCatalog(a.kv).Put(def))

	for _, r := range [][2]string{{"a", "open"}, {"b", "closed"}} {
		id, err := a.gen.UserRecordID(r[0])
		require.NoError(t, err)
		_, err = a.repo.Create(ctx, &schema.Record{
			ID:             id,
			RecordTypeName: schema.NewQName("org.example", "Ticket"),
			Fields:         map[schema.QName]any{status.Name: r[1]},
		})
		require.NoError(t, err)
		require.NoError(t, index.PutEntry(a.kv, def, id.Bytes(), r[1]))
	}
}

func TestSpecNormalize(t *testing.T) {
	out, err := run(t, `{"returnFields":{"type":"NONE"},"caching":5}`, "spec", "normalize", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"caching":5`)
	assert.Contains(t, out, `"type":"NONE"`)

	_, err = run(t, `[1]`, "spec", "normalize", "-")
	assert.Error(t, err)
}

func TestScanCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")
	seed(t, db)

	out, err := run(t, "", "--db", db, "scan")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":"USER.a"`)

	out, err = run(t, "", "--db", db, "scan", "--index", "by-status", "--value", "closed")
	require.NoError(t, err)
	assert.Contains(t, out, `"id":"USER.b"`)
	assert.NotContains(t, out, "USER.a")

	_, err = run(t, "", "--db", db, "scan", "--index", "nope", "--value", "x")
	assert.ErrorIs(t, err, index.ErrIndexNotFound)
}

func TestIndexAndFieldsCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	def := `{"name":"by-age","prefix":9100,"fields":[{"name":"age","kind":"long"}]}`
	out, err := run(t, def, "--db", db, "index", "put", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored index by-age")

	out, err = run(t, "", "--db", db, "index", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "by-age")
	assert.Contains(t, out, "9100")

	out, err = run(t, "", "--db", db, "fields")
	require.NoError(t, err)
	assert.Contains(t, out, "{org.lilyproject.system}recordTypeWithVersion")
}

func TestConfigFlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recordindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))

	_, err := run(t, "", "--config", path, "fields")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
