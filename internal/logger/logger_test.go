package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.Info("hidden").Send()
	l.Warn("shown").Send()

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, `"service":"recordindex"`)
}

func TestLogScanError(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	l.LogScan("index:by_name", 5*time.Millisecond, 3, errors.New("boom"))

	out := buf.String()
	require.True(t, strings.Contains(out, `"level":"error"`), out)
	assert.Contains(t, out, `"scan":"index:by_name"`)
	assert.Contains(t, out, `"row_count":3`)
	assert.Contains(t, out, "boom")
}

func TestNopDiscards(t *testing.T) {
	l := OrNop(nil)
	require.NotNil(t, l)
	l.Error("nothing").Send()
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, "info", lvl.String())

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestComponentFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Output: &buf}).StoreLogger("/tmp/x.db")

	l.Info("opened").Send()
	l.LogGrpcRequest("/recordindex.v1.RecordIndex/ScanRecords", time.Millisecond, nil)

	out := buf.String()
	assert.Contains(t, out, `"component":"store"`)
	assert.Contains(t, out, `"path":"/tmp/x.db"`)
	assert.Contains(t, out, `"method":"/recordindex.v1.RecordIndex/ScanRecords"`)
	assert.NotContains(t, out, `"level":"error"`)
}
