// ABOUTME: Tests for the batched range scanner
// ABOUTME: Range bounds, batch resumption, block cache reads, and close semantics

package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nainya/recordindex/internal/metrics"
)

func fillKV(t *testing.T, db *KV, n int) {
	t.Helper()
	tx := db.Begin()
	for i := 0; i < n; i++ {
		tx.Set([]byte(fmt.Sprintf("row%04d", i)), []byte(fmt.Sprintf("v%d", i)))
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to load rows: %v", err)
	}
}

func drain(t *testing.T, s RowScanner) []Row {
	t.Helper()
	var rows []Row
	for {
		row, ok, err := s.Next()
		if err != nil {
			t.Fatalf("Scanner failed: %v", err)
		}
		if !ok {
			return rows
		}
		rows = append(rows, row)
	}
}

func TestScannerFullRange(t *testing.T) {
	db := openTestKV(t, filepath.Join(t.TempDir(), "scan.db"))
	defer db.Close()
	fillKV(t, db, 250)

	s, err := db.NewScanner(Range{Caching: 7})
	if err != nil {
		t.Fatalf("NewScanner failed: %v", err)
	}
	defer s.Close()

	rows := drain(t, s)
	if len(rows) != 250 {
		t.Fatalf("Expected 250 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if string(row.Key) != fmt.Sprintf("row%04d", i) {
			t.Fatalf("Row %d: unexpected key %q", i, row.Key)
		}
	}

	// Exhausted scanners keep reporting the end
	if _, ok, err := s.Next(); ok || err != nil {
		t.Errorf("Expected exhausted scanner, got ok=%v err=%v", ok, err)
	}
}

func TestScannerBounds(t *testing.T) {
	db := openTestKV(t, filepath.Join(t.TempDir(), "bounds.db"))
	defer db.Close()
	fillKV(t, db, 50)

	s, err := db.NewScanner(Range{Start: []byte("row0010"), Stop: []byte("row0020"), Caching: 3})
	if err != nil {
		t.Fatalf("NewScanner failed: %v", err)
	}
	defer s.Close()

	rows := drain(t, s)
	if len(rows) != 10 {
		t.Fatalf("Expected 10 rows, got %d", len(rows))
	}
	if string(rows[0].Key) != "row0010" || string(rows[9].Key) != "row0019" {
		t.Errorf("Unexpected bounds: first=%q last=%q", rows[0].Key, rows[9].Key)
	}
}

func TestScannerInvalidRange(t *testing.T) {
	db := openTestKV(t, filepath.Join(t.TempDir(), "invalid.db"))
	defer db.Close()

	_, err := db.NewScanner(Range{Start: []byte("b"), Stop: []byte("a")})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("Expected ErrInvalidRange, got %v", err)
	}
}

func TestScannerSeesWritesBetweenBatches(t *testing.T) {
	db := openTestKV(t, filepath.Join(t.TempDir(), "interleave.db"))
	defer db.Close()
	fillKV(t, db, 10)

	s, err := db.NewScanner(Range{Caching: 2})
	if err != nil {
		t.Fatalf("NewScanner failed: %v", err)
	}
	defer s.Close()

	if _, _, err := s.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	// Writers are not blocked while a scanner is open
	if err := db.Set([]byte("row9999"), []byte("late")); err != nil {
		t.Fatalf("Set during scan failed: %v", err)
	}

	rows := drain(t, s)
	if len(rows) != 10 {
		t.Fatalf("Expected remaining 10 rows, got %d", len(rows))
	}
	if string(rows[len(rows)-1].Key) != "row9999" {
		t.Errorf("Expected late row at the end, got %q", rows[len(rows)-1].Key)
	}
}

func TestScannerBlockCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	db := &KV{Path: filepath.Join(t.TempDir(), "cache.db"), BlockCachePages: 64, Metrics: m}
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer db.Close()
	fillKV(t, db, 100)

	for pass := 0; pass < 2; pass++ {
		s, err := db.NewScanner(Range{CacheBlocks: true})
		if err != nil {
			t.Fatalf("NewScanner failed: %v", err)
		}
		if rows := drain(t, s); len(rows) != 100 {
			t.Fatalf("Pass %d: expected 100 rows, got %d", pass, len(rows))
		}
		s.Close()
	}

	if db.cache.len() == 0 {
		t.Error("Expected pages in the block cache")
	}
	if testutil.ToFloat64(m.BlockCacheHits) == 0 {
		t.Error("Expected block cache hits on the second pass")
	}

	// Scans that opt out do not touch the cache
	before := testutil.ToFloat64(m.BlockCacheMisses) + testutil.ToFloat64(m.BlockCacheHits)
	s, _ := db.NewScanner(Range{})
	drain(t, s)
	after := testutil.ToFloat64(m.BlockCacheMisses) + testutil.ToFloat64(m.BlockCacheHits)
	if before != after {
		t.Errorf("Uncached scan changed cache counters: %v -> %v", before, after)
	}
}

func TestScannerClose(t *testing.T) {
	db := openTestKV(t, filepath.Join(t.TempDir(), "close.db"))
	defer db.Close()
	fillKV(t, db, 5)

	s, err := db.NewScanner(Range{})
	if err != nil {
		t.Fatalf("NewScanner failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if _, _, err := s.Next(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestScannerCloseMidRange(t *testing.T) {
	db := openTestKV(t, filepath.Join(t.TempDir(), "closemid.db"))
	defer db.Close()
	fillKV(t, db, 10)

	rs, err := db.NewScanner(Range{Caching: 3})
	if err != nil {
		t.Fatalf("NewScanner failed: %v", err)
	}
	if _, ok, err := rs.Next(); !ok || err != nil {
		t.Fatalf("First row: ok=%v err=%v", ok, err)
	}

	s := rs.(*Scanner)
	if s.last == nil || len(s.batch) == 0 {
		t.Fatalf("Expected a buffered batch before close")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if s.last != nil || s.batch != nil {
		t.Errorf("Close should drop the batch and resume key: last=%q batch=%d", s.last, len(s.batch))
	}
	if _, _, err := s.Next(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
