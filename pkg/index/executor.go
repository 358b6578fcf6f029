// ABOUTME: Executes record scans against a secondary index
// ABOUTME: Turns a scan spec and index values into a native range scan

package index

import (
	"context"
	"fmt"

	"github.com/nainya/recordindex/internal/logger"
	"github.com/nainya/recordindex/internal/metrics"
	"github.com/nainya/recordindex/pkg/scan"
	"github.com/nainya/recordindex/pkg/storage"
)

// RangeScanner opens native range scans
type RangeScanner interface {
	NewScanner(r storage.Range) (storage.RowScanner, error)
}

// Executor runs index queries
type Executor struct {
	KV      RangeScanner
	Log     *logger.Logger
	Metrics *metrics.Metrics
}

// Query scans the entries of def whose index key equals the encoding of values,
// restricted to targets in [spec start, spec stop). Filter and projection are not
// applied here; they need the target records.
func (e *Executor) Query(ctx context.Context, def *Definition, values []any, spec *scan.Spec) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if spec == nil {
		var err error
		if spec, err = scan.NewBuilder().Build(); err != nil {
			return nil, err
		}
	}

	indexKey, err := def.EncodeKey(values...)
	if err != nil {
		return nil, err
	}

	rng := QueryRange(indexKey, spec)
	scanner, err := e.KV.NewScanner(rng)
	if err != nil {
		return nil, fmt.Errorf("query index %s: %w", def.Name, err)
	}

	logger.OrNop(e.Log).ScanLogger("index").Debug("index query").
		Str("index", def.Name).
		Hex("start", rng.Start).
		Hex("stop", rng.Stop).
		Int("caching", rng.Caching).
		Bool("cache_blocks", rng.CacheBlocks).
		Send()

	res := NewResult(scanner, def.KeyLength())
	res.Metrics = e.Metrics
	return res, nil
}

// QueryRange is the store range of an index query: the index key followed by the
// spec bounds, or the whole index key when a bound is unset
func QueryRange(indexKey []byte, spec *scan.Spec) storage.Range {
	rng := storage.Range{
		Start:       append(append([]byte{}, indexKey...), spec.StartID().Bytes()...),
		Caching:     spec.Caching(),
		CacheBlocks: spec.CacheBlocks(),
	}
	if spec.StopID().IsSet() {
		rng.Stop = append(append([]byte{}, indexKey...), spec.StopID().Bytes()...)
	} else {
		rng.Stop = storage.PrefixEnd(indexKey)
	}
	return rng
}
