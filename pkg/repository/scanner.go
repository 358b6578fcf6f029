// ABOUTME: Record scanners over the record table and over index query results
// ABOUTME: Records pass through the scan filter and projection before they are returned

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/recordindex/internal/logger"
	"github.com/nainya/recordindex/internal/metrics"
	"github.com/nainya/recordindex/pkg/filter"
	"github.com/nainya/recordindex/pkg/index"
	"github.com/nainya/recordindex/pkg/scan"
	"github.com/nainya/recordindex/pkg/schema"
	"github.com/nainya/recordindex/pkg/storage"
)

// Scan kinds used in logs and metrics
const (
	KindTable = "table"
	KindIndex = "index"
)

type source interface {
	next(ctx context.Context) (*schema.Record, bool, error)
	close() error
}

// RecordScanner yields the records of a scan. It is not safe for concurrent use.
type RecordScanner struct {
	kind    string
	src     source
	spec    *scan.Spec
	env     filter.Env
	log     *logger.Logger
	metrics *metrics.Metrics

	started time.Time
	rows    int
	err     error
	closed  bool
}

// Scan runs spec over the record table
func (r *Repository) Scan(ctx context.Context, spec *scan.Spec) (*RecordScanner, error) {
	spec, env, err := r.scanSetup(ctx, spec)
	if err != nil {
		return nil, err
	}

	prefix := RecordTablePrefix()
	rng := storage.Range{
		Start:       append(append([]byte{}, prefix...), spec.StartID().Bytes()...),
		Caching:     spec.Caching(),
		CacheBlocks: spec.CacheBlocks(),
	}
	if spec.StopID().IsSet() {
		rng.Stop = append(append([]byte{}, prefix...), spec.StopID().Bytes()...)
	} else {
		rng.Stop = storage.PrefixEnd(prefix)
	}

	rows, err := r.kv.NewScanner(rng)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return r.newRecordScanner(KindTable, &tableSource{repo: r, rows: rows, prefixLen: len(prefix)}, spec, env), nil
}

// QueryIndex runs spec over the entries of def matching values and resolves each
// target into its record. Targets whose record is gone are skipped.
func (r *Repository) QueryIndex(ctx context.Context, def *index.Definition, values []any, spec *scan.Spec) (*RecordScanner, error) {
	spec, env, err := r.scanSetup(ctx, spec)
	if err != nil {
		return nil, err
	}

	exec := &index.Executor{KV: r.kv, Log: r.log, Metrics: r.metrics}
	res, err := exec.Query(ctx, def, values, spec)
	if err != nil {
		return nil, err
	}
	return r.newRecordScanner(KindIndex, &indexSource{repo: r, res: res}, spec, env), nil
}

func (r *Repository) scanSetup(ctx context.Context, spec *scan.Spec) (*scan.Spec, filter.Env, error) {
	if err := ctx.Err(); err != nil {
		return nil, filter.Env{}, err
	}
	if spec == nil {
		var err error
		if spec, err = scan.NewBuilder().Build(); err != nil {
			return nil, filter.Env{}, err
		}
	}

	env := filter.Env{Types: r.types}
	if spec.Filter() != nil {
		registry, err := r.fields.Get(ctx)
		if err != nil {
			return nil, filter.Env{}, err
		}
		env.Fields = registry
	}
	return spec, env, nil
}

func (r *Repository) newRecordScanner(kind string, src source, spec *scan.Spec, env filter.Env) *RecordScanner {
	return &RecordScanner{
		kind:    kind,
		src:     src,
		spec:    spec,
		env:     env,
		log:     r.log.ScanLogger(kind),
		metrics: r.metrics,
		started: time.Now(),
	}
}

// Next returns the next record passing the filter, projected to the requested fields
func (s *RecordScanner) Next(ctx context.Context) (*schema.Record, bool, error) {
	if s.closed {
		return nil, false, storage.ErrClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			s.err = err
			return nil, false, err
		}

		rec, ok, err := s.src.next(ctx)
		if err != nil {
			s.err = err
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}

		pass, err := filter.Evaluate(ctx, s.spec.Filter(), rec, s.env)
		if err != nil {
			s.err = err
			return nil, false, err
		}
		if !pass {
			s.metrics.RecordFilterRejection()
			continue
		}

		s.rows++
		return project(rec, s.spec.ReturnFields()), true, nil
	}
}

// Close releases the scan and records its outcome
func (s *RecordScanner) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.src.close()

	status := "success"
	if s.err != nil {
		status = "error"
	}
	duration := time.Since(s.started)
	s.metrics.RecordScan(s.kind, status, s.rows, duration)
	s.log.LogScan(s.kind, duration, s.rows, s.err)
	return err
}

func project(rec *schema.Record, rf scan.ReturnFields) *schema.Record {
	switch rf.Type() {
	case scan.ReturnNone:
		rec.Fields = nil
	case scan.ReturnEnum:
		for name := range rec.Fields {
			if !rf.Includes(name) {
				delete(rec.Fields, name)
			}
		}
	}
	return rec
}

type tableSource struct {
	repo      *Repository
	rows      storage.RowScanner
	prefixLen int
}

func (t *tableSource) next(context.Context) (*schema.Record, bool, error) {
	row, ok, err := t.rows.Next()
	if err != nil || !ok {
		return nil, false, err
	}
	id, err := t.repo.gen.FromBytes(row.Key[t.prefixLen:])
	if err != nil {
		return nil, false, fmt.Errorf("record key %x: %w", row.Key, err)
	}
	rec, err := decodeBody(row.Value)
	if err != nil {
		return nil, false, fmt.Errorf("record %s: %w", id, err)
	}
	rec.ID = id
	return rec, true, nil
}

func (t *tableSource) close() error { return t.rows.Close() }

type indexSource struct {
	repo *Repository
	res  *index.Result
}

func (s *indexSource) next(ctx context.Context) (*schema.Record, bool, error) {
	for {
		target, ok, err := s.res.Next()
		if err != nil || !ok {
			return nil, false, err
		}
		id, err := s.repo.gen.FromBytes(target)
		if err != nil {
			return nil, false, fmt.Errorf("index target %x: %w", target, err)
		}

		body, found := s.repo.kv.Get(RecordKey(id))
		if !found {
			s.repo.metrics.RecordDanglingTarget()
			s.repo.log.Debug("skipping dangling index target").Str("id", id.String()).Send()
			continue
		}
		rec, err := decodeBody(body)
		if err != nil {
			return nil, false, fmt.Errorf("record %s: %w", id, err)
		}
		rec.ID = id
		return rec, true, nil
	}
}

func (s *indexSource) close() error { return s.res.Close() }
