// ABOUTME: Batched range scanner over the sorted KV store
// ABOUTME: Fetches Caching rows per batch under the read lock and resumes after the last key

package storage

import (
	"bytes"
	"fmt"
)

// DefaultCaching is the number of rows fetched per batch when a range does not set one
const DefaultCaching = 100

// Row is one key-value pair returned by a scanner. Both slices are private copies.
type Row struct {
	Key   []byte
	Value []byte
}

// RowScanner yields rows in key order.
// Next returns ok == false once the range is exhausted.
type RowScanner interface {
	Next() (row Row, ok bool, err error)
	Close() error
}

// Range describes a native range scan
type Range struct {
	Start       []byte // inclusive, nil means the first key
	Stop        []byte // exclusive, nil means past the last key
	Caching     int    // rows per batch
	CacheBlocks bool   // read flushed pages through the block cache
}

// Scanner is the RowScanner returned by KV.NewScanner. It is not safe for concurrent use.
type Scanner struct {
	db  *KV
	rng Range

	batch []Row
	pos   int
	last  []byte

	started bool
	done    bool
	closed  bool
}

// NewScanner starts a batched scan over r
func (db *KV) NewScanner(r Range) (RowScanner, error) {
	if r.Caching <= 0 {
		r.Caching = DefaultCaching
	}
	if r.Start != nil && r.Stop != nil && bytes.Compare(r.Start, r.Stop) > 0 {
		return nil, fmt.Errorf("%w: start %x is after stop %x", ErrInvalidRange, r.Start, r.Stop)
	}

	db.mu.RLock()
	closed := db.closed
	db.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	return &Scanner{
		db:    db,
		rng:   r,
		batch: make([]Row, 0, r.Caching),
	}, nil
}

// Next returns the next row of the range
func (s *Scanner) Next() (Row, bool, error) {
	if s.closed {
		return Row{}, false, ErrClosed
	}

	if s.pos >= len(s.batch) {
		if s.done {
			return Row{}, false, nil
		}
		if err := s.fill(); err != nil {
			return Row{}, false, err
		}
		if len(s.batch) == 0 {
			s.done = true
			return Row{}, false, nil
		}
	}

	row := s.batch[s.pos]
	s.pos++
	return row, true, nil
}

// Close drops the buffered batch and the resume key. The store's lock is only
// held while a batch is filled, so there is nothing else to release.
// It is safe to call at any point and more than once.
func (s *Scanner) Close() error {
	s.closed = true
	s.batch = nil
	s.last = nil
	return nil
}

func (s *Scanner) fill() (err error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	// Page dereferences panic on corrupt pointers; surface those as store faults
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStoreFault, r)
		}
	}()

	if s.db.closed {
		return ErrClosed
	}
	s.db.Metrics.RecordBatch()

	read := s.db.pageRead
	if s.rng.CacheBlocks {
		read = s.db.cachedPageRead
	}
	iter := s.db.tree.NewIteratorWith(read)

	s.batch = s.batch[:0]
	s.pos = 0

	var ok bool
	if !s.started {
		ok = iter.SeekGE(s.rng.Start)
		s.started = true
	} else {
		ok = iter.SeekGE(s.last)
		if ok && bytes.Equal(iter.Key(), s.last) {
			ok = iter.Next()
		}
	}

	for ok && len(s.batch) < s.rng.Caching {
		key := iter.Key()
		if s.rng.Stop != nil && bytes.Compare(key, s.rng.Stop) >= 0 {
			s.done = true
			return nil
		}
		if len(key) > 0 {
			row := Row{
				Key:   append([]byte{}, key...),
				Value: append([]byte{}, iter.Val()...),
			}
			s.batch = append(s.batch, row)
			s.last = row.Key
		}
		ok = iter.Next()
	}

	if !ok {
		s.done = true
	}
	return nil
}
