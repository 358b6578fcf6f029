// ABOUTME: Decoder from raw index rows to target record keys
// ABOUTME: Strips the fixed-length index key known from the definition

package index

import (
	"errors"
	"fmt"

	"github.com/nainya/recordindex/internal/metrics"
	"github.com/nainya/recordindex/pkg/storage"
)

// ErrCorruptRow matches every *CorruptRowError
var ErrCorruptRow = errors.New("corrupt index row")

// CorruptRowError reports a row key shorter than the index key length
type CorruptRowError struct {
	Key            []byte
	IndexKeyLength int
}

func (e *CorruptRowError) Error() string {
	return fmt.Sprintf("corrupt index row: key %x is %d bytes, index key length is %d", e.Key, len(e.Key), e.IndexKeyLength)
}

func (e *CorruptRowError) Unwrap() error { return ErrCorruptRow }

// Result yields the target keys of an index scan. It is not safe for concurrent use.
type Result struct {
	scanner        storage.RowScanner
	indexKeyLength int
	done           bool
	closed         bool

	Metrics *metrics.Metrics
}

// NewResult wraps scanner; every row key starts with indexKeyLength bytes of index key
func NewResult(scanner storage.RowScanner, indexKeyLength int) *Result {
	return &Result{scanner: scanner, indexKeyLength: indexKeyLength}
}

// Next returns a fresh copy of the next target key. ok is false once the scanner is
// exhausted; later calls return ok == false without reading the scanner again.
// Scanner errors are returned unchanged.
func (r *Result) Next() (target []byte, ok bool, err error) {
	if r.done {
		return nil, false, nil
	}

	row, ok, err := r.scanner.Next()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		r.done = true
		return nil, false, nil
	}

	if len(row.Key) < r.indexKeyLength {
		return nil, false, &CorruptRowError{Key: append([]byte{}, row.Key...), IndexKeyLength: r.indexKeyLength}
	}

	target = make([]byte, len(row.Key)-r.indexKeyLength)
	copy(target, row.Key[r.indexKeyLength:])
	r.Metrics.RecordTargetDecoded()
	return target, true, nil
}

// Close releases the scanner. Calling it more than once is harmless.
func (r *Result) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.done = true
	return r.scanner.Close()
}
