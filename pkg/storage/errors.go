// ABOUTME: Error values reported by the key-value store
// ABOUTME: Store faults propagate unchanged to scan consumers

package storage

import "errors"

var (
	// ErrClosed indicates an operation on a closed store or scanner
	ErrClosed = errors.New("storage: closed")

	// ErrLocked indicates another process holds the database file lock
	ErrLocked = errors.New("storage: database is locked by another process")

	// ErrKeyTooLarge indicates a key above BTREE_MAX_KEY_SIZE
	ErrKeyTooLarge = errors.New("storage: key too large")

	// ErrValueTooLarge indicates a value above BTREE_MAX_VAL_SIZE
	ErrValueTooLarge = errors.New("storage: value too large")

	// ErrStoreFault indicates an I/O or page-level failure while reading the tree
	ErrStoreFault = errors.New("storage: store fault")

	// ErrInvalidRange indicates a malformed scan range
	ErrInvalidRange = errors.New("storage: invalid range")
)
