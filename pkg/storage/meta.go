// ABOUTME: Meta page of the database file
// ABOUTME: Root pointer, page count, and free list position, sealed with a checksum

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Meta page layout (page 0):
//
//	| sig | root | flushed | free list | checksum |
//	| 16B |  8B  |   8B    |    40B    |    8B    |
const (
	DB_SIG         = "RecordIndex01\x00\x00\x00"
	META_PAGE_SIZE = 80

	metaRootOff    = 16
	metaFlushedOff = 24
	metaFreeOff    = 32
	metaSumOff     = metaFreeOff + freeListMetaSize
)

// ErrBadMeta is returned when the meta page fails validation
var ErrBadMeta = errors.New("storage: bad meta page")

// saveMeta encodes the current root, page count, and free list position
func (db *KV) saveMeta() []byte {
	data := make([]byte, META_PAGE_SIZE)
	copy(data, DB_SIG)
	binary.LittleEndian.PutUint64(data[metaRootOff:], db.tree.GetRoot())
	binary.LittleEndian.PutUint64(data[metaFlushedOff:], db.page.flushed)
	copy(data[metaFreeOff:metaSumOff], db.free.Serialize())
	binary.LittleEndian.PutUint64(data[metaSumOff:], xxhash.Sum64(data[:metaSumOff]))
	return data
}

// loadMeta restores state saved by saveMeta
func (db *KV) loadMeta(data []byte) {
	db.tree.SetRoot(binary.LittleEndian.Uint64(data[metaRootOff:]))
	db.page.flushed = binary.LittleEndian.Uint64(data[metaFlushedOff:])
	db.free.Deserialize(data[metaFreeOff:metaSumOff])
}

// readMeta validates and loads the meta page of an existing file
func (db *KV) readMeta() error {
	data := db.mmap.page(0)[:META_PAGE_SIZE]
	if sig := string(data[:len(DB_SIG)]); sig != DB_SIG {
		return fmt.Errorf("%w: signature %q", ErrBadMeta, sig)
	}
	if sum := binary.LittleEndian.Uint64(data[metaSumOff:]); sum != xxhash.Sum64(data[:metaSumOff]) {
		return fmt.Errorf("%w: checksum mismatch", ErrBadMeta)
	}

	db.loadMeta(data)
	if db.page.flushed == 0 || uint64(db.mmap.total) < db.page.flushed*BTREE_PAGE_SIZE {
		return fmt.Errorf("%w: %d pages do not fit the file", ErrBadMeta, db.page.flushed)
	}
	return nil
}
