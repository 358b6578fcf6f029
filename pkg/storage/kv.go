// ABOUTME: Disk-based sorted KV store with B+Tree persistence
// ABOUTME: Copy-on-write pages, two-phase fsync, file lock, and an optional block cache

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/nainya/recordindex/internal/logger"
	"github.com/nainya/recordindex/internal/metrics"
	"github.com/nainya/recordindex/pkg/btree"
)

const BTREE_PAGE_SIZE = btree.BTREE_PAGE_SIZE

// KV is a persistent sorted key-value store in a single file.
// Reads and scans may run concurrently; writes and transactions are exclusive.
type KV struct {
	Path string

	// BlockCachePages bounds the block cache; 0 disables it
	BlockCachePages int
	Log             *logger.Logger
	Metrics         *metrics.Metrics

	mu     sync.RWMutex
	fd     int
	lock   *flock.Flock
	cache  *blockCache
	closed bool

	tree btree.BTree
	free FreeList
	mmap mapping

	page struct {
		flushed uint64            // pages on disk, including the meta page
		temp    [][]byte          // appended pages not yet written
		updates map[uint64][]byte // rewritten flushed pages not yet written
	}

	// The meta page on disk may be ahead of memory after a failed update
	failed bool
}

// Open opens or creates the database file and takes an exclusive lock on it
func (db *KV) Open() error {
	db.Log = logger.OrNop(db.Log).StoreLogger(db.Path)

	db.lock = flock.New(db.Path + ".lock")
	locked, err := db.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", db.Path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, db.Path)
	}

	if err := db.open(); err != nil {
		_ = db.lock.Unlock()
		return err
	}

	if db.BlockCachePages > 0 {
		cache, err := newBlockCache(db.BlockCachePages, db.Metrics)
		if err != nil {
			_ = db.closeFile()
			_ = db.lock.Unlock()
			return err
		}
		db.cache = cache
	}

	db.Metrics.RecordStorePages(db.page.flushed, db.free.Len())
	db.Log.Debug("database opened").
		Uint64("pages", db.page.flushed).
		Int("free_pages", db.free.Len()).
		Int("block_cache_pages", db.BlockCachePages).
		Send()
	return nil
}

func (db *KV) open() error {
	fd, err := createFileSync(db.Path)
	if err != nil {
		return err
	}
	db.fd = fd

	var st syscall.Stat_t
	if err := syscall.Fstat(fd, &st); err != nil {
		_ = syscall.Close(fd)
		return fmt.Errorf("fstat %s: %w", db.Path, err)
	}

	db.page.updates = make(map[uint64][]byte)
	db.page.flushed = 1 // the meta page
	if st.Size > 0 {
		if err := db.mmap.grow(fd, int(st.Size)); err != nil {
			_ = syscall.Close(fd)
			return err
		}
		if err := db.readMeta(); err != nil {
			_ = db.closeFile()
			return err
		}
	}

	db.free.get = db.pageRead
	db.free.new = db.pageAppend
	db.free.set = db.pageWrite
	// Everything on the list was freed by a committed update
	db.free.Commit()

	db.tree.SetCallbacks(db.pageRead, db.pageAlloc, db.pageFree)
	if err := db.checkRoot(); err != nil {
		_ = db.closeFile()
		return err
	}
	return nil
}

// Close unmaps and closes the file and releases the lock
func (db *KV) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	err := db.closeFile()
	if db.cache != nil {
		db.cache.purge()
	}
	if db.lock != nil {
		if uerr := db.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
		_ = os.Remove(db.Path + ".lock")
	}
	return err
}

func (db *KV) closeFile() error {
	err := db.mmap.unmap()
	if cerr := syscall.Close(db.fd); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// checkRoot rejects a database whose root page is not a valid node
func (db *KV) checkRoot() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStoreFault, r)
		}
	}()
	if err := db.tree.CheckRoot(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFault, err)
	}
	return nil
}

// Get returns a private copy of the value stored under key
func (db *KV) Get(key []byte) ([]byte, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, false
	}
	val, ok := db.tree.Get(key)
	if !ok {
		return nil, false
	}
	return append([]byte{}, val...), true
}

// Set inserts or replaces a key-value pair
func (db *KV) Set(key []byte, val []byte) error {
	_, err := db.Update(&btree.UpdateReq{Key: key, Val: val, Mode: btree.ModeUpsert})
	return err
}

// Update applies a conditional write and reports whether the store changed.
// The request's Added, Updated and Old fields are filled in.
func (db *KV) Update(req *btree.UpdateReq) (bool, error) {
	if err := checkSizes(req.Key, req.Val); err != nil {
		return false, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return false, ErrClosed
	}

	meta := db.saveMeta()
	if !db.tree.Update(req) {
		req.Old = append([]byte(nil), req.Old...)
		return false, nil
	}
	return true, db.commit(meta)
}

// Del deletes a key and reports whether it existed
func (db *KV) Del(key []byte) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return false, ErrClosed
	}

	meta := db.saveMeta()
	if !db.tree.Delete(key) {
		return false, nil
	}
	return true, db.commit(meta)
}

// Scan calls fn for each pair from start onwards until it returns false.
// The store stays read-locked for the whole scan; long scans should use NewScanner.
func (db *KV) Scan(start []byte, fn func(key, val []byte) bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return
	}
	db.tree.Scan(start, skipSentinel(fn))
}

func skipSentinel(fn func(key, val []byte) bool) func(key, val []byte) bool {
	return func(key, val []byte) bool {
		return len(key) == 0 || fn(key, val)
	}
}

func checkSizes(key, val []byte) error {
	if len(key) == 0 || len(key) > btree.BTREE_MAX_KEY_SIZE {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}
	if len(val) > btree.BTREE_MAX_VAL_SIZE {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(val))
	}
	return nil
}

// pageRead dereferences a page: pending rewrites first, then appended pages, then the file
func (db *KV) pageRead(ptr uint64) []byte {
	if page, ok := db.page.updates[ptr]; ok {
		return page
	}
	if ptr >= db.page.flushed {
		if i := ptr - db.page.flushed; i < uint64(len(db.page.temp)) {
			return db.page.temp[i]
		}
	}
	return db.mmap.page(ptr)
}

// cachedPageRead is pageRead with flushed pages served through the block cache
func (db *KV) cachedPageRead(ptr uint64) []byte {
	if db.cache == nil || ptr >= db.page.flushed {
		return db.pageRead(ptr)
	}
	if _, pending := db.page.updates[ptr]; pending {
		return db.pageRead(ptr)
	}
	if page, ok := db.cache.get(ptr); ok {
		return page
	}
	page := append([]byte{}, db.mmap.page(ptr)...)
	db.cache.add(ptr, page)
	return page
}

// pageAlloc stores a new node in a recycled page when one is free
func (db *KV) pageAlloc(node []byte) uint64 {
	checkPageSize(node)
	if ptr := db.free.PopHead(); ptr != 0 {
		db.page.updates[ptr] = node
		db.invalidate(ptr)
		return ptr
	}
	return db.pageAppend(node)
}

// pageAppend stores a node past the end of the file
func (db *KV) pageAppend(node []byte) uint64 {
	checkPageSize(node)
	ptr := db.page.flushed + uint64(len(db.page.temp))
	db.page.temp = append(db.page.temp, node)
	return ptr
}

// pageWrite replaces a page. Unflushed pages are replaced in the temp list.
func (db *KV) pageWrite(ptr uint64, node []byte) {
	checkPageSize(node)
	if ptr >= db.page.flushed {
		db.page.temp[ptr-db.page.flushed] = node
		return
	}
	db.page.updates[ptr] = node
	db.invalidate(ptr)
}

// pageFree hands a flushed page to the free list. Unflushed pages are simply dropped.
func (db *KV) pageFree(ptr uint64) {
	if ptr < db.page.flushed {
		db.free.PushTail(ptr)
	}
}

func checkPageSize(node []byte) {
	if len(node) != BTREE_PAGE_SIZE {
		panic(fmt.Sprintf("page of %d bytes", len(node)))
	}
}

func (db *KV) invalidate(ptr uint64) {
	if db.cache != nil {
		db.cache.remove(ptr)
	}
}

// discard drops pending pages and restores the state saved in meta
func (db *KV) discard(meta []byte) {
	db.loadMeta(meta)
	db.page.temp = db.page.temp[:0]
	db.page.updates = make(map[uint64][]byte)
	if db.cache != nil {
		db.cache.purge()
	}
}

// commit writes pending pages and then the meta page. On failure the in-memory
// state goes back to meta, which is rewritten before the next update.
func (db *KV) commit(meta []byte) error {
	if db.failed {
		if err := db.writeMeta(meta); err != nil {
			return err
		}
		if err := syscall.Fsync(db.fd); err != nil {
			return err
		}
		db.failed = false
	}

	if err := db.flush(); err != nil {
		db.discard(meta)
		db.failed = true
		db.Log.Error("update failed, reverted to previous meta").Err(err).Send()
		return err
	}

	// Pages freed by this update are no longer reachable from the on-disk root
	db.free.Commit()
	db.Metrics.RecordStorePages(db.page.flushed, db.free.Len())
	return nil
}

// flush makes pages durable before the meta page that points at them
func (db *KV) flush() error {
	if err := db.writePages(); err != nil {
		return err
	}
	if err := syscall.Fsync(db.fd); err != nil {
		return err
	}
	if err := db.writeMeta(db.saveMeta()); err != nil {
		return err
	}
	return syscall.Fsync(db.fd)
}

func (db *KV) writePages() error {
	for ptr, page := range db.page.updates {
		if _, err := syscall.Pwrite(db.fd, page, int64(ptr*BTREE_PAGE_SIZE)); err != nil {
			return fmt.Errorf("write page %d: %w", ptr, err)
		}
	}
	db.page.updates = make(map[uint64][]byte)

	if len(db.page.temp) == 0 {
		return nil
	}

	end := db.page.flushed + uint64(len(db.page.temp))
	if err := db.mmap.grow(db.fd, int(end*BTREE_PAGE_SIZE)); err != nil {
		return err
	}
	for i, page := range db.page.temp {
		ptr := db.page.flushed + uint64(i)
		if _, err := syscall.Pwrite(db.fd, page, int64(ptr*BTREE_PAGE_SIZE)); err != nil {
			return fmt.Errorf("write page %d: %w", ptr, err)
		}
	}
	db.page.flushed = end
	db.page.temp = db.page.temp[:0]
	return nil
}

func (db *KV) writeMeta(data []byte) error {
	if _, err := syscall.Pwrite(db.fd, data, 0); err != nil {
		return fmt.Errorf("write meta page: %w", err)
	}
	return nil
}

// createFileSync opens or creates file and fsyncs its directory
func createFileSync(file string) (int, error) {
	fd, err := syscall.Open(file, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", file, err)
	}

	dirfd, err := syscall.Open(filepath.Dir(file), os.O_RDONLY, 0)
	if err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("open directory: %w", err)
	}
	defer syscall.Close(dirfd)

	if err := syscall.Fsync(dirfd); err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("fsync directory: %w", err)
	}
	return fd, nil
}
