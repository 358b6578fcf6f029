// ABOUTME: Transaction support for atomic multi-key operations
// ABOUTME: A transaction holds the store's write lock from Begin to Commit/Abort

package storage

import "github.com/nainya/recordindex/pkg/btree"

// KVTX represents a key-value transaction
type KVTX struct {
	db   *KV
	meta []byte // Saved meta for rollback
	done bool
	err  error
}

// Begin starts a new transaction. It blocks other writers and readers until
// Commit or Abort.
func (db *KV) Begin() *KVTX {
	db.mu.Lock()
	tx := &KVTX{db: db}
	if db.closed {
		tx.err = ErrClosed
		return tx
	}
	tx.meta = db.saveMeta()
	return tx
}

// Commit commits the transaction atomically
func (tx *KVTX) Commit() error {
	if tx.done {
		return ErrClosed
	}
	tx.done = true
	defer tx.db.mu.Unlock()

	if tx.err != nil {
		if tx.meta != nil {
			tx.revert()
		}
		return tx.err
	}
	return tx.db.commit(tx.meta)
}

// Abort rolls back the transaction
func (tx *KVTX) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	defer tx.db.mu.Unlock()

	if tx.meta != nil {
		tx.revert()
	}
}

func (tx *KVTX) revert() {
	tx.db.discard(tx.meta)
}

// Get retrieves a value within the transaction
func (tx *KVTX) Get(key []byte) ([]byte, bool) {
	if tx.err != nil {
		return nil, false
	}
	return tx.db.tree.Get(key)
}

// Set inserts or updates a key-value pair within the transaction.
// The first failure is remembered and returned by Commit.
func (tx *KVTX) Set(key []byte, val []byte) {
	if tx.err != nil {
		return
	}
	if err := checkSizes(key, val); err != nil {
		tx.err = err
		return
	}
	tx.db.tree.Insert(key, val)
}

// Update applies a conditional write within the transaction
func (tx *KVTX) Update(req *btree.UpdateReq) bool {
	if tx.err != nil {
		return false
	}
	if err := checkSizes(req.Key, req.Val); err != nil {
		tx.err = err
		return false
	}
	return tx.db.tree.Update(req)
}

// Del deletes a key within the transaction
func (tx *KVTX) Del(key []byte) bool {
	if tx.err != nil {
		return false
	}
	return tx.db.tree.Delete(key)
}

// Scan performs a range scan within the transaction
func (tx *KVTX) Scan(start []byte, callback func(key, val []byte) bool) {
	if tx.err != nil {
		return
	}
	tx.db.tree.Scan(start, skipSentinel(callback))
}
