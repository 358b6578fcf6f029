// ABOUTME: B+Tree cursor for ordered range reads
// ABOUTME: A root-to-leaf stack of frames; each cursor may bring its own page reader

package btree

import "bytes"

type frame struct {
	node BNode
	idx  uint16
}

// BIter is a cursor over the tree. It reads the pages of the root it was positioned
// on and must not be used across writes.
type BIter struct {
	tree  *BTree
	get   func(uint64) []byte
	stack []frame
}

// NewIterator creates a cursor that reads pages through the tree's callback
func (tree *BTree) NewIterator() *BIter {
	return tree.NewIteratorWith(nil)
}

// NewIteratorWith creates a cursor that dereferences pages through get.
// A nil get uses the tree's callback.
func (tree *BTree) NewIteratorWith(get func(uint64) []byte) *BIter {
	if get == nil {
		get = tree.get
	}
	return &BIter{tree: tree, get: get, stack: make([]frame, 0, 8)}
}

func (iter *BIter) leaf() *frame {
	if len(iter.stack) == 0 {
		return nil
	}
	return &iter.stack[len(iter.stack)-1]
}

// SeekLE positions the cursor on the last key <= key.
// It is false only for an empty tree; the sentinel catches every smaller key.
func (iter *BIter) SeekLE(key []byte) bool {
	iter.stack = iter.stack[:0]
	if iter.tree.root == 0 {
		return false
	}

	node := BNode(iter.get(iter.tree.root))
	for {
		idx := nodeLookupLE(node, key)
		iter.stack = append(iter.stack, frame{node: node, idx: idx})
		if node.btype() == BNODE_LEAF {
			return true
		}
		node = BNode(iter.get(node.getPtr(idx)))
	}
}

// SeekGE positions the cursor on the first key >= key
func (iter *BIter) SeekGE(key []byte) bool {
	if !iter.SeekLE(key) {
		return false
	}
	if bytes.Compare(iter.Key(), key) < 0 {
		return iter.Next()
	}
	return iter.Valid()
}

// Valid reports whether the cursor is on a pair
func (iter *BIter) Valid() bool {
	top := iter.leaf()
	return top != nil && top.idx < top.node.nkeys()
}

// Key returns the current key, or nil
func (iter *BIter) Key() []byte {
	if !iter.Valid() {
		return nil
	}
	top := iter.leaf()
	return top.node.getKey(top.idx)
}

// Val returns the current value, or nil
func (iter *BIter) Val() []byte {
	if !iter.Valid() {
		return nil
	}
	top := iter.leaf()
	return top.node.getVal(top.idx)
}

// Next moves to the following pair and reports whether there is one
func (iter *BIter) Next() bool {
	// Climb until some level has a right neighbour
	for len(iter.stack) > 0 {
		top := iter.leaf()
		top.idx++
		if top.idx < top.node.nkeys() {
			break
		}
		iter.stack = iter.stack[:len(iter.stack)-1]
	}
	if len(iter.stack) == 0 {
		return false
	}

	// Then walk down the leftmost edge of that subtree
	for top := iter.leaf(); top.node.btype() == BNODE_NODE; top = iter.leaf() {
		child := BNode(iter.get(top.node.getPtr(top.idx)))
		iter.stack = append(iter.stack, frame{node: child})
	}
	return true
}

// Scan calls fn for every pair from start onwards until fn returns false.
// The sentinel is included when start is empty.
func (tree *BTree) Scan(start []byte, fn func(key, val []byte) bool) {
	iter := tree.NewIterator()
	for ok := iter.SeekGE(start); ok; ok = iter.Next() {
		if !fn(iter.Key(), iter.Val()) {
			return
		}
	}
}
