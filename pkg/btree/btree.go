// ABOUTME: Copy-on-write B+Tree over caller-managed pages
// ABOUTME: Point reads, conditional updates, and deletes; every change writes new pages up to the root

package btree

import (
	"bytes"
	"fmt"
)

// UpdateMode selects which keys an update may touch
type UpdateMode int

const (
	ModeUpsert     UpdateMode = iota // insert or replace
	ModeInsertOnly                   // only add new keys
	ModeUpdateOnly                   // only replace existing keys
)

// UpdateReq is a conditional write. Added, Updated, and Old are filled in by Update.
type UpdateReq struct {
	Key  []byte
	Val  []byte
	Mode UpdateMode

	Added   bool   // the key was new
	Updated bool   // the tree changed
	Old     []byte // previous value when the key existed
}

// BTree is a B+Tree whose pages live behind three callbacks.
// The root leaf starts with an empty sentinel key that covers the whole key space.
type BTree struct {
	root uint64
	get  func(uint64) []byte // dereference a page
	new  func([]byte) uint64 // allocate a page
	del  func(uint64)        // free a page
}

// SetCallbacks sets the page management callbacks
func (tree *BTree) SetCallbacks(get func(uint64) []byte, new func([]byte) uint64, del func(uint64)) {
	tree.get = get
	tree.new = new
	tree.del = del
}

// GetRoot returns the root pointer; 0 is an empty tree
func (tree *BTree) GetRoot() uint64 {
	return tree.root
}

// SetRoot sets the root pointer
func (tree *BTree) SetRoot(root uint64) {
	tree.root = root
}

// CheckRoot validates the root page of a non-empty tree
func (tree *BTree) CheckRoot() error {
	if tree.root == 0 {
		return nil
	}
	if err := CheckNode(tree.get(tree.root)); err != nil {
		return fmt.Errorf("root page %d: %w", tree.root, err)
	}
	return nil
}

// Get retrieves a value by key. The slice aliases the page.
func (tree *BTree) Get(key []byte) ([]byte, bool) {
	if tree.root == 0 {
		return nil, false
	}
	node := BNode(tree.get(tree.root))
	for {
		idx := nodeLookupLE(node, key)
		switch node.btype() {
		case BNODE_LEAF:
			if bytes.Equal(key, node.getKey(idx)) {
				return node.getVal(idx), true
			}
			return nil, false
		case BNODE_NODE:
			node = BNode(tree.get(node.getPtr(idx)))
		default:
			panic(fmt.Sprintf("btree: bad node type %d", node.btype()))
		}
	}
}

// Insert inserts or replaces a key-value pair
func (tree *BTree) Insert(key []byte, val []byte) {
	tree.Update(&UpdateReq{Key: key, Val: val})
}

// Update applies req and reports whether the tree changed.
// Writing a value equal to the stored one leaves the tree untouched.
func (tree *BTree) Update(req *UpdateReq) bool {
	old, exists := tree.Get(req.Key)
	switch {
	case exists && req.Mode == ModeInsertOnly:
		req.Old = old
		return false
	case !exists && req.Mode == ModeUpdateOnly:
		return false
	case exists && bytes.Equal(old, req.Val):
		req.Old = old
		return false
	}
	if exists {
		req.Old = append([]byte{}, old...)
	}
	req.Added = !exists
	req.Updated = true

	if tree.root == 0 {
		root := BNode(make([]byte, BTREE_PAGE_SIZE))
		root.setHeader(BNODE_LEAF, 2)
		nodeAppendKV(root, 0, 0, nil, nil)
		nodeAppendKV(root, 1, 0, req.Key, req.Val)
		tree.root = tree.new(root)
		return true
	}

	node := treeInsert(tree, BNode(tree.get(tree.root)), req.Key, req.Val)
	nsplit, split := nodeSplit3(node)
	tree.del(tree.root)
	if nsplit == 1 {
		tree.root = tree.new(split[0])
		return true
	}

	// The root split: grow a level
	root := BNode(make([]byte, BTREE_PAGE_SIZE))
	root.setHeader(BNODE_NODE, nsplit)
	for i, kid := range split[:nsplit] {
		nodeAppendKV(root, uint16(i), tree.new(kid), kid.getKey(0), nil)
	}
	tree.root = tree.new(root)
	return true
}

// treeInsert returns a copy of node with key set; the copy may exceed one page
func treeInsert(tree *BTree, node BNode, key []byte, val []byte) BNode {
	out := BNode(make([]byte, 2*BTREE_PAGE_SIZE))
	idx := nodeLookupLE(node, key)

	switch node.btype() {
	case BNODE_LEAF:
		if bytes.Equal(key, node.getKey(idx)) {
			leafReplace(out, node, idx, key, val)
		} else {
			leafInsert(out, node, idx+1, key, val)
		}
	case BNODE_NODE:
		kptr := node.getPtr(idx)
		kid := treeInsert(tree, BNode(tree.get(kptr)), key, val)
		nsplit, split := nodeSplit3(kid)
		tree.del(kptr)
		nodeReplaceKidN(tree, out, node, idx, split[:nsplit]...)
	default:
		panic(fmt.Sprintf("btree: bad node type %d", node.btype()))
	}
	return out
}

func leafInsert(new BNode, old BNode, idx uint16, key []byte, val []byte) {
	new.setHeader(BNODE_LEAF, old.nkeys()+1)
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendKV(new, idx, 0, key, val)
	nodeAppendRange(new, old, idx+1, idx, old.nkeys()-idx)
}

func leafReplace(new BNode, old BNode, idx uint16, key []byte, val []byte) {
	new.setHeader(BNODE_LEAF, old.nkeys())
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendKV(new, idx, 0, key, val)
	nodeAppendRange(new, old, idx+1, idx+1, old.nkeys()-(idx+1))
}

func leafRemove(new BNode, old BNode, idx uint16) {
	new.setHeader(BNODE_LEAF, old.nkeys()-1)
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendRange(new, old, idx, idx+1, old.nkeys()-(idx+1))
}

// nodeReplaceKidN replaces the link at idx with one link per kid
func nodeReplaceKidN(tree *BTree, new BNode, old BNode, idx uint16, kids ...BNode) {
	inc := uint16(len(kids))
	new.setHeader(BNODE_NODE, old.nkeys()+inc-1)
	nodeAppendRange(new, old, 0, 0, idx)
	for i, kid := range kids {
		nodeAppendKV(new, idx+uint16(i), tree.new(kid), kid.getKey(0), nil)
	}
	nodeAppendRange(new, old, idx+inc, idx+1, old.nkeys()-(idx+1))
}

// nodeReplace2Kid replaces the links at idx and idx+1 with one link
func nodeReplace2Kid(new BNode, old BNode, idx uint16, ptr uint64, key []byte) {
	new.setHeader(BNODE_NODE, old.nkeys()-1)
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendKV(new, idx, ptr, key, nil)
	nodeAppendRange(new, old, idx+1, idx+2, old.nkeys()-(idx+2))
}

// nodeSplit3 cuts an oversized node into at most three pages
func nodeSplit3(old BNode) (uint16, [3]BNode) {
	if old.nbytes() <= BTREE_PAGE_SIZE {
		return 1, [3]BNode{old[:BTREE_PAGE_SIZE]}
	}

	left := BNode(make([]byte, 2*BTREE_PAGE_SIZE))
	right := BNode(make([]byte, BTREE_PAGE_SIZE))
	nodeSplit2(left, right, old)
	if left.nbytes() <= BTREE_PAGE_SIZE {
		return 2, [3]BNode{left[:BTREE_PAGE_SIZE], right}
	}

	leftleft := BNode(make([]byte, BTREE_PAGE_SIZE))
	middle := BNode(make([]byte, BTREE_PAGE_SIZE))
	nodeSplit2(leftleft, middle, left)
	return 3, [3]BNode{leftleft, middle, right}
}

// nodeSplit2 splits old in two. right always fits one page; left may not.
func nodeSplit2(left BNode, right BNode, old BNode) {
	nkeys := old.nkeys()
	leftBytes := func(n uint16) int {
		return HEADER + (ptrSize+offsetSize)*int(n) + int(old.getOffset(n))
	}
	rightBytes := func(n uint16) int {
		return int(old.nbytes()) - leftBytes(n) + HEADER
	}

	nleft := nkeys / 2
	for nleft > 1 && leftBytes(nleft) > BTREE_PAGE_SIZE {
		nleft--
	}
	for nleft < nkeys-1 && rightBytes(nleft) > BTREE_PAGE_SIZE {
		nleft++
	}

	left.setHeader(old.btype(), nleft)
	nodeAppendRange(left, old, 0, 0, nleft)
	right.setHeader(old.btype(), nkeys-nleft)
	nodeAppendRange(right, old, 0, nleft, nkeys-nleft)
}

// Delete removes a key and reports whether it existed
func (tree *BTree) Delete(key []byte) bool {
	if tree.root == 0 {
		return false
	}

	updated := treeDelete(tree, BNode(tree.get(tree.root)), key)
	if updated == nil {
		return false
	}
	tree.del(tree.root)

	if updated.btype() == BNODE_NODE && updated.nkeys() == 1 {
		// A root with one child is replaced by the child
		tree.root = updated.getPtr(0)
	} else {
		tree.root = tree.new(updated)
	}
	return true
}

// treeDelete returns a copy of node without key, or nil when key is absent
func treeDelete(tree *BTree, node BNode, key []byte) BNode {
	idx := nodeLookupLE(node, key)

	switch node.btype() {
	case BNODE_LEAF:
		if !bytes.Equal(key, node.getKey(idx)) {
			return nil
		}
		out := BNode(make([]byte, BTREE_PAGE_SIZE))
		leafRemove(out, node, idx)
		return out
	case BNODE_NODE:
		return nodeDelete(tree, node, idx, key)
	default:
		panic(fmt.Sprintf("btree: bad node type %d", node.btype()))
	}
}

func nodeDelete(tree *BTree, node BNode, idx uint16, key []byte) BNode {
	kptr := node.getPtr(idx)
	updated := treeDelete(tree, BNode(tree.get(kptr)), key)
	if updated == nil {
		return nil
	}
	tree.del(kptr)

	out := BNode(make([]byte, BTREE_PAGE_SIZE))
	dir, sibling := shouldMerge(tree, node, idx, updated)
	switch {
	case dir < 0:
		merged := BNode(make([]byte, BTREE_PAGE_SIZE))
		nodeMerge(merged, sibling, updated)
		tree.del(node.getPtr(idx - 1))
		nodeReplace2Kid(out, node, idx-1, tree.new(merged), merged.getKey(0))
	case dir > 0:
		merged := BNode(make([]byte, BTREE_PAGE_SIZE))
		nodeMerge(merged, updated, sibling)
		tree.del(node.getPtr(idx + 1))
		nodeReplace2Kid(out, node, idx, tree.new(merged), merged.getKey(0))
	case updated.nkeys() == 0:
		// The only child emptied out
		out.setHeader(BNODE_NODE, 0)
	default:
		nodeReplaceKidN(tree, out, node, idx, updated)
	}
	return out
}

// shouldMerge picks a sibling to merge a shrunken child into: -1 left, +1 right, 0 none
func shouldMerge(tree *BTree, node BNode, idx uint16, updated BNode) (int, BNode) {
	if updated.nbytes() > BTREE_PAGE_SIZE/4 {
		return 0, nil
	}
	if idx > 0 {
		sibling := BNode(tree.get(node.getPtr(idx - 1)))
		if sibling.nbytes()+updated.nbytes()-HEADER <= BTREE_PAGE_SIZE {
			return -1, sibling
		}
	}
	if idx+1 < node.nkeys() {
		sibling := BNode(tree.get(node.getPtr(idx + 1)))
		if sibling.nbytes()+updated.nbytes()-HEADER <= BTREE_PAGE_SIZE {
			return +1, sibling
		}
	}
	return 0, nil
}

func nodeMerge(new BNode, left BNode, right BNode) {
	new.setHeader(left.btype(), left.nkeys()+right.nkeys())
	nodeAppendRange(new, left, 0, 0, left.nkeys())
	nodeAppendRange(new, right, left.nkeys(), 0, right.nkeys())
}
