// ABOUTME: B+Tree page layout and copy-on-write node builders
// ABOUTME: A node is one page: header, child pointers, KV offsets, then packed KV pairs

package btree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	BNODE_NODE = 1 // internal nodes without values
	BNODE_LEAF = 2 // leaf nodes with values
)

const (
	HEADER             = 4
	BTREE_PAGE_SIZE    = 4096
	BTREE_MAX_KEY_SIZE = 1000
	BTREE_MAX_VAL_SIZE = 3000
)

// Page layout:
//
//	| type u16 | nkeys u16 | ptrs nkeys*u64 | offsets nkeys*u16 | kv pairs ... |
//	kv pair: | klen u16 | vlen u16 | key | val |
//
// Offsets are relative to the first KV pair; the first pair's offset (0) is not stored.
const (
	ptrSize    = 8
	offsetSize = 2
	kvHeader   = 4
)

// ErrCorruptNode is returned by CheckNode for pages that cannot be a node
var ErrCorruptNode = errors.New("btree: corrupt node")

// BNode represents a B+Tree node as a byte slice
type BNode []byte

func (node BNode) btype() uint16 {
	return binary.LittleEndian.Uint16(node[0:2])
}

func (node BNode) nkeys() uint16 {
	return binary.LittleEndian.Uint16(node[2:4])
}

func (node BNode) setHeader(btype uint16, nkeys uint16) {
	binary.LittleEndian.PutUint16(node[0:2], btype)
	binary.LittleEndian.PutUint16(node[2:4], nkeys)
}

func (node BNode) ptrPos(idx uint16) int {
	if idx >= node.nkeys() {
		panic(fmt.Sprintf("btree: pointer %d out of range (%d keys)", idx, node.nkeys()))
	}
	return HEADER + ptrSize*int(idx)
}

func (node BNode) getPtr(idx uint16) uint64 {
	return binary.LittleEndian.Uint64(node[node.ptrPos(idx):])
}

func (node BNode) setPtr(idx uint16, val uint64) {
	binary.LittleEndian.PutUint64(node[node.ptrPos(idx):], val)
}

// offsetPos is the position of the stored offset of pair idx, for 1 <= idx <= nkeys
func (node BNode) offsetPos(idx uint16) int {
	n := node.nkeys()
	if idx < 1 || idx > n {
		panic(fmt.Sprintf("btree: offset %d out of range (%d keys)", idx, n))
	}
	return HEADER + ptrSize*int(n) + offsetSize*int(idx-1)
}

func (node BNode) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(node[node.offsetPos(idx):])
}

func (node BNode) setOffset(idx uint16, offset uint16) {
	binary.LittleEndian.PutUint16(node[node.offsetPos(idx):], offset)
}

// kvPos is the position of pair idx; kvPos(nkeys) is the end of the used space
func (node BNode) kvPos(idx uint16) uint16 {
	n := node.nkeys()
	if idx > n {
		panic(fmt.Sprintf("btree: pair %d out of range (%d keys)", idx, n))
	}
	return HEADER + (ptrSize+offsetSize)*n + node.getOffset(idx)
}

func (node BNode) getKey(idx uint16) []byte {
	if idx >= node.nkeys() {
		panic(fmt.Sprintf("btree: key %d out of range (%d keys)", idx, node.nkeys()))
	}
	pos := node.kvPos(idx)
	klen := binary.LittleEndian.Uint16(node[pos:])
	return node[pos+kvHeader:][:klen]
}

func (node BNode) getVal(idx uint16) []byte {
	if idx >= node.nkeys() {
		panic(fmt.Sprintf("btree: value %d out of range (%d keys)", idx, node.nkeys()))
	}
	pos := node.kvPos(idx)
	klen := binary.LittleEndian.Uint16(node[pos:])
	vlen := binary.LittleEndian.Uint16(node[pos+2:])
	return node[pos+kvHeader+klen:][:vlen]
}

// nbytes is the used size of the node
func (node BNode) nbytes() uint16 {
	return node.kvPos(node.nkeys())
}

// nodeLookupLE returns the index of the last key <= key. The first key of a node is
// never greater than any key routed to it, so the result is always valid.
func nodeLookupLE(node BNode, key []byte) uint16 {
	lo, hi := uint16(1), node.nkeys()
	for lo < hi {
		mid := lo + (hi-lo)/2
		if bytes.Compare(node.getKey(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// nodeAppendRange copies n pairs of old starting at srcOld into new at dstNew
func nodeAppendRange(new BNode, old BNode, dstNew uint16, srcOld uint16, n uint16) {
	if srcOld+n > old.nkeys() || dstNew+n > new.nkeys() {
		panic(fmt.Sprintf("btree: copy of %d pairs from %d to %d out of range", n, srcOld, dstNew))
	}
	if n == 0 {
		return
	}

	if old.btype() == BNODE_NODE {
		for i := uint16(0); i < n; i++ {
			new.setPtr(dstNew+i, old.getPtr(srcOld+i))
		}
	}

	dstBegin := new.getOffset(dstNew)
	srcBegin := old.getOffset(srcOld)
	for i := uint16(1); i <= n; i++ {
		new.setOffset(dstNew+i, dstBegin+old.getOffset(srcOld+i)-srcBegin)
	}

	begin, end := old.kvPos(srcOld), old.kvPos(srcOld+n)
	copy(new[new.kvPos(dstNew):], old[begin:end])
}

// nodeAppendKV writes pair idx of new; pairs must be appended in order
func nodeAppendKV(new BNode, idx uint16, ptr uint64, key []byte, val []byte) {
	new.setPtr(idx, ptr)

	pos := new.kvPos(idx)
	binary.LittleEndian.PutUint16(new[pos:], uint16(len(key)))
	binary.LittleEndian.PutUint16(new[pos+2:], uint16(len(val)))
	copy(new[pos+kvHeader:], key)
	copy(new[pos+kvHeader+uint16(len(key)):], val)

	new.setOffset(idx+1, new.getOffset(idx)+kvHeader+uint16(len(key)+len(val)))
}

// CheckNode validates the header and bounds of a page read from disk.
// It does not descend into children.
func CheckNode(page []byte) error {
	if len(page) < HEADER {
		return fmt.Errorf("%w: page of %d bytes", ErrCorruptNode, len(page))
	}
	node := BNode(page)
	switch node.btype() {
	case BNODE_NODE, BNODE_LEAF:
	default:
		return fmt.Errorf("%w: node type %d", ErrCorruptNode, node.btype())
	}

	n := int(node.nkeys())
	offsetsEnd := HEADER + (ptrSize+offsetSize)*n
	if offsetsEnd > len(page) {
		return fmt.Errorf("%w: %d keys do not fit a page", ErrCorruptNode, n)
	}

	prev := uint16(0)
	for i := uint16(1); i <= uint16(n); i++ {
		off := node.getOffset(i)
		if off < prev || offsetsEnd+int(off) > len(page) {
			return fmt.Errorf("%w: offset %d of pair %d", ErrCorruptNode, off, i)
		}
		prev = off
	}
	return nil
}

func init() {
	node1max := HEADER + ptrSize + offsetSize + kvHeader + BTREE_MAX_KEY_SIZE + BTREE_MAX_VAL_SIZE
	if node1max > BTREE_PAGE_SIZE {
		panic("btree: a maximal pair does not fit a page")
	}
}
