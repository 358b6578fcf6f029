// ABOUTME: Free page list for the KV store
// ABOUTME: An unrolled linked list of page pointers stored in pages it manages itself

package storage

import (
	"encoding/binary"
	"fmt"
)

// Free list node layout:
//
//	| next | ptr0 | ptr1 | ... |
//	|  8B  |  8B  |  8B  | ... |
const (
	FREE_LIST_HEADER = 8
	FREE_LIST_CAP    = (BTREE_PAGE_SIZE - FREE_LIST_HEADER) / 8

	freeListMetaSize = 40
)

type freeNode []byte

func (n freeNode) next() uint64 {
	return binary.LittleEndian.Uint64(n[:FREE_LIST_HEADER])
}

func (n freeNode) setNext(next uint64) {
	binary.LittleEndian.PutUint64(n[:FREE_LIST_HEADER], next)
}

func (n freeNode) ptr(slot int) uint64 {
	return binary.LittleEndian.Uint64(n[FREE_LIST_HEADER+8*slot:])
}

func (n freeNode) setPtr(slot int, ptr uint64) {
	binary.LittleEndian.PutUint64(n[FREE_LIST_HEADER+8*slot:], ptr)
}

// FreeList is a FIFO of reusable page pointers.
// Items are numbered by sequence; head is the next to pop and tail the next to push.
// Pages pushed since the last commit stay out of reach until Commit moves the limit.
type FreeList struct {
	get func(uint64) []byte  // dereference a page
	new func([]byte) uint64  // append a page
	set func(uint64, []byte) // replace a page

	headPage uint64
	headSeq  uint64
	tailPage uint64
	tailSeq  uint64
	limit    uint64 // pops stop at this sequence
}

// FreeListStats summarizes the list
type FreeListStats struct {
	Pages    int // pointers held
	Reusable int // pointers that may be popped now
}

// Len returns the number of pointers held
func (fl *FreeList) Len() int {
	if fl.tailSeq <= fl.headSeq {
		return 0
	}
	return int(fl.tailSeq - fl.headSeq)
}

// Stats returns the list counters
func (fl *FreeList) Stats() FreeListStats {
	st := FreeListStats{Pages: fl.Len()}
	if fl.limit > fl.headSeq {
		st.Reusable = int(fl.limit - fl.headSeq)
	}
	return st
}

// Commit makes every pushed pointer available to PopHead
func (fl *FreeList) Commit() {
	fl.limit = fl.tailSeq
}

// PopHead returns a reusable page pointer, or 0 when none is available
func (fl *FreeList) PopHead() uint64 {
	if fl.headSeq >= fl.limit || fl.headSeq >= fl.tailSeq || fl.headPage == 0 {
		return 0
	}

	slot := int(fl.headSeq % FREE_LIST_CAP)
	if slot == 0 && fl.headSeq > 0 {
		// The head node is used up; recycle it and follow the link
		next := freeNode(fl.get(fl.headPage)).next()
		if next == 0 {
			panic(fmt.Sprintf("free list: node %d has no successor at seq %d", fl.headPage, fl.headSeq))
		}
		used := fl.headPage
		fl.headPage = next
		fl.PushTail(used)
	}

	ptr := freeNode(fl.get(fl.headPage)).ptr(slot)
	fl.headSeq++
	return ptr
}

// PushTail appends a page pointer
func (fl *FreeList) PushTail(ptr uint64) {
	if fl.tailPage == 0 {
		fl.tailPage = fl.new(make([]byte, BTREE_PAGE_SIZE))
		fl.headPage = fl.tailPage
	}

	slot := int(fl.tailSeq % FREE_LIST_CAP)
	if slot == 0 && fl.tailSeq > 0 {
		next := fl.new(make([]byte, BTREE_PAGE_SIZE))
		fl.update(fl.tailPage, func(n freeNode) { n.setNext(next) })
		fl.tailPage = next
	}

	fl.update(fl.tailPage, func(n freeNode) { n.setPtr(slot, ptr) })
	fl.tailSeq++
}

// update rewrites a node through a private copy
func (fl *FreeList) update(page uint64, fn func(freeNode)) {
	node := freeNode(append([]byte{}, fl.get(page)...))
	fn(node)
	fl.set(page, node)
}

// Serialize encodes the list position for the meta page
func (fl *FreeList) Serialize() []byte {
	data := make([]byte, freeListMetaSize)
	for i, v := range []uint64{fl.headPage, fl.headSeq, fl.tailPage, fl.tailSeq, fl.limit} {
		binary.LittleEndian.PutUint64(data[8*i:], v)
	}
	return data
}

// Deserialize restores the list position from the meta page
func (fl *FreeList) Deserialize(data []byte) {
	fields := []*uint64{&fl.headPage, &fl.headSeq, &fl.tailPage, &fl.tailSeq, &fl.limit}
	for i, f := range fields {
		*f = binary.LittleEndian.Uint64(data[8*i:])
	}
}
