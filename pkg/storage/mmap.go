// ABOUTME: Read-only memory mapping of the database file
// ABOUTME: Grows by appending chunks so earlier page slices stay valid

package storage

import (
	"fmt"
	"syscall"
)

const minMmapSize = 64 << 20

type mapping struct {
	total  int
	chunks [][]byte
}

// grow maps more of fd until at least size bytes are covered
func (m *mapping) grow(fd int, size int) error {
	if size <= m.total {
		return nil
	}

	alloc := max(m.total, minMmapSize)
	for m.total+alloc < size {
		alloc *= 2
	}

	chunk, err := syscall.Mmap(fd, int64(m.total), alloc, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap %d bytes at %d: %w", alloc, m.total, err)
	}
	m.total += alloc
	m.chunks = append(m.chunks, chunk)
	return nil
}

// page returns the mapped bytes of page ptr
func (m *mapping) page(ptr uint64) []byte {
	first := uint64(0)
	for _, chunk := range m.chunks {
		n := uint64(len(chunk)) / BTREE_PAGE_SIZE
		if ptr < first+n {
			off := (ptr - first) * BTREE_PAGE_SIZE
			return chunk[off : off+BTREE_PAGE_SIZE]
		}
		first += n
	}
	panic(fmt.Sprintf("page %d is outside the mapped %d bytes", ptr, m.total))
}

func (m *mapping) unmap() error {
	var err error
	for _, chunk := range m.chunks {
		if uerr := syscall.Munmap(chunk); uerr != nil && err == nil {
			err = uerr
		}
	}
	m.chunks = nil
	m.total = 0
	return err
}
