// ABOUTME: LRU cache of flushed B+Tree pages
// ABOUTME: Scans opt in per range; writers invalidate reused pages

package storage

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nainya/recordindex/internal/metrics"
)

type blockCache struct {
	pages   *lru.Cache[uint64, []byte]
	metrics *metrics.Metrics
}

func newBlockCache(size int, m *metrics.Metrics) (*blockCache, error) {
	pages, err := lru.New[uint64, []byte](size)
	if err != nil {
		return nil, err
	}
	return &blockCache{pages: pages, metrics: m}, nil
}

func (c *blockCache) get(ptr uint64) ([]byte, bool) {
	page, ok := c.pages.Get(ptr)
	c.metrics.RecordBlockCache(ok)
	return page, ok
}

func (c *blockCache) add(ptr uint64, page []byte) {
	c.pages.Add(ptr, page)
}

func (c *blockCache) remove(ptr uint64) {
	c.pages.Remove(ptr)
}

func (c *blockCache) purge() {
	c.pages.Purge()
}

func (c *blockCache) len() int {
	return c.pages.Len()
}
