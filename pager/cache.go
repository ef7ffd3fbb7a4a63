package pager

import "container/list"

// cache maps page ids to frame indices and tracks insertion order for
// FIFO-with-pin-bypass eviction, following the teacher's pager.go use
// of container/list for its LRU bookkeeping — here repurposed to track
// insertion order (FIFO) rather than recency (LRU), since the spec
// calls for a scan-in-insertion-order policy with pinned and
// not-yet-flushed entries skipped rather than promoted.
type cache struct {
	order   *list.List
	entries map[uint64]*list.Element
	toFrame map[uint64]int
}

func newCache() *cache {
	return &cache{
		order:   list.New(),
		entries: make(map[uint64]*list.Element),
		toFrame: make(map[uint64]int),
	}
}

func (c *cache) lookup(pageID uint64) (int, bool) {
	idx, ok := c.toFrame[pageID]
	return idx, ok
}

func (c *cache) insert(pageID uint64, frameIdx int) {
	elem := c.order.PushBack(pageID)
	c.entries[pageID] = elem
	c.toFrame[pageID] = frameIdx
}

func (c *cache) erase(pageID uint64) {
	if elem, ok := c.entries[pageID]; ok {
		c.order.Remove(elem)
		delete(c.entries, pageID)
	}
	delete(c.toFrame, pageID)
}

func (c *cache) len() int { return c.order.Len() }

// evictOldestUnpinned scans candidates in insertion order and returns
// the first whose predicate accepts it, removing it from the cache.
// skip should reject frames that are pinned (refcount > 0) or whose
// page_lsn exceeds the WAL's flushed LSN while a transaction is active.
func (c *cache) evictOldestUnpinned(skip func(pageID uint64) bool) (uint64, bool) {
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		pageID := elem.Value.(uint64)
		if skip(pageID) {
			continue
		}
		c.order.Remove(elem)
		delete(c.entries, pageID)
		delete(c.toFrame, pageID)
		return pageID, true
	}
	return 0, false
}
