package tree

import "encoding/binary"

// freeBlockHeaderSize is the minimum width of a block tracked on the
// intra-node free list: a 2-byte forward pointer and a 2-byte size.
// Anything smaller than this is a fragment: too small to ever be
// reused, so it's tallied in frag_count instead.
const freeBlockHeaderSize = 4

// cellSize returns the on-page width of the cell whose body starts at
// offset, given the node's kind and budget.
func (n *node) cellSize(h header, offset uint16) int {
	buf := n.page.View(uint32(offset), n.pageSize-uint32(offset))
	if h.external {
		return decodeExternalCell(buf, n.maxLocal()).encodedSize()
	}
	c := decodeInternalCell(buf)
	return c.encodedSize()
}

// allocate reserves size bytes in the cell region, preferring the gap
// between the pointer array and cell_start, then the free list, then
// triggering defragmentation as a last resort. Returns the offset of
// the reserved region and the (possibly updated) header.
func (n *node) allocate(h header, size int) (uint16, header, bool) {
	if off, h2, ok := n.allocateFromGap(h, size); ok {
		return off, h2, true
	}
	if off, h2, ok := n.allocateFromFreeList(h, size); ok {
		return off, h2, true
	}
	h = n.defragment(h)
	return n.allocateFromGap(h, size)
}

func (n *node) gapStart(h header) uint32 {
	return n.pointerArrayBase() + uint32(h.cellCount)*2
}

func (n *node) allocateFromGap(h header, size int) (uint16, header, bool) {
	gap := int(h.cellStart) - int(n.gapStart(h))
	if gap < size {
		return 0, h, false
	}
	h.cellStart -= uint16(size)
	return h.cellStart, h, true
}

// allocateFromFreeList takes the first block whose size is sufficient,
// first-fit. A leftover remainder big enough to stay on the list is
// re-linked in place; a remainder too small becomes a fragment.
func (n *node) allocateFromFreeList(h header, size int) (uint16, header, bool) {
	var prev uint16
	cur := h.freeStart
	for cur != 0 {
		buf := n.page.View(uint32(cur), freeBlockHeaderSize)
		next := binary.BigEndian.Uint16(buf[0:2])
		blockSize := binary.BigEndian.Uint16(buf[2:4])

		if int(blockSize) >= size {
			remainder := int(blockSize) - size
			if remainder >= freeBlockHeaderSize {
				newBlockOff := cur + uint16(size)
				wbuf := n.page.Span(uint32(newBlockOff), freeBlockHeaderSize)
				binary.BigEndian.PutUint16(wbuf[0:2], next)
				binary.BigEndian.PutUint16(wbuf[2:4], uint16(remainder))
				n.relink(&h, prev, cur, newBlockOff)
				h.freeTotal -= uint16(size)
			} else {
				h.fragCount += uint16(remainder)
				n.relink(&h, prev, cur, next)
				h.freeTotal -= uint16(blockSize)
			}
			return cur, h, true
		}
		prev = cur
		cur = next
	}
	return 0, h, false
}

// relink removes the block at `at`, connecting `prev` (or free_start,
// if `at` was the head) to `to`.
func (n *node) relink(h *header, prev, at, to uint16) {
	if prev == 0 {
		h.freeStart = to
		return
	}
	wbuf := n.page.Span(uint32(prev), 2)
	binary.BigEndian.PutUint16(wbuf, to)
}

// free releases a previously allocated region back to the node: onto
// the free list if it's big enough to track, onto frag_count if not.
func (n *node) free(h header, offset uint16, size int) header {
	if size < freeBlockHeaderSize {
		h.fragCount += uint16(size)
		return h
	}
	wbuf := n.page.Span(uint32(offset), freeBlockHeaderSize)
	binary.BigEndian.PutUint16(wbuf[0:2], h.freeStart)
	binary.BigEndian.PutUint16(wbuf[2:4], uint16(size))
	h.freeStart = offset
	h.freeTotal += uint16(size)
	return h
}

// defragment repacks every live cell to the high end of the page in
// cell-pointer order, clearing the free list and fragment counter.
func (n *node) defragment(h header) header {
	type slot struct {
		ptr  uint16
		body []byte
	}
	slots := make([]slot, h.cellCount)
	for i := uint16(0); i < h.cellCount; i++ {
		off := n.cellPointer(i)
		size := n.cellSize(h, off)
		body := append([]byte(nil), n.page.View(uint32(off), uint32(size))...)
		slots[i] = slot{ptr: off, body: body}
	}

	cellStart := n.pageSize
	for i := uint16(0); i < h.cellCount; i++ {
		s := slots[i]
		cellStart -= uint32(len(s.body))
		copy(n.page.Span(cellStart, uint32(len(s.body))), s.body)
		n.setCellPointer(i, uint16(cellStart))
	}
	h.cellStart = uint16(cellStart)
	h.freeStart = 0
	h.freeTotal = 0
	h.fragCount = 0
	return h
}
