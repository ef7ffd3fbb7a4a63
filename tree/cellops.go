package tree

import (
	"bytes"
	"encoding/binary"
)

// cellKey returns the key stored in the cell at pointer index i,
// without materializing the rest of the cell.
func (n *node) cellKey(h header, i uint16) []byte {
	off := n.cellPointer(i)
	buf := n.page.View(uint32(off), n.pageSize-uint32(off))
	if h.external {
		return decodeExternalCell(buf, n.maxLocal()).key
	}
	return decodeInternalCell(buf).key
}

// search performs a binary search over the sorted pointer array for
// key. On an external node it returns (index, true) for an exact
// match, or (index, false) where index is the insertion point. On an
// internal node it returns the index of the first cell whose key is
// >= target (or cell_count if none is), used to pick the child.
func (n *node) search(h header, key []byte) (int, bool) {
	lo, hi := 0, int(h.cellCount)
	for lo < hi {
		mid := (lo + hi) / 2
		cmp := bytes.Compare(n.cellKey(h, uint16(mid)), key)
		switch {
		case cmp == 0:
			return mid, true
		case cmp < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// childID returns the child page id to descend into for key, per the
// search result on an internal node. Cell(key, child) means child holds
// every key strictly less than the cell's key; a key equal to a cell's
// key belongs to the child one slot over (the subtree the separator was
// lifted from), so an exact match is treated as if it fell short of
// cell i and searches one cell further right.
func (n *node) childID(h header, key []byte) uint64 {
	idx, exact := n.search(h, key)
	if exact {
		idx++
	}
	if idx == int(h.cellCount) {
		return h.nextID
	}
	off := n.cellPointer(uint16(idx))
	buf := n.page.View(uint32(off), n.pageSize-uint32(off))
	return decodeInternalCell(buf).leftChildID
}

// setInternalCellLeftChild overwrites the left_child_id of the internal
// cell at pointer index i in place, without disturbing its key or
// position. Used when a sibling split moves a child's upper range to a
// new page: the parent's existing pointer to that child must now name
// the new page instead.
func (n *node) setInternalCellLeftChild(i uint16, childID uint64) {
	off := n.cellPointer(i)
	binary.BigEndian.PutUint64(n.page.Span(uint32(off), 8), childID)
}

// insertPointerAt shifts the pointer array right starting at index i
// to make room for one new entry, then writes ptr at i.
func (n *node) insertPointerAt(h header, i uint16, ptr uint16) {
	for j := h.cellCount; j > i; j-- {
		n.setCellPointer(j, n.cellPointer(j-1))
	}
	n.setCellPointer(i, ptr)
}

// removePointerAt shifts the pointer array left over index i, removing
// it.
func (n *node) removePointerAt(h header, i uint16) {
	for j := i; j < h.cellCount-1; j++ {
		n.setCellPointer(j, n.cellPointer(j+1))
	}
}

// putExternalCell allocates space for and writes an external cell,
// inserting its pointer at index i. Returns the updated header.
func (n *node) putExternalCell(h header, i uint16, c externalCell) header {
	size := c.encodedSize()
	off, h, _ := n.allocate(h, size)
	buf := n.page.Span(uint32(off), uint32(size))
	encodeExternalCell(buf, c)
	n.insertPointerAt(h, i, off)
	h.cellCount++
	return h
}

// putInternalCell allocates space for and writes an internal cell,
// inserting its pointer at index i. Returns the updated header.
func (n *node) putInternalCell(h header, i uint16, c internalCell) header {
	size := c.encodedSize()
	off, h, _ := n.allocate(h, size)
	buf := n.page.Span(uint32(off), uint32(size))
	encodeInternalCell(buf, c)
	n.insertPointerAt(h, i, off)
	h.cellCount++
	return h
}

// eraseCellAt frees the cell's backing bytes and removes its pointer.
// It does not free an overflow chain: it returns the updated header
// and, for an external cell that has one, the chain's head id so the
// caller can destroy it.
func (n *node) eraseCellAt(h header, i uint16) (header, uint64) {
	off := n.cellPointer(i)
	size := n.cellSize(h, off)
	var overflowID uint64
	if h.external {
		buf := n.page.View(uint32(off), n.pageSize-uint32(off))
		c := decodeExternalCell(buf, n.maxLocal())
		overflowID = c.overflowID
	}
	n.removePointerAt(h, i)
	h.cellCount--
	h = n.free(h, off, size)
	return h, overflowID
}
