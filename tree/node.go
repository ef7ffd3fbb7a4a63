// Package tree implements CalicoDB's B+tree: an ordered multimap from
// byte-string keys to byte-string values over pages borrowed from a
// pager, with overflow chains for oversized values and a
// sibling-linked cursor for ordered scans.
package tree

import (
	"encoding/binary"

	"github.com/andy-byers/calicodb/pager"
)

// HeaderSize is the width of the node header, including the 8-byte
// page_lsn field the pager itself owns and places first. The node
// header sits right after the file header on page 1, or at offset 0 on
// every other page.
const HeaderSize = 43

const flagExternal byte = 1 << 0

// header is the node header with page_lsn excluded; the pager reads
// and writes that field directly.
type header struct {
	external  bool
	parentID  uint64
	nextID    uint64 // right sibling (external) or rightmost child (internal)
	prevID    uint64 // left sibling (external); unused on internal
	cellCount uint16
	cellStart uint16
	fragCount uint16
	freeStart uint16
	freeTotal uint16
}

// Field offsets within the mutable 35-byte region that follows
// page_lsn (i.e. relative to headerBase(id)+8).
const (
	relFlags     = 0
	relParentID  = 1
	relNextID    = 9
	relPrevID    = 17
	relCellCount = 25
	relCellStart = 27
	relFragCount = 29
	relFreeStart = 31
	relFreeTotal = 33
	mutableHeaderSize = HeaderSize - 8
)

// headerBase returns where the node header begins within the page,
// accounting for the file header that precedes it on page 1.
func headerBase(id uint64) uint32 {
	if id == 1 {
		return pager.FileHeaderSize
	}
	return 0
}

// node wraps a borrowed page with B+tree-aware header and cell
// accessors. pageSize is needed because headers don't self-describe
// the page's total size.
type node struct {
	page     *pager.Page
	pageSize uint32
}

func newNode(page *pager.Page, pageSize uint32) *node {
	return &node{page: page, pageSize: pageSize}
}

func (n *node) id() uint64 { return n.page.ID() }

func (n *node) readHeader() header {
	buf := n.page.View(headerBase(n.id())+8, mutableHeaderSize)
	return header{
		external:  buf[relFlags]&flagExternal != 0,
		parentID:  binary.BigEndian.Uint64(buf[relParentID:]),
		nextID:    binary.BigEndian.Uint64(buf[relNextID:]),
		prevID:    binary.BigEndian.Uint64(buf[relPrevID:]),
		cellCount: binary.BigEndian.Uint16(buf[relCellCount:]),
		cellStart: binary.BigEndian.Uint16(buf[relCellStart:]),
		fragCount: binary.BigEndian.Uint16(buf[relFragCount:]),
		freeStart: binary.BigEndian.Uint16(buf[relFreeStart:]),
		freeTotal: binary.BigEndian.Uint16(buf[relFreeTotal:]),
	}
}

func (n *node) writeHeader(h header) {
	buf := n.page.Span(headerBase(n.id())+8, mutableHeaderSize)
	var flags byte
	if h.external {
		flags |= flagExternal
	}
	buf[relFlags] = flags
	binary.BigEndian.PutUint64(buf[relParentID:], h.parentID)
	binary.BigEndian.PutUint64(buf[relNextID:], h.nextID)
	binary.BigEndian.PutUint64(buf[relPrevID:], h.prevID)
	binary.BigEndian.PutUint16(buf[relCellCount:], h.cellCount)
	binary.BigEndian.PutUint16(buf[relCellStart:], h.cellStart)
	binary.BigEndian.PutUint16(buf[relFragCount:], h.fragCount)
	binary.BigEndian.PutUint16(buf[relFreeStart:], h.freeStart)
	binary.BigEndian.PutUint16(buf[relFreeTotal:], h.freeTotal)
}

func (n *node) isExternal() bool { return n.readHeader().external }

// pointerArrayBase is where the sorted array of 2-byte cell offsets
// begins: immediately after the node header.
func (n *node) pointerArrayBase() uint32 {
	return headerBase(n.id()) + HeaderSize
}

func (n *node) cellPointer(i uint16) uint16 {
	off := n.pointerArrayBase() + uint32(i)*2
	return binary.BigEndian.Uint16(n.page.View(off, 2))
}

func (n *node) setCellPointer(i uint16, ptr uint16) {
	off := n.pointerArrayBase() + uint32(i)*2
	binary.BigEndian.PutUint16(n.page.Span(off, 2), ptr)
}

// usedSpace reports the number of bytes currently occupied by the
// pointer array, the live cell bodies, and the free-list/fragment
// overhead — i.e. everything except the untouched middle gap.
func (n *node) usedSpace(h header) int {
	pointerBytes := int(h.cellCount) * 2
	bodyBytes := int(n.pageSize) - int(h.cellStart)
	return pointerBytes + bodyBytes
}

func (n *node) maxLocal() int {
	max, _ := localBudget(int(n.pageSize))
	return max
}

func (n *node) minLocal() int {
	_, min := localBudget(int(n.pageSize))
	return min
}
