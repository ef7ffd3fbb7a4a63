package tree

import (
	"errors"

	"github.com/andy-byers/calicodb/pager"
)

// ErrNotFound is returned by Get and Erase when the key is absent.
var ErrNotFound = errors.New("tree: key not found")

// ErrDanglingOverflow is returned by RelocateOverflowHead when the
// pointer map named a leaf that no longer holds a cell for the chain
// being relocated — a stale back-pointer left by a split that moved
// the owning cell to a sibling after the chain was written.
var ErrDanglingOverflow = errors.New("tree: no cell references this overflow chain")

const rootPageID = 1

// Tree is an ordered multimap from byte-string keys to byte-string
// values, stored as a paged B+tree over pages borrowed from a pager.
// The root always lives at page 1 and is never freed.
type Tree struct {
	pager    *pager.Pager
	pageSize uint32
}

// Open wraps a pager as a B+tree, initializing the root page as an
// empty external node if it has never been written.
func Open(p *pager.Pager, pageSize uint32) (*Tree, error) {
	t := &Tree{pager: p, pageSize: pageSize}

	page, err := p.Acquire(rootPageID)
	if err != nil {
		return nil, err
	}
	n := newNode(page, pageSize)
	h := n.readHeader()
	if h.cellCount == 0 && h.cellStart == 0 {
		if err := p.Upgrade(page); err != nil {
			p.Release(page)
			return nil, err
		}
		h.external = true
		h.cellStart = uint16(pageSize)
		n.writeHeader(h)
	}
	if err := p.Release(page); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) acquireNode(id uint64) (*node, error) {
	page, err := t.pager.Acquire(id)
	if err != nil {
		return nil, err
	}
	return newNode(page, t.pageSize), nil
}

func (t *Tree) release(n *node) error {
	return t.pager.Release(n.page)
}

// descend walks from the root to the external node that would contain
// key, returning the path of node ids visited (root first, leaf last).
func (t *Tree) descend(key []byte) ([]uint64, error) {
	var path []uint64
	id := uint64(rootPageID)
	for {
		path = append(path, id)
		n, err := t.acquireNode(id)
		if err != nil {
			return nil, err
		}
		h := n.readHeader()
		if h.external {
			if err := t.release(n); err != nil {
				return nil, err
			}
			return path, nil
		}
		child := n.childID(h, key)
		if err := t.release(n); err != nil {
			return nil, err
		}
		id = child
	}
}

// Get returns the value stored for key.
func (t *Tree) Get(key []byte) ([]byte, error) {
	path, err := t.descend(key)
	if err != nil {
		return nil, err
	}
	leafID := path[len(path)-1]
	n, err := t.acquireNode(leafID)
	if err != nil {
		return nil, err
	}
	defer t.release(n)

	h := n.readHeader()
	idx, exact := n.search(h, key)
	if !exact {
		return nil, ErrNotFound
	}
	off := n.cellPointer(uint16(idx))
	buf := n.page.View(uint32(off), n.pageSize-uint32(off))
	c := decodeExternalCell(buf, n.maxLocal())
	if !c.hasOverflow() {
		return append([]byte(nil), c.localValue...), nil
	}
	tail, err := readOverflow(t.pager, t.pageSize, c.overflowID, int(c.valueSize)-len(c.localValue))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, c.valueSize)
	out = append(out, c.localValue...)
	out = append(out, tail...)
	return out, nil
}

// MaxKeySize returns the largest key this tree can ever store, given
// its page size.
func (t *Tree) MaxKeySize() int {
	max, _ := localBudget(int(t.pageSize))
	return max
}

// Insert adds or overwrites the value stored for key.
func (t *Tree) Insert(key, value []byte) error {
	if len(key) > t.MaxKeySize() {
		return ErrKeyTooLarge
	}
	path, err := t.descend(key)
	if err != nil {
		return err
	}
	leafID := path[len(path)-1]
	n, err := t.acquireNode(leafID)
	if err != nil {
		return err
	}
	if err := t.pager.Upgrade(n.page); err != nil {
		t.release(n)
		return err
	}
	h := n.readHeader()

	idx, exact := n.search(h, key)
	if exact {
		var overflowID uint64
		h, overflowID = n.eraseCellAt(h, uint16(idx))
		n.writeHeader(h)
		if overflowID != 0 {
			if err := destroyOverflow(t.pager, overflowID); err != nil {
				t.release(n)
				return err
			}
		}
		idx, _ = n.search(h, key)
	}

	localLen, overflows := splitLocalValue(len(key), len(value), n.maxLocal())
	cell := externalCell{key: key, localValue: value[:localLen], valueSize: uint32(len(value))}
	if overflows {
		headID, err := writeOverflow(t.pager, t.pageSize, value[localLen:], leafID)
		if err != nil {
			t.release(n)
			return err
		}
		cell.overflowID = headID
	}

	if fitsAfterAlloc(n, h, cell.encodedSize()) {
		h = n.putExternalCell(h, uint16(idx), cell)
		n.writeHeader(h)
		return t.release(n)
	}

	// Doesn't fit: this node becomes the overflow target for split.
	return t.splitAndInsert(path, n, h, uint16(idx), cell)
}

// fitsAfterAlloc reports whether size bytes could be carved out of n
// without mutating it, trying the gap, then the free list, then a
// defragmented layout.
func fitsAfterAlloc(n *node, h header, size int) bool {
	gap := int(h.cellStart) - int(n.gapStart(h))
	if gap >= size {
		return true
	}
	// After a defragmenting pass, every non-live byte — the gap, the
	// free list, and the otherwise-unusable fragments — becomes one
	// contiguous run at the high end, so this is the true ceiling on
	// what this node could ever make room for.
	reclaimable := gap + int(h.freeTotal) + int(h.fragCount)
	return reclaimable >= size
}

// Erase removes the value stored for key.
func (t *Tree) Erase(key []byte) error {
	path, err := t.descend(key)
	if err != nil {
		return err
	}
	leafID := path[len(path)-1]
	n, err := t.acquireNode(leafID)
	if err != nil {
		return err
	}
	if err := t.pager.Upgrade(n.page); err != nil {
		t.release(n)
		return err
	}
	h := n.readHeader()
	idx, exact := n.search(h, key)
	if !exact {
		t.release(n)
		return ErrNotFound
	}
	var overflowID uint64
	h, overflowID = n.eraseCellAt(h, uint16(idx))
	n.writeHeader(h)
	if err := t.release(n); err != nil {
		return err
	}
	if overflowID != 0 {
		if err := destroyOverflow(t.pager, overflowID); err != nil {
			return err
		}
	}
	if leafID == rootPageID {
		return nil
	}
	if n2, err := t.acquireNode(leafID); err == nil {
		h2 := n2.readHeader()
		under := n.usedSpace(h2) < n.minLocal()+int(HeaderSize)
		t.release(n2)
		if under {
			return t.resolveUnderflow(path[:len(path)-1], leafID)
		}
	}
	return nil
}

