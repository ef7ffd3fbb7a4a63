package tree

import (
	"errors"

	"github.com/andy-byers/calicodb/pager"
)

// splitAndInsert handles the case where leaf (already holding pending
// cell at logical index idx, which didn't fit) must split. It moves
// the tail of the leaf's cells to a new right sibling, links it into
// the sibling list, and promotes a separator into the parent,
// recursing upward through path as needed.
//
// If leaf is the root, it can't simply split in place: the root's page
// id can never be handed off to an ordinary child, so there would be
// nowhere for a promoted separator to live. growRoot moves the root's
// entire pre-split content onto a fresh child page first, turning this
// into an ordinary non-root split against that child.
func (t *Tree) splitAndInsert(path []uint64, leaf *node, h header, idx uint16, cell externalCell) error {
	if leaf.id() == rootPageID {
		child, ch, err := t.growRoot(leaf, h)
		if err != nil {
			return err
		}
		return t.splitAndInsert(append(path, child.id()), child, ch, idx, cell)
	}

	sibling, err := t.allocateNode(true)
	if err != nil {
		t.release(leaf)
		return err
	}
	sh := sibling.readHeader()

	// Gather all cells (including the pending one) in order, then
	// split them roughly in half between leaf and sibling.
	type entry struct {
		key        []byte
		localValue []byte
		valueSize  uint32
		overflowID uint64
	}
	entries := make([]entry, 0, h.cellCount+1)
	for i := uint16(0); i < h.cellCount; i++ {
		if i == idx {
			entries = append(entries, entry{cell.key, cell.localValue, cell.valueSize, cell.overflowID})
		}
		off := leaf.cellPointer(i)
		buf := leaf.page.View(uint32(off), leaf.pageSize-uint32(off))
		c := decodeExternalCell(buf, leaf.maxLocal())
		entries = append(entries, entry{
			key:        append([]byte(nil), c.key...),
			localValue: append([]byte(nil), c.localValue...),
			valueSize:  c.valueSize,
			overflowID: c.overflowID,
		})
	}
	if idx == h.cellCount {
		entries = append(entries, entry{cell.key, cell.localValue, cell.valueSize, cell.overflowID})
	}

	mid := len(entries) / 2

	// Reset leaf to hold only the left half.
	h.cellCount = 0
	h.cellStart = uint16(leaf.pageSize)
	h.freeStart = 0
	h.freeTotal = 0
	h.fragCount = 0
	for i, e := range entries[:mid] {
		h = leaf.putExternalCell(h, uint16(i), externalCell{
			key: e.key, localValue: e.localValue, valueSize: e.valueSize, overflowID: e.overflowID,
		})
	}

	for i, e := range entries[mid:] {
		sh = sibling.putExternalCell(sh, uint16(i), externalCell{
			key: e.key, localValue: e.localValue, valueSize: e.valueSize, overflowID: e.overflowID,
		})
	}

	// Maintain the leaf sibling list: sibling.prev = leaf,
	// sibling.next = leaf.next, leaf.next.prev = sibling, leaf.next = sibling.
	oldNext := h.nextID
	sh.prevID = leaf.id()
	sh.nextID = oldNext
	sh.parentID = h.parentID
	h.nextID = sibling.id()

	leaf.writeHeader(h)
	sibling.writeHeader(sh)

	if oldNext != 0 {
		nextNode, err := t.acquireNode(oldNext)
		if err != nil {
			t.release(leaf)
			t.release(sibling)
			return err
		}
		if err := t.pager.Upgrade(nextNode.page); err != nil {
			t.release(nextNode)
			t.release(leaf)
			t.release(sibling)
			return err
		}
		nh := nextNode.readHeader()
		nh.prevID = sibling.id()
		nextNode.writeHeader(nh)
		if err := t.release(nextNode); err != nil {
			t.release(leaf)
			t.release(sibling)
			return err
		}
	}

	separator := append([]byte(nil), entries[mid].key...)
	leafID := leaf.id()
	siblingID := sibling.id()
	if err := t.release(leaf); err != nil {
		t.release(sibling)
		return err
	}
	if err := t.release(sibling); err != nil {
		return err
	}

	return t.promote(path[:len(path)-1], leafID, separator, siblingID)
}

// promote inserts (separator, newChild) into the parent named by the
// last entry of path. leftChild is the existing left-hand child the
// separator now sits to the right of; the parent's pre-existing
// pointer to leftChild (wherever it sits) covered leftChild's whole
// former range and must be repointed at newChild, since that's where
// the upper half of that range now lives.
//
// path is never empty: descend always starts at the root, and
// splitAndInsert/splitInternalAndPromote grow the root onto a child
// page before ever splitting it in place, so the node being promoted
// out of always has a real parent on path.
func (t *Tree) promote(path []uint64, leftChild uint64, separator []byte, newChild uint64) error {
	if len(path) == 0 {
		return errors.New("tree: promote reached an empty path; root was split without first growing a new level")
	}

	parentID := path[len(path)-1]
	parent, err := t.acquireNode(parentID)
	if err != nil {
		return err
	}
	if err := t.pager.Upgrade(parent.page); err != nil {
		t.release(parent)
		return err
	}
	h := parent.readHeader()

	idx, _ := parent.search(h, separator)
	cell := internalCell{leftChildID: leftChild, key: separator}

	if fitsAfterAlloc(parent, h, cell.encodedSize()) {
		wasRightmost := idx == int(h.cellCount)
		h = parent.putInternalCell(h, uint16(idx), cell)
		if wasRightmost {
			h.nextID = newChild
		} else {
			parent.setInternalCellLeftChild(uint16(idx)+1, newChild)
		}
		parent.writeHeader(h)
		if err := t.setParent(newChild, parentID); err != nil {
			t.release(parent)
			return err
		}
		return t.release(parent)
	}

	return t.splitInternalAndPromote(path, parent, h, uint16(idx), cell, newChild)
}

// splitInternalAndPromote splits an internal node that has no room
// for (idx, cell), recursing the promotion upward. As in promote, the
// slot that used to hold src's whole-range pointer to newRightOf's
// left sibling must be repointed at newRightOf.
//
// If src is the root, growRoot moves its content onto a fresh child
// first, same as splitAndInsert does for a leaf root.
func (t *Tree) splitInternalAndPromote(path []uint64, src *node, h header, idx uint16, cell internalCell, newRightOf uint64) error {
	if src.id() == rootPageID {
		child, ch, err := t.growRoot(src, h)
		if err != nil {
			return err
		}
		return t.splitInternalAndPromote(append(path, child.id()), child, ch, idx, cell, newRightOf)
	}

	sibling, err := t.allocateNode(false)
	if err != nil {
		t.release(src)
		return err
	}
	sh := sibling.readHeader()

	type entry struct {
		leftChildID uint64
		key         []byte
	}
	entries := make([]entry, 0, h.cellCount+1)
	for i := uint16(0); i < h.cellCount; i++ {
		if i == idx {
			entries = append(entries, entry{cell.leftChildID, cell.key})
		}
		off := src.cellPointer(i)
		buf := src.page.View(uint32(off), src.pageSize-uint32(off))
		c := decodeInternalCell(buf)
		entries = append(entries, entry{c.leftChildID, append([]byte(nil), c.key...)})
	}
	if idx == h.cellCount {
		entries = append(entries, entry{cell.leftChildID, cell.key})
	}

	oldNextID := h.nextID
	if int(idx)+1 < len(entries) {
		entries[idx+1].leftChildID = newRightOf
	} else {
		oldNextID = newRightOf
	}

	mid := len(entries) / 2
	upKey := append([]byte(nil), entries[mid].key...)
	upLeft := entries[mid].leftChildID

	h.cellCount = 0
	h.cellStart = uint16(src.pageSize)
	h.freeStart, h.freeTotal, h.fragCount = 0, 0, 0
	for i, e := range entries[:mid] {
		h = src.putInternalCell(h, uint16(i), internalCell{leftChildID: e.leftChildID, key: e.key})
	}
	h.nextID = upLeft // left node's rightmost child is the promoted cell's left child
	src.writeHeader(h)

	for i, e := range entries[mid+1:] {
		sh = sibling.putInternalCell(sh, uint16(i), internalCell{leftChildID: e.leftChildID, key: e.key})
	}
	sh.nextID = oldNextID
	sh.parentID = h.parentID
	sibling.writeHeader(sh)

	// Reparent every child now under sibling (its cells plus its
	// rightmost pointer) and the promoted node.
	for i := uint16(0); i < sh.cellCount; i++ {
		off := sibling.cellPointer(i)
		buf := sibling.page.View(uint32(off), sibling.pageSize-uint32(off))
		c := decodeInternalCell(buf)
		if err := t.setParent(c.leftChildID, sibling.id()); err != nil {
			t.release(src)
			t.release(sibling)
			return err
		}
	}
	if err := t.setParent(oldNextID, sibling.id()); err != nil {
		t.release(src)
		t.release(sibling)
		return err
	}
	if err := t.setParent(newRightOf, sibling.id()); err != nil {
		t.release(src)
		t.release(sibling)
		return err
	}

	leftID := src.id()
	siblingID := sibling.id()
	if err := t.release(src); err != nil {
		t.release(sibling)
		return err
	}
	if err := t.release(sibling); err != nil {
		return err
	}
	return t.promote(path[:len(path)-1], leftID, upKey, siblingID)
}

// growRoot moves the root's entire pre-split content onto a freshly
// allocated child page (cell by cell, never a raw byte copy: page 1's
// header sits past the file header, so its layout isn't byte-identical
// to an ordinary page of the same size), then rewrites the root in
// place as a trivial internal node with that child as its sole
// pointer. The mirror image of collapseRoot, which copies a lone
// child's content back into page 1 when a root shrinks to one child.
//
// root must already be acquired and upgraded for writing; the returned
// node is freshly acquired and upgraded, ready for the caller to retry
// its split against as an ordinary, non-root node.
func (t *Tree) growRoot(root *node, h header) (*node, header, error) {
	child, err := t.allocateNode(h.external)
	if err != nil {
		t.release(root)
		return nil, header{}, err
	}
	ch := child.readHeader()

	var grandchildren []uint64
	if h.external {
		for i := uint16(0); i < h.cellCount; i++ {
			off := root.cellPointer(i)
			buf := root.page.View(uint32(off), root.pageSize-uint32(off))
			c := decodeExternalCell(buf, root.maxLocal())
			ch = child.putExternalCell(ch, i, externalCell{
				key: append([]byte(nil), c.key...), localValue: append([]byte(nil), c.localValue...),
				valueSize: c.valueSize, overflowID: c.overflowID,
			})
		}
		ch.nextID = h.nextID
		ch.prevID = h.prevID
	} else {
		for i := uint16(0); i < h.cellCount; i++ {
			off := root.cellPointer(i)
			buf := root.page.View(uint32(off), root.pageSize-uint32(off))
			c := decodeInternalCell(buf)
			grandchildren = append(grandchildren, c.leftChildID)
			ch = child.putInternalCell(ch, i, internalCell{leftChildID: c.leftChildID, key: append([]byte(nil), c.key...)})
		}
		ch.nextID = h.nextID
		grandchildren = append(grandchildren, h.nextID)
	}
	child.writeHeader(ch)
	childID := child.id()
	if err := t.release(child); err != nil {
		t.release(root)
		return nil, header{}, err
	}

	rh := header{
		external:  false,
		cellStart: uint16(root.pageSize),
		nextID:    childID,
	}
	root.writeHeader(rh)
	if err := t.release(root); err != nil {
		return nil, header{}, err
	}

	if err := t.setParent(childID, rootPageID); err != nil {
		return nil, header{}, err
	}
	for _, gc := range grandchildren {
		if err := t.setParent(gc, childID); err != nil {
			return nil, header{}, err
		}
	}

	newChild, err := t.acquireNode(childID)
	if err != nil {
		return nil, header{}, err
	}
	if err := t.pager.Upgrade(newChild.page); err != nil {
		t.release(newChild)
		return nil, header{}, err
	}
	return newChild, newChild.readHeader(), nil
}

// allocateNode allocates a fresh page and initializes it as an empty
// node of the given kind.
func (t *Tree) allocateNode(external bool) (*node, error) {
	page, err := t.pager.Allocate()
	if err != nil {
		return nil, err
	}
	n := newNode(page, t.pageSize)
	h := n.readHeader()
	h.external = external
	h.cellStart = uint16(t.pageSize)
	n.writeHeader(h)
	return n, nil
}

// setParent updates the parent_id field of the node named by id. A
// no-op for id == 0, which marks "no such child" in a few callers.
func (t *Tree) setParent(id uint64, parentID uint64) error {
	if id == 0 {
		return nil
	}
	n, err := t.acquireNode(id)
	if err != nil {
		return err
	}
	if err := t.pager.Upgrade(n.page); err != nil {
		t.release(n)
		return err
	}
	h := n.readHeader()
	h.parentID = parentID
	n.writeHeader(h)
	if err := t.release(n); err != nil {
		return err
	}
	return t.pager.WritePointerMapEntry(id, parentID, pager.PtrTreeNode)
}
