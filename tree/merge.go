package tree

// resolveUnderflow is called with the path from root to the parent of
// the underfull node nodeID. It tries, in priority order, rotating a
// cell from the left sibling, rotating from the right sibling, merging
// with the left sibling, merging with the right sibling. If the root
// itself ends up with a single child and no cells, it is collapsed.
func (t *Tree) resolveUnderflow(path []uint64, nodeID uint64) error {
	if len(path) == 0 {
		return nil // nodeID is the root; roots never rebalance against a sibling.
	}
	parentID := path[len(path)-1]

	parent, err := t.acquireNode(parentID)
	if err != nil {
		return err
	}
	ph := parent.readHeader()

	leftID, rightID, sepIdx, hasLeft, hasRight := siblingsOf(parent, ph, nodeID)
	if err := t.release(parent); err != nil {
		return err
	}

	if hasLeft {
		ok, err := t.tryRotateLeft(parentID, leftID, nodeID, sepIdx-1)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	if hasRight {
		ok, err := t.tryRotateRight(parentID, nodeID, rightID, sepIdx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	if hasLeft {
		if err := t.mergeSiblings(parentID, leftID, nodeID, sepIdx-1, path[:len(path)-1]); err != nil {
			return err
		}
		return nil
	}
	if hasRight {
		return t.mergeSiblings(parentID, nodeID, rightID, sepIdx, path[:len(path)-1])
	}
	return nil
}

// siblingsOf finds the left and/or right sibling of child within
// parent, along with child's slot index sepIdx: the separator cell
// between child and its left sibling is sepIdx-1, and the one between
// child and its right sibling is sepIdx.
func siblingsOf(parent *node, h header, child uint64) (leftID, rightID uint64, sepIdx uint16, hasLeft, hasRight bool) {
	prevChild := uint64(0)
	for i := uint16(0); i < h.cellCount; i++ {
		off := parent.cellPointer(i)
		buf := parent.page.View(uint32(off), parent.pageSize-uint32(off))
		c := decodeInternalCell(buf)
		if c.leftChildID == child {
			if prevChild != 0 {
				leftID, hasLeft = prevChild, true
			}
			if i+1 < h.cellCount {
				off2 := parent.cellPointer(i + 1)
				buf2 := parent.page.View(uint32(off2), parent.pageSize-uint32(off2))
				rightID, hasRight = decodeInternalCell(buf2).leftChildID, true
				sepIdx = i
			} else {
				rightID, hasRight = h.nextID, true
				sepIdx = i
			}
			return
		}
		prevChild = c.leftChildID
	}
	// child is the rightmost (header.next_id) pointer.
	if h.cellCount > 0 {
		off := parent.cellPointer(h.cellCount - 1)
		buf := parent.page.View(uint32(off), parent.pageSize-uint32(off))
		leftID, hasLeft = decodeInternalCell(buf).leftChildID, true
		sepIdx = h.cellCount
	}
	return
}

// tryRotateLeft moves the last cell of left into node (external) if
// left has surplus cells to spare. Returns false if left has nothing
// to give.
func (t *Tree) tryRotateLeft(parentID, leftID, nodeID uint64, sepIdx uint16) (bool, error) {
	left, err := t.acquireNode(leftID)
	if err != nil {
		return false, err
	}
	lh := left.readHeader()
	if lh.cellCount <= 1 {
		t.release(left)
		return false, nil
	}
	if err := t.pager.Upgrade(left.page); err != nil {
		t.release(left)
		return false, err
	}

	node, err := t.acquireNode(nodeID)
	if err != nil {
		t.release(left)
		return false, err
	}
	if err := t.pager.Upgrade(node.page); err != nil {
		t.release(left)
		t.release(node)
		return false, err
	}
	nh := node.readHeader()

	if nh.external {
		off := left.cellPointer(lh.cellCount - 1)
		buf := left.page.View(uint32(off), left.pageSize-uint32(off))
		c := decodeExternalCell(buf, left.maxLocal())
		moved := externalCell{key: append([]byte(nil), c.key...), localValue: append([]byte(nil), c.localValue...), valueSize: c.valueSize, overflowID: c.overflowID}
		lh, _ = left.eraseCellAt(lh, lh.cellCount-1)
		nh = node.putExternalCell(nh, 0, moved)
		left.writeHeader(lh)
		node.writeHeader(nh)
		if err := t.release(left); err != nil {
			t.release(node)
			return false, err
		}
		if err := t.release(node); err != nil {
			return false, err
		}
		return true, t.updateSeparator(parentID, sepIdx, moved.key)
	}

	// Internal nodes are not rotated: report no surplus, so the caller
	// falls through to a merge.
	t.release(left)
	t.release(node)
	return false, nil
}

func (t *Tree) tryRotateRight(parentID, nodeID, rightID uint64, sepIdx uint16) (bool, error) {
	right, err := t.acquireNode(rightID)
	if err != nil {
		return false, err
	}
	rh := right.readHeader()
	if rh.cellCount <= 1 {
		t.release(right)
		return false, nil
	}
	if err := t.pager.Upgrade(right.page); err != nil {
		t.release(right)
		return false, err
	}

	node, err := t.acquireNode(nodeID)
	if err != nil {
		t.release(right)
		return false, err
	}
	if err := t.pager.Upgrade(node.page); err != nil {
		t.release(right)
		t.release(node)
		return false, err
	}
	nh := node.readHeader()

	if nh.external {
		off := right.cellPointer(0)
		buf := right.page.View(uint32(off), right.pageSize-uint32(off))
		c := decodeExternalCell(buf, right.maxLocal())
		moved := externalCell{key: append([]byte(nil), c.key...), localValue: append([]byte(nil), c.localValue...), valueSize: c.valueSize, overflowID: c.overflowID}
		rh, _ = right.eraseCellAt(rh, 0)
		nh = node.putExternalCell(nh, nh.cellCount, moved)
		right.writeHeader(rh)
		node.writeHeader(nh)

		var newSep []byte
		off2 := right.cellPointer(0)
		buf2 := right.page.View(uint32(off2), right.pageSize-uint32(off2))
		newSep = append([]byte(nil), decodeExternalCell(buf2, right.maxLocal()).key...)

		if err := t.release(right); err != nil {
			t.release(node)
			return false, err
		}
		if err := t.release(node); err != nil {
			return false, err
		}
		return true, t.updateSeparator(parentID, sepIdx, newSep)
	}

	t.release(right)
	t.release(node)
	return false, nil
}

// updateSeparator rewrites the key of the internal cell at index idx
// in parent, in place (the new key is never larger than the slot
// budget since it replaces an existing key of the same node).
func (t *Tree) updateSeparator(parentID uint64, idx uint16, newKey []byte) error {
	parent, err := t.acquireNode(parentID)
	if err != nil {
		return err
	}
	if err := t.pager.Upgrade(parent.page); err != nil {
		t.release(parent)
		return err
	}
	h := parent.readHeader()
	if idx >= h.cellCount {
		return t.release(parent)
	}
	off := parent.cellPointer(idx)
	buf := parent.page.View(uint32(off), parent.pageSize-uint32(off))
	oldCell := decodeInternalCell(buf)
	newCell := internalCell{leftChildID: oldCell.leftChildID, key: newKey}

	if newCell.encodedSize() <= oldCell.encodedSize() {
		wbuf := parent.page.Span(uint32(off), uint32(oldCell.encodedSize()))
		encodeInternalCell(wbuf, newCell)
		return t.release(parent)
	}
	h, _ = parent.eraseCellAt(h, idx)
	h = parent.putInternalCell(h, idx, newCell)
	parent.writeHeader(h)
	return t.release(parent)
}

// mergeSiblings absorbs all of right's cells into left, removes the
// separator from parent, and frees right. If parent becomes
// underfull, the resolution recurses upward; if parent is the root
// and ends up empty, it is collapsed onto left.
func (t *Tree) mergeSiblings(parentID, leftID, rightID uint64, sepIdx uint16, grandPath []uint64) error {
	left, err := t.acquireNode(leftID)
	if err != nil {
		return err
	}
	if err := t.pager.Upgrade(left.page); err != nil {
		t.release(left)
		return err
	}
	lh := left.readHeader()

	right, err := t.acquireNode(rightID)
	if err != nil {
		t.release(left)
		return err
	}
	rh := right.readHeader()

	if lh.external {
		for i := uint16(0); i < rh.cellCount; i++ {
			off := right.cellPointer(i)
			buf := right.page.View(uint32(off), right.pageSize-uint32(off))
			c := decodeExternalCell(buf, right.maxLocal())
			lh = left.putExternalCell(lh, lh.cellCount, externalCell{
				key:        append([]byte(nil), c.key...),
				localValue: append([]byte(nil), c.localValue...),
				valueSize:  c.valueSize,
				overflowID: c.overflowID,
			})
		}
		lh.nextID = rh.nextID
		left.writeHeader(lh)
		if rh.nextID != 0 {
			nextNode, err := t.acquireNode(rh.nextID)
			if err == nil {
				if err := t.pager.Upgrade(nextNode.page); err == nil {
					nnh := nextNode.readHeader()
					nnh.prevID = leftID
					nextNode.writeHeader(nnh)
				}
				t.release(nextNode)
			}
		}
	} else {
		// Pull the separator down as the boundary cell between the two
		// halves, then append right's cells.
		sepKey, err := t.separatorKey(parentID, sepIdx)
		if err != nil {
			t.release(left)
			t.release(right)
			return err
		}
		lh = left.putInternalCell(lh, lh.cellCount, internalCell{leftChildID: lh.nextID, key: sepKey})
		for i := uint16(0); i < rh.cellCount; i++ {
			off := right.cellPointer(i)
			buf := right.page.View(uint32(off), right.pageSize-uint32(off))
			c := decodeInternalCell(buf)
			lh = left.putInternalCell(lh, lh.cellCount, internalCell{leftChildID: c.leftChildID, key: append([]byte(nil), c.key...)})
			t.setParent(c.leftChildID, leftID)
		}
		lh.nextID = rh.nextID
		left.writeHeader(lh)
		t.setParent(rh.nextID, leftID)
	}

	if err := t.release(left); err != nil {
		t.release(right)
		return err
	}
	if err := t.release(right); err != nil {
		return err
	}
	if err := t.pager.Free(rightID); err != nil {
		return err
	}

	// Remove the separator cell from parent.
	parent, err := t.acquireNode(parentID)
	if err != nil {
		return err
	}
	if err := t.pager.Upgrade(parent.page); err != nil {
		t.release(parent)
		return err
	}
	ph := parent.readHeader()
	if sepIdx < ph.cellCount {
		ph, _ = parent.eraseCellAt(ph, sepIdx)
		// The erased separator's left child was leftID. The slot after
		// it (the next cell's left child, or next_id) named rightID,
		// which is now freed, so it is rewired to leftID.
		if sepIdx < ph.cellCount {
			parent.setInternalCellLeftChild(sepIdx, leftID)
		} else {
			ph.nextID = leftID
		}
	} else if ph.nextID == rightID {
		ph.nextID = leftID
	}
	parent.writeHeader(ph)

	if parentID == rootPageID {
		if ph.cellCount == 0 {
			if err := t.release(parent); err != nil {
				return err
			}
			return t.collapseRoot(leftID)
		}
		return t.release(parent)
	}
	if err := t.release(parent); err != nil {
		return err
	}

	n2, err := t.acquireNode(parentID)
	if err != nil {
		return err
	}
	h2 := n2.readHeader()
	under := n2.usedSpace(h2) < n2.minLocal()+int(HeaderSize)
	t.release(n2)
	if under {
		return t.resolveUnderflow(grandPath, parentID)
	}
	return nil
}

func (t *Tree) separatorKey(parentID uint64, idx uint16) ([]byte, error) {
	parent, err := t.acquireNode(parentID)
	if err != nil {
		return nil, err
	}
	defer t.release(parent)
	h := parent.readHeader()
	if idx >= h.cellCount {
		return nil, ErrNotFound
	}
	off := parent.cellPointer(idx)
	buf := parent.page.View(uint32(off), parent.pageSize-uint32(off))
	return append([]byte(nil), decodeInternalCell(buf).key...), nil
}

// collapseRoot replaces the (now childless-separator) root's contents
// with child's, then frees child. Used when the root becomes an
// internal node with a single child and no separators left.
func (t *Tree) collapseRoot(childID uint64) error {
	child, err := t.acquireNode(childID)
	if err != nil {
		return err
	}
	ch := child.readHeader()

	root, err := t.acquireNode(rootPageID)
	if err != nil {
		t.release(child)
		return err
	}
	if err := t.pager.Upgrade(root.page); err != nil {
		t.release(child)
		t.release(root)
		return err
	}
	rh := root.readHeader()
	rh.external = ch.external
	rh.cellCount = 0
	rh.cellStart = uint16(root.pageSize)
	rh.freeStart, rh.freeTotal, rh.fragCount = 0, 0, 0
	rh.nextID = ch.nextID
	rh.prevID = ch.prevID
	rh.parentID = 0

	if ch.external {
		for i := uint16(0); i < ch.cellCount; i++ {
			off := child.cellPointer(i)
			buf := child.page.View(uint32(off), child.pageSize-uint32(off))
			c := decodeExternalCell(buf, child.maxLocal())
			rh = root.putExternalCell(rh, i, externalCell{
				key: append([]byte(nil), c.key...), localValue: append([]byte(nil), c.localValue...),
				valueSize: c.valueSize, overflowID: c.overflowID,
			})
		}
	} else {
		for i := uint16(0); i < ch.cellCount; i++ {
			off := child.cellPointer(i)
			buf := child.page.View(uint32(off), child.pageSize-uint32(off))
			c := decodeInternalCell(buf)
			rh = root.putInternalCell(rh, i, internalCell{leftChildID: c.leftChildID, key: append([]byte(nil), c.key...)})
			t.setParent(c.leftChildID, rootPageID)
		}
		t.setParent(ch.nextID, rootPageID)
	}
	root.writeHeader(rh)

	if err := t.release(child); err != nil {
		t.release(root)
		return err
	}
	if err := t.release(root); err != nil {
		return err
	}
	return t.pager.Free(childID)
}
