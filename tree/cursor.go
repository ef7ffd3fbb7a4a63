package tree

// Cursor provides an ordered scan over a Tree's keys, threading the
// external node sibling list via prev_id/next_id.
type Cursor struct {
	tree    *Tree
	pageID  uint64
	index   uint16
	valid   bool
	err     error
}

// NewCursor returns an unpositioned cursor; call one of the seek
// methods before Key/Value/Next/Previous.
func NewCursor(t *Tree) *Cursor {
	return &Cursor{tree: t}
}

func (c *Cursor) IsValid() bool { return c.valid && c.err == nil }
func (c *Cursor) Status() error { return c.err }

// SeekFirst positions the cursor at the smallest key in the tree.
func (c *Cursor) SeekFirst() {
	c.reset()
	id := uint64(rootPageID)
	for {
		n, err := c.tree.acquireNode(id)
		if err != nil {
			c.err = err
			return
		}
		h := n.readHeader()
		if h.external {
			c.tree.release(n)
			c.pageID = id
			c.index = 0
			c.valid = h.cellCount > 0
			return
		}
		var next uint64
		if h.cellCount > 0 {
			off := n.cellPointer(0)
			buf := n.page.View(uint32(off), n.pageSize-uint32(off))
			next = decodeInternalCell(buf).leftChildID
		} else {
			next = h.nextID
		}
		c.tree.release(n)
		id = next
	}
}

// SeekLast positions the cursor at the largest key in the tree.
func (c *Cursor) SeekLast() {
	c.reset()
	id := uint64(rootPageID)
	for {
		n, err := c.tree.acquireNode(id)
		if err != nil {
			c.err = err
			return
		}
		h := n.readHeader()
		if h.external {
			c.tree.release(n)
			c.pageID = id
			if h.cellCount > 0 {
				c.index = h.cellCount - 1
				c.valid = true
			}
			return
		}
		next := h.nextID
		c.tree.release(n)
		id = next
	}
}

// Seek positions the cursor at key, or at the smallest key greater
// than it if key is absent.
func (c *Cursor) Seek(key []byte) {
	c.reset()
	path, err := c.tree.descend(key)
	if err != nil {
		c.err = err
		return
	}
	leafID := path[len(path)-1]
	n, err := c.tree.acquireNode(leafID)
	if err != nil {
		c.err = err
		return
	}
	h := n.readHeader()
	idx, _ := n.search(h, key)
	c.tree.release(n)

	c.pageID = leafID
	c.index = uint16(idx)
	c.valid = uint16(idx) < h.cellCount
	if !c.valid {
		c.advanceToNextLeaf(h.nextID)
	}
}

func (c *Cursor) advanceToNextLeaf(nextID uint64) {
	if nextID == 0 {
		return
	}
	c.pageID = nextID
	c.index = 0
	n, err := c.tree.acquireNode(nextID)
	if err != nil {
		c.err = err
		return
	}
	h := n.readHeader()
	c.tree.release(n)
	c.valid = h.cellCount > 0
}

func (c *Cursor) retreatToPrevLeaf(prevID uint64) {
	if prevID == 0 {
		return
	}
	n, err := c.tree.acquireNode(prevID)
	if err != nil {
		c.err = err
		return
	}
	h := n.readHeader()
	c.tree.release(n)
	c.pageID = prevID
	if h.cellCount > 0 {
		c.index = h.cellCount - 1
		c.valid = true
	}
}

// Next advances the cursor by one key.
func (c *Cursor) Next() {
	if !c.IsValid() {
		return
	}
	n, err := c.tree.acquireNode(c.pageID)
	if err != nil {
		c.err = err
		return
	}
	h := n.readHeader()
	c.tree.release(n)

	if c.index+1 < h.cellCount {
		c.index++
		return
	}
	c.valid = false
	c.advanceToNextLeaf(h.nextID)
}

// Previous moves the cursor back by one key.
func (c *Cursor) Previous() {
	if !c.IsValid() {
		return
	}
	if c.index > 0 {
		c.index--
		return
	}
	n, err := c.tree.acquireNode(c.pageID)
	if err != nil {
		c.err = err
		return
	}
	h := n.readHeader()
	c.tree.release(n)
	c.valid = false
	c.retreatToPrevLeaf(h.prevID)
}

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() []byte {
	if !c.IsValid() {
		return nil
	}
	n, err := c.tree.acquireNode(c.pageID)
	if err != nil {
		c.err = err
		return nil
	}
	defer c.tree.release(n)
	h := n.readHeader()
	return append([]byte(nil), n.cellKey(h, c.index)...)
}

// Value returns the value at the cursor's current position,
// reassembling any overflow chain.
func (c *Cursor) Value() []byte {
	if !c.IsValid() {
		return nil
	}
	n, err := c.tree.acquireNode(c.pageID)
	if err != nil {
		c.err = err
		return nil
	}
	defer c.tree.release(n)
	off := n.cellPointer(c.index)
	buf := n.page.View(uint32(off), n.pageSize-uint32(off))
	cell := decodeExternalCell(buf, n.maxLocal())
	if !cell.hasOverflow() {
		return append([]byte(nil), cell.localValue...)
	}
	tail, err := readOverflow(c.tree.pager, c.tree.pageSize, cell.overflowID, int(cell.valueSize)-len(cell.localValue))
	if err != nil {
		c.err = err
		return nil
	}
	out := make([]byte, 0, cell.valueSize)
	out = append(out, cell.localValue...)
	out = append(out, tail...)
	return out
}

func (c *Cursor) reset() {
	c.pageID = 0
	c.index = 0
	c.valid = false
	c.err = nil
}
