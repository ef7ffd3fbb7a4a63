package pager

// Page is a borrowed handle onto one frame's buffer. A page acquired
// read-only must not be mutated; one obtained (or upgraded) as
// writable has exclusive access until it is released back to the
// pager. Pages never hold a reference back to the Pager — release is
// an explicit call, not a destructor, avoiding the cyclic ownership
// the original pager/page split was built around.
type Page struct {
	id       uint64
	lsn      uint64
	writable bool
	dirty    bool
	deltas   []deltaRange
	buf      []byte
}

// ID returns the page's identifier.
func (p *Page) ID() uint64 { return p.id }

// LSN returns the LSN of the last WAL record that modified this page.
func (p *Page) LSN() uint64 { return p.lsn }

// Writable reports whether this handle carries write access.
func (p *Page) Writable() bool { return p.writable }

// View returns a read-only slice of the page's bytes in [offset, offset+size).
func (p *Page) View(offset, size uint32) []byte {
	return p.buf[offset : offset+size]
}

// Span returns a mutable slice of the page's bytes in [offset, offset+size)
// and registers the range as a pending delta. Panics if the page is not
// writable.
func (p *Page) Span(offset, size uint32) []byte {
	if !p.writable {
		panic("pager: span on a read-only page")
	}
	p.dirty = true
	p.deltas = insertDelta(p.deltas, offset, size)
	return p.buf[offset : offset+size]
}

// Bytes returns the full backing buffer, for callers (the file header,
// recovery) that need direct access without delta tracking.
func (p *Page) Bytes() []byte { return p.buf }
