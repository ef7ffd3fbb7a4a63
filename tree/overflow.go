package tree

import (
	"encoding/binary"

	"github.com/andy-byers/calicodb/pager"
)

// writeOverflow spills tail into a freshly allocated chain of overflow
// pages and returns the id of the chain head. owner is the leaf whose
// cell will store headID, recorded as the head page's back-pointer;
// every later page's back-pointer is the overflow page before it.
func writeOverflow(p *pager.Pager, pageSize uint32, tail []byte, owner uint64) (uint64, error) {
	chunk := int(pageSize) - 8
	var headID, prevID uint64

	for off := 0; off < len(tail); {
		page, err := p.Allocate()
		if err != nil {
			return 0, err
		}
		if headID == 0 {
			headID = page.ID()
		}
		n := len(tail) - off
		if n > chunk {
			n = chunk
		}
		copy(page.Span(8, uint32(n)), tail[off:off+n])
		binary.BigEndian.PutUint64(page.Span(0, 8), 0)
		id := page.ID()
		if err := p.Release(page); err != nil {
			return 0, err
		}
		if prevID != 0 {
			if err := linkOverflow(p, prevID, id); err != nil {
				return 0, err
			}
			if err := p.WritePointerMapEntry(id, prevID, pager.PtrOverflowLink); err != nil {
				return 0, err
			}
		} else {
			if err := p.WritePointerMapEntry(id, owner, pager.PtrOverflowHead); err != nil {
				return 0, err
			}
		}
		prevID = id
		off += n
	}
	return headID, nil
}

func linkOverflow(p *pager.Pager, id, next uint64) error {
	page, err := p.Acquire(id)
	if err != nil {
		return err
	}
	if err := p.Upgrade(page); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(page.Span(0, 8), next)
	return p.Release(page)
}

// readOverflow walks the chain rooted at headID, appending up to
// remaining bytes of payload.
func readOverflow(p *pager.Pager, pageSize uint32, headID uint64, remaining int) ([]byte, error) {
	out := make([]byte, 0, remaining)
	id := headID
	for id != 0 && remaining > 0 {
		page, err := p.Acquire(id)
		if err != nil {
			return nil, err
		}
		chunk := int(pageSize) - 8
		if chunk > remaining {
			chunk = remaining
		}
		out = append(out, page.View(8, uint32(chunk))...)
		next := binary.BigEndian.Uint64(page.View(0, 8))
		if err := p.Release(page); err != nil {
			return nil, err
		}
		remaining -= chunk
		id = next
	}
	return out, nil
}

// destroyOverflow frees every page in the chain rooted at headID.
func destroyOverflow(p *pager.Pager, headID uint64) error {
	id := headID
	for id != 0 {
		page, err := p.Acquire(id)
		if err != nil {
			return err
		}
		next := binary.BigEndian.Uint64(page.View(0, 8))
		if err := p.Release(page); err != nil {
			return err
		}
		if err := p.Free(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
