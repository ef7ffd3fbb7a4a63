package tree

import "encoding/binary"

// RelocateOverflowHead patches the external cell in leaf whose
// overflow_head_id equals oldID, pointing it at newID instead. Called
// by vacuum immediately after physically moving the overflow chain's
// head page from oldID to newID.
func (t *Tree) RelocateOverflowHead(leafID, oldID, newID uint64) error {
	n, err := t.acquireNode(leafID)
	if err != nil {
		return err
	}
	if err := t.pager.Upgrade(n.page); err != nil {
		t.release(n)
		return err
	}
	h := n.readHeader()
	maxLocal := n.maxLocal()
	patched := false
	for i := uint16(0); i < h.cellCount; i++ {
		off := n.cellPointer(i)
		buf := n.page.Span(uint32(off), n.pageSize-uint32(off))
		fieldOff, ok := cellOverflowOffset(buf, maxLocal)
		if !ok {
			continue
		}
		if binary.BigEndian.Uint64(buf[fieldOff:fieldOff+8]) == oldID {
			binary.BigEndian.PutUint64(buf[fieldOff:fieldOff+8], newID)
			patched = true
			break
		}
	}
	if !patched {
		t.release(n)
		return ErrDanglingOverflow
	}
	return t.release(n)
}
