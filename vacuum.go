package calicodb

import (
	"encoding/binary"

	"github.com/andy-byers/calicodb/pager"
)

// Vacuum shrinks the data file by relocating in-use pages out of its
// tail and onto free slots further toward the front, then truncating.
// It repeatedly moves the current last page into the first available
// freelist slot, patching the one page that referenced it (found via
// the pointer map) to point at the new location. A tail page that is
// already on the freelist is truncated off directly. The loop ends when
// the tail page is a tree node or no free slot below it remains to
// relocate it into. It must run within an active transaction, same as
// Insert/Erase.
//
// Relocating an interior or leaf tree node requires rewriting every
// child's parent_id (and, for a leaf, its siblings' link fields) in
// addition to the parent's separator cell; that full reparenting pass
// isn't implemented here, so vacuum stops, rather than relocates, the
// first time the tail page turns out to be a tree node. Overflow pages
// and free slots, which have exactly one referent, are relocated in
// full.
func (d *Database) Vacuum() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if st := d.checkWritable(); !st.IsOk() {
		return st
	}

	for {
		pc := d.pager.PageCount()
		if pc <= 1 {
			break
		}
		last := pc

		free, err := d.pager.OnFreelist(last)
		if err != nil {
			return d.fail(err)
		}
		if free {
			if err := d.pager.Truncate(pc - 1); err != nil {
				return d.fail(err)
			}
			continue
		}

		backPtr, typ, err := d.pager.PointerMapEntry(last)
		if err != nil {
			return d.fail(err)
		}
		if typ == pager.PtrTreeNode {
			break
		}

		dest, ok, err := d.pager.PopFreeSlot()
		if err != nil {
			return d.fail(err)
		}
		if !ok || dest >= last {
			if ok {
				// Put it back; there's nothing usable to relocate into.
				if ferr := d.pager.Free(dest); ferr != nil {
					return d.fail(ferr)
				}
			}
			break
		}

		if err := d.relocatePage(last, dest, backPtr, typ); err != nil {
			return d.fail(err)
		}
		if err := d.pager.Truncate(pc - 1); err != nil {
			return d.fail(err)
		}
	}
	return Ok
}

// relocatePage copies last's resident content onto dest, carries its
// pointer-map entry over to the new id, and patches the single page
// (backPtr) that referenced it under the old id.
func (d *Database) relocatePage(last, dest, backPtr uint64, typ pager.PointerMapEntryType) error {
	src, err := d.pager.Acquire(last)
	if err != nil {
		return err
	}
	image := append([]byte(nil), src.View(0, uint32(d.header.pageSize))...)
	if err := d.pager.Release(src); err != nil {
		return err
	}

	dst, err := d.pager.Acquire(dest)
	if err != nil {
		return err
	}
	if err := d.pager.Upgrade(dst); err != nil {
		d.pager.Release(dst)
		return err
	}
	copy(dst.Span(0, uint32(d.header.pageSize)), image)
	if err := d.pager.Release(dst); err != nil {
		return err
	}

	if err := d.pager.WritePointerMapEntry(dest, backPtr, typ); err != nil {
		return err
	}

	switch typ {
	case pager.PtrOverflowHead:
		return d.tree.RelocateOverflowHead(backPtr, last, dest)
	case pager.PtrOverflowLink:
		return relinkOverflow(d.pager, backPtr, dest)
	}
	return nil
}

// relinkOverflow rewrites the next-pointer stored in the first 8 bytes
// of owner (an overflow page) to point at dest, mirroring the tree
// package's own linkOverflow but callable from outside it.
func relinkOverflow(p *pager.Pager, owner, dest uint64) error {
	page, err := p.Acquire(owner)
	if err != nil {
		return err
	}
	if err := p.Upgrade(page); err != nil {
		p.Release(page)
		return err
	}
	binary.BigEndian.PutUint64(page.Span(0, 8), dest)
	return p.Release(page)
}
