package pager

import (
	"encoding/binary"
	"fmt"
)

// PointerMapEntryType classifies the kind of reference a page's
// back-pointer records, so vacuum knows which owning page to patch
// when relocating it.
type PointerMapEntryType uint8

const (
	// PtrTreeNode back-pointers name the page's parent node.
	PtrTreeNode PointerMapEntryType = iota + 1
	// PtrOverflowHead back-pointers name the leaf whose cell holds
	// the overflow chain's head id.
	PtrOverflowHead
	// PtrOverflowLink back-pointers name the previous page in an
	// overflow chain.
	PtrOverflowLink
	// PtrFreelist marks a page on the freelist; it has no single
	// owning page, so its back_ptr is unused (always 0).
	PtrFreelist
)

const pointerMapEntrySize = 9 // back_ptr(8) + type(1)

func entrySlot(id uint64, pageSize int) uint64 {
	mp := mapPage(id, pageSize)
	return id - mp - 1
}

// WritePointerMapEntry records id's back-pointer: the page (or, for
// PtrFreelist, the freelist itself) that references it. A no-op for
// id < 2 and for pointer-map pages themselves, neither of which carry
// an entry of their own.
func (p *Pager) WritePointerMapEntry(id uint64, backPtr uint64, typ PointerMapEntryType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writePointerMapEntryLocked(id, backPtr, typ)
}

// writePointerMapEntryLocked is WritePointerMapEntry's body, callable
// from methods (Free) that already hold p.mu.
func (p *Pager) writePointerMapEntryLocked(id uint64, backPtr uint64, typ PointerMapEntryType) error {
	if id < 2 || isPointerMapPage(id, p.pageSize) {
		return nil
	}
	mp := mapPage(id, p.pageSize)
	page, err := p.acquireLocked(mp)
	if err != nil {
		return err
	}
	if err := p.upgradeLocked(page); err != nil {
		p.releaseLocked(page)
		return err
	}
	off := uint32(entrySlot(id, p.pageSize) * pointerMapEntrySize)
	buf := page.Span(off, pointerMapEntrySize)
	binary.BigEndian.PutUint64(buf[0:8], backPtr)
	buf[8] = byte(typ)
	return p.releaseLocked(page)
}

// PointerMapEntry returns id's recorded back-pointer and type.
func (p *Pager) PointerMapEntry(id uint64) (uint64, PointerMapEntryType, error) {
	if id < 2 || isPointerMapPage(id, p.pageSize) {
		return 0, 0, fmt.Errorf("pager: page %d has no pointer-map entry", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	mp := mapPage(id, p.pageSize)
	page, err := p.acquireLocked(mp)
	if err != nil {
		return 0, 0, err
	}
	defer p.releaseLocked(page)
	off := uint32(entrySlot(id, p.pageSize) * pointerMapEntrySize)
	buf := page.View(off, pointerMapEntrySize)
	return binary.BigEndian.Uint64(buf[0:8]), PointerMapEntryType(buf[8]), nil
}

// entriesPerMap is the number of back-pointer entries a single
// pointer-map page holds, derived so that roughly every page_size/5-th
// page is reserved as a pointer-map page (spec section 4.6).
func entriesPerMap(pageSize int) uint64 {
	n := uint64(pageSize)/5 - 1
	if n < 1 {
		n = 1
	}
	return n
}

// mapPage returns the id of the pointer-map page covering id.
func mapPage(id uint64, pageSize int) uint64 {
	epm := entriesPerMap(pageSize)
	return (((id - 2) / epm) * (epm + 1)) + 2
}

// isPointerMapPage reports whether id is itself a pointer-map page,
// i.e. allocate() must skip over it.
func isPointerMapPage(id uint64, pageSize int) bool {
	if id < 2 {
		return false
	}
	return mapPage(id, pageSize) == id
}
