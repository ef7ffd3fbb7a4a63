// Package pager implements CalicoDB's buffer pool: a fixed frame pool
// over a single data file, FIFO-with-pin-bypass eviction, an ordered
// dirty list, and the write-ahead-logging hooks that fire on every
// page's first write and on release.
package pager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/andy-byers/calicodb/storage"
	"github.com/andy-byers/calicodb/wal"
)

// ErrNoFreeFrame is returned when every frame is pinned and none can be
// evicted. The spec describes a blocking pool; this embedded,
// single-writer implementation surfaces the condition as an error
// instead of suspending the caller, since there is exactly one thread
// of control driving the tree and no other goroutine can ever release
// a pin to unblock it.
var ErrNoFreeFrame = errors.New("pager: no free frame available")

// MinFrameCount is the smallest frame pool size the spec allows.
const MinFrameCount = 16

// Pager is the buffer pool mediating all access to the data file's
// pages.
type Pager struct {
	mu sync.Mutex

	fs   storage.Storage
	path string
	file storage.Editor

	wal *wal.Wal

	pageSize int

	frames     []frame
	freeFrames []int // stack of indices into frames not holding any page
	cache      *cache
	dirty      *dirtyList

	alreadyImaged map[uint64]bool

	pageCount    uint64
	freelistHead uint64

	txActive bool
}

// Open constructs a pager over an already-open data file. pageCount and
// freelistHead come from the most recently validated file header.
func Open(fs storage.Storage, path string, w *wal.Wal, pageSize, frameCount int, pageCount, freelistHead uint64) (*Pager, error) {
	if frameCount < MinFrameCount {
		return nil, fmt.Errorf("pager: frame count %d below minimum %d", frameCount, MinFrameCount)
	}
	file, err := fs.NewEditor(path)
	if err != nil {
		return nil, fmt.Errorf("pager: open data file: %w", err)
	}

	frames := newFrames(frameCount, pageSize)
	free := make([]int, frameCount)
	for i := range free {
		free[i] = frameCount - 1 - i
	}

	return &Pager{
		fs:            fs,
		path:          path,
		file:          file,
		wal:           w,
		pageSize:      pageSize,
		frames:        frames,
		freeFrames:    free,
		cache:         newCache(),
		dirty:         newDirtyList(),
		alreadyImaged: make(map[uint64]bool),
		pageCount:     pageCount,
		freelistHead:  freelistHead,
	}, nil
}

// BeginTxn marks a transaction active, enabling the eviction skip rule
// that protects not-yet-flushed pages.
func (p *Pager) BeginTxn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txActive = true
	p.alreadyImaged = make(map[uint64]bool)
}

// EndTxn clears the per-transaction "already imaged" set and the
// active-transaction flag, per the commit and abort protocols.
func (p *Pager) EndTxn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txActive = false
	p.alreadyImaged = make(map[uint64]bool)
}

// PageCount returns the number of pages presently in the data file.
func (p *Pager) PageCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageCount
}

// FreelistHead returns the current head of the freelist.
func (p *Pager) FreelistHead() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freelistHead
}

// frameFor returns the frame index backing pageID, loading it from disk
// through a free (or evicted) frame if not already cached.
func (p *Pager) frameFor(id uint64) (int, error) {
	if idx, ok := p.cache.lookup(id); ok {
		return idx, nil
	}
	idx, err := p.claimFrame()
	if err != nil {
		return 0, err
	}
	if _, err := p.file.Read(p.frames[idx].buf, int64(id-1)*int64(p.pageSize)); err != nil {
		p.freeFrames = append(p.freeFrames, idx)
		return 0, fmt.Errorf("pager: read page %d: %w", id, err)
	}
	p.frames[idx].pageID = id
	p.cache.insert(id, idx)
	return idx, nil
}

// claimFrame returns a frame index with no page loaded into it,
// evicting the oldest unpinned, flushed page if the pool is full.
func (p *Pager) claimFrame() (int, error) {
	if n := len(p.freeFrames); n > 0 {
		idx := p.freeFrames[n-1]
		p.freeFrames = p.freeFrames[:n-1]
		return idx, nil
	}

	victim, ok := p.cache.evictOldestUnpinned(func(pageID uint64) bool {
		idx, _ := p.cache.lookup(pageID)
		f := &p.frames[idx]
		if f.refcount > 0 {
			return true
		}
		if p.txActive && readPageLSN(f.buf, pageID) > p.wal.FlushedLSN() {
			return true
		}
		return false
	})
	if !ok {
		return 0, ErrNoFreeFrame
	}

	var idx int
	for i := range p.frames {
		if p.frames[i].pageID == victim {
			idx = i
			break
		}
	}
	if p.dirty.has(victim) {
		if err := p.writeBack(idx); err != nil {
			return 0, err
		}
		p.dirty.remove(victim)
	}
	p.frames[idx] = frame{buf: p.frames[idx].buf}
	return idx, nil
}

func (p *Pager) writeBack(idx int) error {
	f := &p.frames[idx]
	if _, err := p.file.Write(f.buf, int64(f.pageID-1)*int64(p.pageSize)); err != nil {
		return fmt.Errorf("pager: write back page %d: %w", f.pageID, err)
	}
	return nil
}

// Acquire returns a read-only borrow of page id.
func (p *Pager) Acquire(id uint64) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked(id)
}

func (p *Pager) acquireLocked(id uint64) (*Page, error) {
	idx, err := p.frameFor(id)
	if err != nil {
		return nil, err
	}
	f := &p.frames[idx]
	if f.writable {
		return nil, fmt.Errorf("pager: page %d already has a writable handle outstanding", id)
	}
	f.refcount++
	return &Page{id: id, lsn: readPageLSN(f.buf, id), buf: f.buf}, nil
}

// Upgrade turns page into a write borrow. On the first upgrade of this
// page within the current transaction, a full_image WAL record is
// written first.
func (p *Pager) Upgrade(page *Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.upgradeLocked(page)
}

func (p *Pager) upgradeLocked(page *Page) error {
	idx, ok := p.cache.lookup(page.id)
	if !ok {
		return fmt.Errorf("pager: page %d is not acquired", page.id)
	}
	f := &p.frames[idx]
	if f.writable {
		return fmt.Errorf("pager: page %d already writable", page.id)
	}
	if f.refcount > 1 {
		return fmt.Errorf("pager: page %d has other outstanding readers", page.id)
	}

	if !p.dirty.has(page.id) {
		p.dirty.add(page.id, page.lsn)
	}
	if !p.alreadyImaged[page.id] {
		img := append([]byte(nil), f.buf...)
		if _, err := p.wal.LogFullImage(wal.FullImage{PageID: page.id, Image: img}); err != nil {
			return fmt.Errorf("pager: log full image for page %d: %w", page.id, err)
		}
		p.alreadyImaged[page.id] = true
	}

	f.writable = true
	page.writable = true
	return nil
}

// Allocate returns a fresh writable page, preferring the freelist and
// otherwise extending the data file by one page. The reserved root
// position and pointer-map pages are never handed out.
func (p *Pager) Allocate() (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocateLocked()
}

func (p *Pager) allocateLocked() (*Page, error) {
	var id uint64
	if p.freelistHead != 0 {
		headIdx, err := p.frameFor(p.freelistHead)
		if err != nil {
			return nil, err
		}
		id = p.freelistHead
		p.freelistHead = readFreelistNext(p.frames[headIdx].buf)
	} else {
		for {
			candidate := p.pageCount + 1
			p.pageCount++
			if candidate == 1 || isPointerMapPage(candidate, p.pageSize) {
				continue
			}
			id = candidate
			break
		}
		if err := p.fs.ResizeFile(p.path, int64(p.pageCount)*int64(p.pageSize)); err != nil {
			return nil, fmt.Errorf("pager: extend data file: %w", err)
		}
	}

	idx, ok := p.cache.lookup(id)
	if !ok {
		var err error
		idx, err = p.claimFrame()
		if err != nil {
			return nil, err
		}
		p.frames[idx].pageID = id
		p.cache.insert(id, idx)
	}
	f := &p.frames[idx]
	for i := range f.buf {
		f.buf[i] = 0
	}
	f.refcount++
	f.writable = true

	p.dirty.add(id, 0)
	p.alreadyImaged[id] = true

	return &Page{id: id, lsn: 0, writable: true, buf: f.buf}, nil
}

// Free pushes id onto the freelist: its body is overwritten with the
// current freelist head pointer, and it becomes the new head. Like any
// other page write, this goes through acquire/upgrade/release and is
// therefore WAL-logged and transactional.
func (p *Pager) Free(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	page, err := p.acquireLocked(id)
	if err != nil {
		return err
	}
	if err := p.upgradeLocked(page); err != nil {
		return err
	}
	writeFreelistNext(page.Span(0, 8), p.freelistHead)
	p.freelistHead = id
	if err := p.releaseLocked(page); err != nil {
		return err
	}
	return p.writePointerMapEntryLocked(id, 0, PtrFreelist)
}

// PopFreeSlot removes and returns the freelist head as a destination
// for vacuum's page relocation, or ok=false if the freelist is empty.
// Unlike Allocate, it never falls back to extending the file.
func (p *Pager) PopFreeSlot() (uint64, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freelistHead == 0 {
		return 0, false, nil
	}
	id := p.freelistHead
	idx, err := p.frameFor(id)
	if err != nil {
		return 0, false, err
	}
	p.freelistHead = readFreelistNext(p.frames[idx].buf)
	return id, true, nil
}

// OnFreelist reports whether id currently appears on the freelist,
// walking the chain from its head. Used by vacuum to recognize a tail
// page that needs only truncation, not relocation.
func (p *Pager) OnFreelist(id uint64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.freelistHead
	for cur != 0 {
		if cur == id {
			return true, nil
		}
		idx, err := p.frameFor(cur)
		if err != nil {
			return false, err
		}
		cur = readFreelistNext(p.frames[idx].buf)
	}
	return false, nil
}

// RestoreImage overwrites page id's resident content with image and
// sets its page_lsn to lsn, without emitting a WAL record of its own.
// This is the abort protocol's undo step: image is a full_image
// payload already durable in the log, so no further logging is needed
// here, only that the page in cache (and, on the next flush, on disk)
// reflects it.
func (p *Pager) RestoreImage(id uint64, image []byte, lsn uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, err := p.frameFor(id)
	if err != nil {
		return err
	}
	f := &p.frames[idx]
	if f.refcount > 0 {
		return fmt.Errorf("pager: page %d has an outstanding borrow during restore", id)
	}
	copy(f.buf, image)
	writePageLSN(f.buf, id, lsn)
	p.dirty.add(id, lsn)
	return nil
}

// Release returns page to the pager. If it was written to, a delta WAL
// record is emitted and the page's LSN advances.
func (p *Pager) Release(page *Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseLocked(page)
}

func (p *Pager) releaseLocked(page *Page) error {
	idx, ok := p.cache.lookup(page.id)
	if !ok {
		return fmt.Errorf("pager: page %d is not acquired", page.id)
	}
	f := &p.frames[idx]

	if page.writable && page.dirty {
		compressed := compressDeltas(page.deltas)
		ranges := make([]wal.DeltaRange, len(compressed))
		for i, d := range compressed {
			ranges[i] = wal.DeltaRange{
				Offset: uint16(d.offset),
				Bytes:  append([]byte(nil), f.buf[d.offset:d.end()]...),
			}
		}
		lsn, err := p.wal.LogDelta(wal.Delta{PageID: page.id, Ranges: ranges})
		if err != nil {
			return fmt.Errorf("pager: log delta for page %d: %w", page.id, err)
		}
		writePageLSN(f.buf, page.id, lsn)
		page.lsn = lsn
	}

	if page.writable {
		f.writable = false
	}
	f.refcount--
	return nil
}

// Flush writes back every dirty page whose record_lsn is <= upToLSN
// (every dirty page, if upToLSN is nil). It fails if the corresponding
// WAL record is not yet durable.
func (p *Pager) Flush(upToLSN *uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range append([]dirtyEntry(nil), p.dirty.order...) {
		if upToLSN != nil && entry.recordLSN > *upToLSN {
			continue
		}
		idx, ok := p.cache.lookup(entry.pageID)
		if !ok {
			continue
		}
		f := &p.frames[idx]
		pageLSN := readPageLSN(f.buf, entry.pageID)
		if pageLSN > p.wal.FlushedLSN() {
			return fmt.Errorf("pager: page %d's WAL record (lsn %d) is not yet durable", entry.pageID, pageLSN)
		}
		if err := p.writeBack(idx); err != nil {
			return err
		}
		p.dirty.remove(entry.pageID)
	}
	return nil
}

// RecoveryLSN is the minimum record_lsn over dirty pages, or the WAL's
// flushed LSN when nothing is dirty.
func (p *Pager) RecoveryLSN() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if min, ok := p.dirty.minRecordLSN(); ok {
		return min
	}
	return p.wal.FlushedLSN()
}

// Truncate resizes the data file to newPageCount pages and purges any
// cached frames beyond that bound.
func (p *Pager) Truncate(newPageCount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range p.frames {
		if f.pageID > newPageCount && p.cache != nil {
			if _, ok := p.cache.lookup(f.pageID); ok {
				p.cache.erase(f.pageID)
				p.dirty.remove(f.pageID)
			}
		}
	}
	for i := range p.frames {
		if p.frames[i].pageID > newPageCount {
			p.frames[i] = frame{buf: p.frames[i].buf}
			p.freeFrames = append(p.freeFrames, i)
		}
	}

	if err := p.fs.ResizeFile(p.path, int64(newPageCount)*int64(p.pageSize)); err != nil {
		return fmt.Errorf("pager: truncate data file: %w", err)
	}
	p.pageCount = newPageCount
	return nil
}

// RestoreHeader resets the pager's page_count and freelist_head to
// values from before an aborted transaction, truncating the data file
// to match. Called as the last step of the abort protocol, after the
// undone pages have been flushed.
func (p *Pager) RestoreHeader(pageCount, freelistHead uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range p.frames {
		if f.pageID > pageCount && p.cache != nil {
			if _, ok := p.cache.lookup(f.pageID); ok {
				p.cache.erase(f.pageID)
				p.dirty.remove(f.pageID)
			}
		}
	}
	for i := range p.frames {
		if p.frames[i].pageID > pageCount {
			p.frames[i] = frame{buf: p.frames[i].buf}
			p.freeFrames = append(p.freeFrames, i)
		}
	}

	if err := p.fs.ResizeFile(p.path, int64(pageCount)*int64(p.pageSize)); err != nil {
		return fmt.Errorf("pager: truncate data file: %w", err)
	}
	p.pageCount = pageCount
	p.freelistHead = freelistHead
	return nil
}

// Close flushes nothing by itself — callers must Flush first — and
// releases the underlying file handle.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Close()
}
