package pager

import (
	"bytes"
	"testing"

	"github.com/andy-byers/calicodb/storage"
	"github.com/andy-byers/calicodb/wal"
)

const testPageSize = 512

func openTestPager(t *testing.T, frameCount int, pageCount uint64) (*Pager, *wal.Wal) {
	t.Helper()
	dataFS := storage.NewMemory()
	if err := dataFS.ResizeFile("data", int64(pageCount)*testPageSize); err != nil {
		t.Fatalf("preallocate data file: %v", err)
	}
	walFS := storage.NewMemory()
	w, err := wal.Open(walFS, wal.Options{BlockSize: testPageSize, SegmentLimit: 1 << 20, FirstLSN: 1})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	p, err := Open(dataFS, "data", w, testPageSize, frameCount, pageCount, 0)
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	return p, w
}

func TestAcquireUpgradeReleaseLogsWAL(t *testing.T) {
	p, w := openTestPager(t, MinFrameCount, 1)
	defer p.Close()

	page, err := p.Acquire(1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if page.LSN() != 0 {
		t.Fatalf("expected fresh page LSN 0, got %d", page.LSN())
	}

	if err := p.Upgrade(page); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	copy(page.Span(FileHeaderSize+8, 4), []byte("ABCD"))

	if err := p.Release(page); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if page.LSN() == 0 {
		t.Fatalf("expected page LSN to advance after release")
	}

	var types []wal.PayloadType
	err = w.RollForward(0, func(r wal.Record) error {
		types = append(types, r.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("RollForward failed: %v", err)
	}
	if len(types) != 2 || types[0] != wal.PayloadFullImage || types[1] != wal.PayloadDelta {
		t.Fatalf("expected [full_image, delta], got %v", types)
	}
}

func TestUpgradeOnlyImagesOncePerTransaction(t *testing.T) {
	p, w := openTestPager(t, MinFrameCount, 1)
	defer p.Close()

	for i := 0; i < 3; i++ {
		page, err := p.Acquire(1)
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		if err := p.Upgrade(page); err != nil {
			t.Fatalf("Upgrade %d failed: %v", i, err)
		}
		copy(page.Span(FileHeaderSize, 1), []byte{byte(i)})
		if err := p.Release(page); err != nil {
			t.Fatalf("Release %d failed: %v", i, err)
		}
	}

	var fullImages int
	err := w.RollForward(0, func(r wal.Record) error {
		if r.Type == wal.PayloadFullImage {
			fullImages++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RollForward failed: %v", err)
	}
	if fullImages != 1 {
		t.Fatalf("expected exactly one full_image before EndTxn, got %d", fullImages)
	}

	p.EndTxn()
	page, _ := p.Acquire(1)
	p.Upgrade(page)
	copy(page.Span(FileHeaderSize, 1), []byte{9})
	p.Release(page)

	fullImages = 0
	w.RollForward(0, func(r wal.Record) error {
		if r.Type == wal.PayloadFullImage {
			fullImages++
		}
		return nil
	})
	if fullImages != 2 {
		t.Fatalf("expected a second full_image after EndTxn, got %d", fullImages)
	}
}

func TestAllocateSkipsRootAndExtendsFile(t *testing.T) {
	p, _ := openTestPager(t, MinFrameCount, 1)
	defer p.Close()

	page, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	// Page 2 is reserved as the first pointer-map page, so the first
	// handed-out page is 3; page_count advances past both.
	if page.ID() != 3 {
		t.Fatalf("expected first allocation to be page 3, got %d", page.ID())
	}
	if p.PageCount() != 3 {
		t.Fatalf("expected page count 3, got %d", p.PageCount())
	}
	if err := p.Release(page); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestEvictionWritesBackAndReload(t *testing.T) {
	const pages = uint64(20)
	p, w := openTestPager(t, MinFrameCount, 1)
	defer p.Close()

	markers := make(map[uint64]byte)
	for i := uint64(0); i < pages; i++ {
		page, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d failed: %v", i, err)
		}
		marker := byte(i + 1)
		copy(page.Span(8, 1), []byte{marker})
		markers[page.ID()] = marker
		if err := p.Release(page); err != nil {
			t.Fatalf("Release %d failed: %v", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("wal flush failed: %v", err)
	}
	if err := p.Flush(nil); err != nil {
		t.Fatalf("pager flush failed: %v", err)
	}

	for id, marker := range markers {
		page, err := p.Acquire(id)
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", id, err)
		}
		if got := page.View(8, 1)[0]; got != marker {
			t.Fatalf("page %d: expected marker %d, got %d", id, marker, got)
		}
		if err := p.Release(page); err != nil {
			t.Fatalf("Release %d failed: %v", id, err)
		}
	}
}

func TestDeltaCompressionMergesAdjacentRanges(t *testing.T) {
	p, w := openTestPager(t, MinFrameCount, 1)
	defer p.Close()

	page, err := p.Acquire(1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := p.Upgrade(page); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	copy(page.Span(100, 4), []byte("AAAA"))
	copy(page.Span(104, 4), []byte("BBBB"))
	if err := p.Release(page); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	var deltas []wal.Delta
	err = w.RollForward(0, func(r wal.Record) error {
		if r.Type != wal.PayloadDelta {
			return nil
		}
		d, err := wal.DecodeDelta(r.Data)
		if err != nil {
			return err
		}
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("RollForward failed: %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta record, got %d", len(deltas))
	}
	if len(deltas[0].Ranges) != 1 {
		t.Fatalf("expected adjacent spans to merge into 1 range, got %d", len(deltas[0].Ranges))
	}
	if !bytes.Equal(deltas[0].Ranges[0].Bytes, []byte("AAAABBBB")) {
		t.Fatalf("unexpected merged bytes: %q", deltas[0].Ranges[0].Bytes)
	}
}
