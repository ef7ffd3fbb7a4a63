package wal

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andy-byers/calicodb/storage"
)

// Writer appends records to the current WAL segment, splitting logical
// records across block boundaries as needed and finalizing segments
// once they reach segmentLimit bytes.
//
// Segment files are opened as storage.Editor (positioned writes) rather
// than a pure append handle: the in-progress block is written at its
// fixed offset every time it grows, which lets Flush make a partially
// filled block durable without prematurely deciding the block is
// complete. The net effect on disk is still append-only — no byte
// offset is ever revisited once its block has been finalized.
type Writer struct {
	mu sync.Mutex

	fs           storage.Storage
	blockSize    int
	segmentLimit int64

	segment   storage.Editor
	segmentID SegmentID

	block      []byte
	blockPos   int
	blockStart int64 // file offset where the current block begins

	nextLSN     atomic.Uint64
	flushedLSN  atomic.Uint64
	completeLSN uint64 // LSN of the last fully-encoded logical record
}

// newWriter opens (or creates) the segment immediately following the
// highest existing one, and is ready to append starting at firstLSN.
func newWriter(fs storage.Storage, blockSize int, segmentLimit int64, firstLSN uint64) (*Writer, error) {
	children, err := fs.Children(".")
	if err != nil {
		return nil, fmt.Errorf("wal: list segments: %w", err)
	}
	existing := listSegments(children)

	var startID SegmentID = 1
	if len(existing) > 0 {
		startID = existing[len(existing)-1] + 1
	}

	w := &Writer{
		fs:           fs,
		blockSize:    blockSize,
		segmentLimit: segmentLimit,
		block:        make([]byte, blockSize),
	}
	w.nextLSN.Store(firstLSN)
	if firstLSN > 0 {
		w.flushedLSN.Store(firstLSN - 1)
	}

	if err := w.openSegment(startID); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openSegment(id SegmentID) error {
	editor, err := w.fs.NewEditor(id.Name())
	if err != nil {
		return fmt.Errorf("wal: open segment %s: %w", id.Name(), err)
	}
	w.segment = editor
	w.segmentID = id
	w.blockStart = 0
	w.blockPos = 0
	return nil
}

// CurrentLSN returns the LSN the next logged record will receive.
func (w *Writer) CurrentLSN() uint64 { return w.nextLSN.Load() }

// FlushedLSN returns the highest LSN known durable. It is a lower bound
// when an async worker sits in front of this Writer.
func (w *Writer) FlushedLSN() uint64 { return w.flushedLSN.Load() }

func (w *Writer) logFullImage(p FullImage) (uint64, error) {
	return w.append(encodeFullImage(p))
}

func (w *Writer) logDelta(d Delta) (uint64, error) {
	return w.append(encodeDelta(d))
}

func (w *Writer) logCommit() (uint64, error) {
	return w.append(encodeCommit())
}

// append assigns the next LSN to payload and writes it, fragmenting
// across blocks and segments as necessary.
func (w *Writer) append(payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN.Add(1) - 1

	remaining := payload
	first := true
	for {
		room := w.blockSize - w.blockPos
		if room < fragHeaderSize+1 {
			if err := w.sealBlockLocked(); err != nil {
				return lsn, err
			}
			continue
		}

		avail := room - fragHeaderSize
		chunk := remaining
		isLast := true
		if len(chunk) > avail {
			chunk = remaining[:avail]
			isLast = false
		}

		var ft fragType
		switch {
		case first && isLast:
			ft = fragFull
		case first:
			ft = fragFirst
		case isLast:
			ft = fragLast
		default:
			ft = fragMiddle
		}

		header := make([]byte, fragHeaderSize)
		putFragHeader(header, lsn, ft, chunk)
		copy(w.block[w.blockPos:], header)
		copy(w.block[w.blockPos+fragHeaderSize:], chunk)
		w.blockPos += fragHeaderSize + len(chunk)

		remaining = remaining[len(chunk):]
		first = false

		if isLast {
			break
		}
		if err := w.sealBlockLocked(); err != nil {
			return lsn, err
		}
	}

	w.completeLSN = lsn
	if err := w.writeBlockLocked(w.blockPos); err != nil {
		return lsn, err
	}

	if w.blockStart+int64(w.blockSize) >= w.segmentLimit {
		if err := w.advanceLocked(); err != nil {
			return lsn, err
		}
	}

	return lsn, nil
}

// writeBlockLocked persists the first n bytes of the in-progress block
// to its fixed offset, without ending the block.
func (w *Writer) writeBlockLocked(n int) error {
	if n == 0 {
		return nil
	}
	if _, err := w.segment.Write(w.block[:n], w.blockStart); err != nil {
		return fmt.Errorf("wal: write block: %w", err)
	}
	return nil
}

// sealBlockLocked zero-pads the remainder of the current block, writes
// it in full, and starts a fresh block.
func (w *Writer) sealBlockLocked() error {
	for i := w.blockPos; i < w.blockSize; i++ {
		w.block[i] = 0
	}
	if err := w.writeBlockLocked(w.blockSize); err != nil {
		return err
	}
	w.blockStart += int64(w.blockSize)
	w.blockPos = 0
	return nil
}

// Flush writes any buffered bytes and syncs the current segment,
// advancing FlushedLSN to the last fully-encoded record.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if err := w.writeBlockLocked(w.blockPos); err != nil {
		return err
	}
	if err := w.segment.Sync(); err != nil {
		return fmt.Errorf("wal: sync segment: %w", err)
	}
	w.flushedLSN.Store(w.completeLSN)
	return nil
}

// Advance finalizes the current segment (zero-padding its tail block)
// and opens the next one.
func (w *Writer) Advance() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.advanceLocked()
}

func (w *Writer) advanceLocked() error {
	if w.blockPos > 0 {
		if err := w.sealBlockLocked(); err != nil {
			return err
		}
	}
	if err := w.segment.Sync(); err != nil {
		return fmt.Errorf("wal: sync segment: %w", err)
	}
	w.flushedLSN.Store(w.completeLSN)
	if err := w.segment.Close(); err != nil {
		return fmt.Errorf("wal: close segment: %w", err)
	}
	return w.openSegment(w.segmentID + 1)
}

// Mark is a writer position captured before a transaction begins, so
// that an abort can rewind the log past whatever the transaction wrote
// without needing to locate a byte offset from an LSN after the fact.
type Mark struct {
	segmentID   SegmentID
	blockStart  int64
	blockPos    int
	nextLSN     uint64
	completeLSN uint64
	flushedLSN  uint64
}

func (w *Writer) mark() Mark {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Mark{
		segmentID:   w.segmentID,
		blockStart:  w.blockStart,
		blockPos:    w.blockPos,
		nextLSN:     w.nextLSN.Load(),
		completeLSN: w.completeLSN,
		flushedLSN:  w.flushedLSN.Load(),
	}
}

// restore rewinds the writer to a previously captured Mark, deleting any
// segment files created since. Bytes already written past the mark
// within its own segment are left on disk but are dead: the next append
// overwrites them starting at blockStart/blockPos, and no reader ever
// visits them because readSegment stops at the first bad or zero
// fragment header once rewritten.
func (w *Writer) restore(m Mark) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if m.segmentID != w.segmentID {
		if err := w.segment.Close(); err != nil {
			return fmt.Errorf("wal: close segment during restore: %w", err)
		}
		for id := m.segmentID + 1; id <= w.segmentID; id++ {
			if err := w.fs.RemoveFile(id.Name()); err != nil {
				return fmt.Errorf("wal: remove segment %s during restore: %w", id.Name(), err)
			}
		}
		editor, err := w.fs.NewEditor(m.segmentID.Name())
		if err != nil {
			return fmt.Errorf("wal: reopen segment %s during restore: %w", m.segmentID.Name(), err)
		}
		w.segment = editor
		w.segmentID = m.segmentID
	}

	// Reread the target block from disk rather than trust whatever
	// w.block currently holds: if any block boundary was crossed since
	// the mark, the in-memory buffer belongs to a later block entirely.
	block := make([]byte, w.blockSize)
	if m.blockPos > 0 {
		if _, err := w.segment.Read(block, m.blockStart); err != nil {
			return fmt.Errorf("wal: reread block during restore: %w", err)
		}
	}
	for i := m.blockPos; i < len(block); i++ {
		block[i] = 0
	}
	w.block = block
	w.blockStart = m.blockStart
	w.blockPos = m.blockPos
	w.completeLSN = m.completeLSN
	w.nextLSN.Store(m.nextLSN)
	w.flushedLSN.Store(m.flushedLSN)

	return w.writeBlockLocked(len(w.block))
}

// Close flushes and closes the current segment file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.segment.Close()
}
