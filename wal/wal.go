package wal

import (
	"fmt"

	"github.com/andy-byers/calicodb/storage"
)

// Options configures a Wal instance. BlockSize should match the
// database's page size; SegmentLimit bounds how large a single segment
// file is allowed to grow before a new one is started.
type Options struct {
	BlockSize     int
	SegmentLimit  int64
	FirstLSN      uint64
	WorkerBacklog int // 0 disables the async worker goroutine
}

// Wal is the write-ahead log's public surface: a durable, ordered,
// append-only record stream with forward and backward replay, used by
// the pager for redo/undo and by transactions for commit durability.
type Wal struct {
	fs      storage.Storage
	writer  *Writer
	reader  *Reader
	cleaner *cleaner
	worker  *worker
}

// Open prepares the log rooted at fs, always starting a new segment
// numbered one past the highest existing one, and positioning the next
// LSN at opts.FirstLSN (typically one past the database's last
// known-committed LSN).
func Open(fs storage.Storage, opts Options) (*Wal, error) {
	if opts.BlockSize <= fragHeaderSize {
		return nil, fmt.Errorf("wal: block size %d too small", opts.BlockSize)
	}
	w, err := newWriter(fs, opts.BlockSize, opts.SegmentLimit, opts.FirstLSN)
	if err != nil {
		return nil, err
	}
	reader := newReader(fs, opts.BlockSize)
	l := &Wal{
		fs:      fs,
		writer:  w,
		reader:  reader,
		cleaner: newCleaner(fs, reader),
	}
	if opts.WorkerBacklog > 0 {
		l.worker = newWorker(w, opts.WorkerBacklog)
	}
	return l, nil
}

func (l *Wal) append(payload []byte) (uint64, error) {
	if l.worker != nil {
		return l.worker.submit(payload)
	}
	return l.writer.append(payload)
}

// LogFullImage records a pre-mutation snapshot of a page.
func (l *Wal) LogFullImage(p FullImage) (uint64, error) {
	return l.append(encodeFullImage(p))
}

// LogDelta records a set of modified byte ranges within a page.
func (l *Wal) LogDelta(d Delta) (uint64, error) {
	return l.append(encodeDelta(d))
}

// LogCommit records the transaction boundary that recovery treats as
// the high-water mark of replayable history.
func (l *Wal) LogCommit() (uint64, error) {
	return l.append(encodeCommit())
}

// CurrentLSN returns the LSN the next logged record will receive.
func (l *Wal) CurrentLSN() uint64 { return l.writer.CurrentLSN() }

// FlushedLSN returns the highest LSN guaranteed durable.
func (l *Wal) FlushedLSN() uint64 { return l.writer.FlushedLSN() }

// Flush syncs buffered writes to the current segment.
func (l *Wal) Flush() error { return l.writer.Flush() }

// RollForward replays records with LSN >= from in ascending order.
func (l *Wal) RollForward(from uint64, cb func(Record) error) error {
	return l.reader.RollForward(from, cb)
}

// RollBackward replays records in descending order down to and
// including the first one with LSN <= to.
func (l *Wal) RollBackward(to uint64, cb func(Record) error) error {
	return l.reader.RollBackward(to, cb)
}

// RemoveBefore unlinks segments entirely below lsn. Call with the
// pager's recovery_lsn after a checkpoint.
func (l *Wal) RemoveBefore(lsn uint64) error {
	return l.cleaner.removeBefore(lsn)
}

// Mark captures the writer's current position, to be passed to
// Truncate by the abort protocol once the transaction's full_image
// records have been rolled back into the pager.
func (l *Wal) Mark() Mark {
	return l.writer.mark()
}

// Truncate rewinds the log to a previously captured Mark, discarding
// every record appended since. Used by abort to drop the aborted
// transaction's records so a later crash's recovery never redoes them.
func (l *Wal) Truncate(m Mark) error {
	return l.writer.restore(m)
}

// OpenReader constructs a standalone reader over fs, for scanning a log
// before its Writer (and the fresh segment opening one entails) exists
// — open-time recovery runs this way, ahead of the real wal.Open call.
func OpenReader(fs storage.Storage, blockSize int) *Reader {
	return newReader(fs, blockSize)
}

// Close stops any async worker and closes the current segment.
func (l *Wal) Close() error {
	if l.worker != nil {
		l.worker.stop()
	}
	return l.writer.Close()
}
