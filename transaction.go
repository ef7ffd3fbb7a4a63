package calicodb

import "github.com/andy-byers/calicodb/wal"

// Transaction is the single writer transaction a Database allows at a
// time. It carries just enough state, captured at Begin, to drive the
// commit and abort protocols; all actual reads and writes go through
// the Database that created it (db.Insert/db.Get/db.Erase), following
// the same "plain scoped value, no back pointer into a cache" shape as
// the rest of this package.
type Transaction struct {
	db *Database

	commitLSN    uint64
	walMark      wal.Mark
	pageCount    uint64
	freelistHead uint64
	recordCount  uint64

	done bool
}

// Commit durably finalizes every write made since Begin, following the
// spec's six-step commit protocol. Commit on an already-finished
// transaction is a logic error.
func (t *Transaction) Commit() Status {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	if t.done {
		return logicError("transaction already finished")
	}
	if !t.db.sticky.IsOk() {
		return t.db.sticky
	}

	// 1. Write the updated file-header fields into page 1.
	if err := t.db.writeHeaderLocked(); err != nil {
		return t.db.fail(err)
	}

	// 2. Emit the commit record; its LSN becomes commit_lsn.
	commitLSN, err := t.db.wal.LogCommit()
	if err != nil {
		return t.db.fail(err)
	}

	// 3. Flush the WAL and require flushed_lsn >= commit_lsn.
	if err := t.db.wal.Flush(); err != nil {
		return t.db.fail(err)
	}
	if t.db.wal.FlushedLSN() < commitLSN {
		st := corruption("wal flushed_lsn %d did not reach commit_lsn %d after flush", t.db.wal.FlushedLSN(), commitLSN)
		t.db.sticky = st
		return st
	}

	// 4. Flush every page dirtied before the previous commit.
	if err := t.db.pager.Flush(&t.commitLSN); err != nil {
		return t.db.fail(err)
	}

	// 5. Drop WAL segments entirely below the new recovery_lsn.
	if err := t.db.wal.RemoveBefore(t.db.pager.RecoveryLSN()); err != nil {
		return t.db.fail(err)
	}

	// 6. Clear the per-transaction "already imaged" set.
	t.db.pager.EndTxn()

	t.db.txnActive = false
	t.done = true
	t.db.log.Debugf("committed transaction at lsn %d", commitLSN)
	return Ok
}

// Abort rolls back every write made since Begin, following the spec's
// four-step abort protocol. Abort is idempotent: calling it again after
// a successful Commit or a prior Abort is a no-op, the Go idiom for
// `defer txn.Abort()` immediately after Begin.
func (t *Transaction) Abort() Status {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	if t.done {
		return Ok
	}
	t.done = true
	t.db.txnActive = false

	// 1. Roll the log backward to commit_lsn, restoring each full_image
	// into the pager's cache.
	if err := t.db.wal.RollBackward(t.commitLSN, func(rec wal.Record) error {
		if rec.Type != wal.PayloadFullImage {
			return nil
		}
		img, derr := wal.DecodeFullImage(rec.Data)
		if derr != nil {
			return derr
		}
		return t.db.pager.RestoreImage(img.PageID, img.Image, rec.LSN)
	}); err != nil {
		return t.db.fail(err)
	}

	// 2. Persist the undone pages.
	if err := t.db.pager.Flush(nil); err != nil {
		return t.db.fail(err)
	}

	// 3. Drop the aborted transaction's WAL records outright.
	if err := t.db.wal.Truncate(t.walMark); err != nil {
		return t.db.fail(err)
	}

	// 4. Reload file-header fields from the restored root page.
	if err := t.db.pager.RestoreHeader(t.pageCount, t.freelistHead); err != nil {
		return t.db.fail(err)
	}
	t.db.header.pageCount = t.pageCount
	t.db.header.freelistHead = t.freelistHead
	t.db.header.recordCount = t.recordCount
	t.db.pager.EndTxn()

	t.db.sticky = Ok
	t.db.log.Debugf("aborted transaction back to lsn %d", t.commitLSN)
	return Ok
}
