package calicodb

import (
	"encoding/binary"

	"github.com/andy-byers/calicodb/storage"
	"github.com/andy-byers/calicodb/wal"
)

// recoverDatabase runs the open-time recovery protocol directly against
// the data file, ahead of the pager and tree existing: redo every
// logged mutation forward from the header's recovery_lsn, then, if the
// log didn't end on a commit, undo the trailing incomplete transaction
// backward to the last one that did. It returns the header as it reads
// after recovery (page_count/freelist_head may have moved if redo
// replayed page-1 deltas) and the LSN the live WAL writer must resume
// at, one past the highest LSN found anywhere in the log.
func recoverDatabase(fs storage.Storage, header fileHeader) (fileHeader, uint64, Status) {
	editor, err := fs.NewEditor(dataFileName)
	if err != nil {
		return header, 0, system("recovery: open data file: %v", err)
	}
	defer editor.Close()

	pageSize := int64(header.pageSize)

	readPage := func(id uint64) ([]byte, error) {
		buf := make([]byte, pageSize)
		if _, err := editor.Read(buf, int64(id-1)*pageSize); err != nil {
			return nil, err
		}
		return buf, nil
	}
	writePage := func(id uint64, buf []byte) error {
		_, err := editor.Write(buf, int64(id-1)*pageSize)
		return err
	}
	lsnOffset := func(id uint64) int64 {
		if id == 1 {
			return int64(fileHeaderSize)
		}
		return 0
	}
	currentPageLSN := func(id uint64) (uint64, error) {
		buf := make([]byte, 8)
		if _, err := editor.Read(buf, int64(id-1)*pageSize+lsnOffset(id)); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(buf), nil
	}

	reader := wal.OpenReader(fs, header.pageSize)

	lastCommitLSN := header.recoveryLSN
	var maxLSN uint64
	var sawAnyRecord, lastWasCommit bool

	err = reader.RollForward(header.recoveryLSN+1, func(rec wal.Record) error {
		sawAnyRecord = true
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		switch rec.Type {
		case wal.PayloadDelta:
			lastWasCommit = false
			d, derr := wal.DecodeDelta(rec.Data)
			if derr != nil {
				return derr
			}
			cur, rerr := currentPageLSN(d.PageID)
			if rerr != nil {
				return rerr
			}
			if rec.LSN <= cur {
				return nil
			}
			buf, rerr := readPage(d.PageID)
			if rerr != nil {
				return rerr
			}
			for _, r := range d.Ranges {
				copy(buf[r.Offset:], r.Bytes)
			}
			off := lsnOffset(d.PageID)
			binary.BigEndian.PutUint64(buf[off:off+8], rec.LSN)
			return writePage(d.PageID, buf)
		case wal.PayloadFullImage:
			lastWasCommit = false
			img, derr := wal.DecodeFullImage(rec.Data)
			if derr != nil {
				return derr
			}
			cur, rerr := currentPageLSN(img.PageID)
			if rerr != nil {
				return rerr
			}
			if rec.LSN <= cur {
				return nil
			}
			return writePage(img.PageID, img.Image)
		case wal.PayloadCommit:
			lastWasCommit = true
			lastCommitLSN = rec.LSN
		}
		return nil
	})
	if err != nil {
		return header, 0, system("recovery: roll forward: %v", err)
	}

	if sawAnyRecord && !lastWasCommit {
		if err := reader.RollBackward(lastCommitLSN, func(rec wal.Record) error {
			if rec.Type != wal.PayloadFullImage {
				return nil
			}
			img, derr := wal.DecodeFullImage(rec.Data)
			if derr != nil {
				return derr
			}
			return writePage(img.PageID, img.Image)
		}); err != nil {
			return header, 0, system("recovery: roll backward: %v", err)
		}
	}

	if err := editor.Sync(); err != nil {
		return header, 0, system("recovery: sync data file: %v", err)
	}

	buf, rerr := readPage(1)
	if rerr != nil {
		return header, 0, system("recovery: reread header: %v", rerr)
	}
	newHeader, st := decodeFileHeader(buf[:fileHeaderSize])
	if !st.IsOk() {
		return header, 0, st
	}
	newHeader.recoveryLSN = lastCommitLSN
	encodeFileHeader(buf[:fileHeaderSize], newHeader)
	if err := writePage(1, buf); err != nil {
		return header, 0, system("recovery: write header: %v", err)
	}
	if err := editor.Sync(); err != nil {
		return header, 0, system("recovery: sync header: %v", err)
	}

	resumeLSN := maxLSN + 1
	if resumeLSN <= newHeader.recoveryLSN {
		resumeLSN = newHeader.recoveryLSN + 1
	}

	return newHeader, resumeLSN, Ok
}
