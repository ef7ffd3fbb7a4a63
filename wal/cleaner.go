package wal

import (
	"fmt"

	"github.com/andy-byers/calicodb/storage"
)

// cleaner removes WAL segments that are no longer needed for recovery,
// i.e. whose highest LSN is below the pager's durable recovery_lsn.
type cleaner struct {
	fs     storage.Storage
	reader *Reader
}

func newCleaner(fs storage.Storage, reader *Reader) *cleaner {
	return &cleaner{fs: fs, reader: reader}
}

// removeBefore unlinks every segment whose highest LSN is < lsn. The
// current (highest-numbered) segment is never removed, since the
// writer still owns it.
func (c *cleaner) removeBefore(lsn uint64) error {
	ids, err := c.reader.segments()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	current := ids[len(ids)-1]

	for _, id := range ids {
		if id == current {
			continue
		}
		recs, err := c.reader.readSegment(id, false)
		if err != nil {
			return fmt.Errorf("wal: cleanup scan of segment %s: %w", id.Name(), err)
		}
		var highest uint64
		for _, r := range recs {
			if r.LSN > highest {
				highest = r.LSN
			}
		}
		if highest >= lsn {
			continue
		}
		if err := c.fs.RemoveFile(id.Name()); err != nil {
			return fmt.Errorf("wal: remove segment %s: %w", id.Name(), err)
		}
	}
	return nil
}
