package wal

import (
	"fmt"

	"github.com/andy-byers/calicodb/storage"
)

// Reader replays WAL segments for recovery and abort. It holds no open
// file handles between calls; each roll opens and reads whole segments
// on demand, which is simple and appropriate for an embedded, single-
// writer log that is typically a few dozen segments at most.
type Reader struct {
	fs        storage.Storage
	blockSize int
}

func newReader(fs storage.Storage, blockSize int) *Reader {
	return &Reader{fs: fs, blockSize: blockSize}
}

func (r *Reader) segments() ([]SegmentID, error) {
	children, err := r.fs.Children(".")
	if err != nil {
		return nil, fmt.Errorf("wal: list segments: %w", err)
	}
	return listSegments(children), nil
}

// readSegment parses every complete logical record out of segment id.
// When isLast is true, a CRC failure or a truncated fragment at the
// point reached is treated as end-of-log; otherwise it is corruption.
func (r *Reader) readSegment(id SegmentID, isLast bool) ([]Record, error) {
	reader, err := r.fs.NewReader(id.Name())
	if err != nil {
		return nil, fmt.Errorf("wal: open segment %s: %w", id.Name(), err)
	}
	defer reader.Close()

	size, err := r.fs.FileSize(id.Name())
	if err != nil {
		return nil, fmt.Errorf("wal: stat segment %s: %w", id.Name(), err)
	}

	data := make([]byte, size)
	if _, err := reader.Read(data, 0); err != nil {
		return nil, fmt.Errorf("wal: read segment %s: %w", id.Name(), err)
	}

	var records []Record
	var pending []byte
	var pendingLSN uint64
	var pendingType PayloadType
	pos := 0

	for pos+fragHeaderSize <= len(data) {
		end := pos + r.blockSize
		if end > len(data) {
			end = len(data)
		}
		block := data[pos:end]
		blockPos := 0

		for blockPos+fragHeaderSize <= len(block) {
			header := parseFragHeader(block[blockPos : blockPos+fragHeaderSize])
			if header.lsn == 0 && header.size == 0 && header.typ == 0 {
				// Zero padding: rest of block is unused.
				break
			}

			chunkStart := blockPos + fragHeaderSize
			chunkEnd := chunkStart + int(header.size)
			if chunkEnd > len(block) || !header.verify(block[chunkStart:chunkEnd]) {
				if isLast {
					return records, nil
				}
				return nil, fmt.Errorf("%w: segment %s", ErrCorruption, id.Name())
			}
			chunk := block[chunkStart:chunkEnd]

			switch header.typ {
			case fragFull:
				rec, ok := finishRecord(header.lsn, chunk)
				if ok {
					records = append(records, rec)
				}
			case fragFirst:
				pending = append([]byte(nil), chunk...)
				pendingLSN = header.lsn
				pendingType = PayloadType(chunk[0])
			case fragMiddle:
				if header.lsn == pendingLSN {
					pending = append(pending, chunk...)
				}
			case fragLast:
				if header.lsn == pendingLSN {
					pending = append(pending, chunk...)
					records = append(records, Record{LSN: pendingLSN, Type: pendingType, Data: pending[1:]})
					pending = nil
				}
			}

			blockPos = chunkEnd
		}

		pos += r.blockSize
	}

	return records, nil
}

func finishRecord(lsn uint64, chunk []byte) (Record, bool) {
	if len(chunk) == 0 {
		return Record{}, false
	}
	return Record{LSN: lsn, Type: PayloadType(chunk[0]), Data: chunk[1:]}, true
}

// RollForward iterates records with LSN >= from, invoking cb for each
// until end of log or cb returns an error.
func (r *Reader) RollForward(from uint64, cb func(Record) error) error {
	ids, err := r.segments()
	if err != nil {
		return err
	}
	for i, id := range ids {
		isLast := i == len(ids)-1
		recs, err := r.readSegment(id, isLast)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.LSN < from {
				continue
			}
			if err := cb(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RollBackward iterates segments in descending id order and, within
// each, records in descending order, until a record with LSN <= to has
// been processed (that record is included).
func (r *Reader) RollBackward(to uint64, cb func(Record) error) error {
	ids, err := r.segments()
	if err != nil {
		return err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		isLast := i == len(ids)-1
		recs, err := r.readSegment(ids[i], isLast)
		if err != nil {
			return err
		}
		for j := len(recs) - 1; j >= 0; j-- {
			rec := recs[j]
			if err := cb(rec); err != nil {
				return err
			}
			if rec.LSN <= to {
				return nil
			}
		}
	}
	return nil
}
