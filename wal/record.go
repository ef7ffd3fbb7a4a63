// Package wal implements CalicoDB's write-ahead log: durable, ordered,
// append-only storage for full-image, delta, and commit records, with
// forward and backward iteration for recovery and abort.
package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// ErrCorruption is returned when a WAL record's checksum fails to
// verify anywhere but the tail of the last segment (where a partial
// write is expected after a crash and is treated as end-of-log instead).
var ErrCorruption = errors.New("wal: corrupt record")

// castagnoli is the CRC32C polynomial table used for every checksum in
// the header and record framing, matching the file header's CRC32C.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// fragType is the physical block-framing state of one piece of a
// logical record. A logical record that fits in the remaining block
// space is written as a single fragFull fragment; otherwise it is split
// across blocks as fragFirst, zero or more fragMiddle, then fragLast.
type fragType uint8

const (
	fragFull fragType = iota + 1
	fragFirst
	fragMiddle
	fragLast
)

// PayloadType identifies the logical kind of a reassembled WAL record,
// per spec section 3.7.
type PayloadType uint8

const (
	PayloadFullImage PayloadType = iota + 1
	PayloadDelta
	PayloadCommit
)

// fragHeaderSize is lsn(8) + size(2) + fragType(1) + crc32c(4).
const fragHeaderSize = 8 + 2 + 1 + 4

// putFragHeader encodes a fragment header into buf[:fragHeaderSize].
// The checksum covers ft followed by chunk.
func putFragHeader(buf []byte, lsn uint64, ft fragType, chunk []byte) {
	binary.BigEndian.PutUint64(buf[0:8], lsn)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(chunk)))
	buf[10] = byte(ft)

	h := crc32.New(castagnoli)
	h.Write(buf[10:11])
	h.Write(chunk)
	binary.BigEndian.PutUint32(buf[11:15], h.Sum32())
}

type fragHeader struct {
	lsn  uint64
	size uint16
	typ  fragType
	crc  uint32
}

func parseFragHeader(buf []byte) fragHeader {
	return fragHeader{
		lsn:  binary.BigEndian.Uint64(buf[0:8]),
		size: binary.BigEndian.Uint16(buf[8:10]),
		typ:  fragType(buf[10]),
		crc:  binary.BigEndian.Uint32(buf[11:15]),
	}
}

func (h fragHeader) verify(chunk []byte) bool {
	sum := crc32.New(castagnoli)
	sum.Write([]byte{byte(h.typ)})
	sum.Write(chunk)
	return sum.Sum32() == h.crc
}

// Record is a fully reassembled logical WAL record handed to recovery
// and abort callbacks.
type Record struct {
	LSN  uint64
	Type PayloadType
	Data []byte // payload, not including the 1-byte type prefix
}
