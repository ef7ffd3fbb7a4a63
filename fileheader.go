package calicodb

import (
	"encoding/binary"
	"hash/crc32"
)

// magic identifies a CalicoDB data file.
const magic = 0xCA11C0DB

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// fileHeaderSize is the width of the fixed header at the start of
// page 1.
const fileHeaderSize = 42

// fileHeader mirrors the on-disk layout at offset 0 of page 1.
type fileHeader struct {
	pageCount    uint64
	recordCount  uint64
	freelistHead uint64
	recoveryLSN  uint64
	pageSize     int
}

func encodePageSize(n int) uint16 {
	if n == 65536 {
		return 0
	}
	return uint16(n)
}

func decodePageSize(n uint16) int {
	if n == 0 {
		return 65536
	}
	return int(n)
}

func encodeFileHeader(buf []byte, h fileHeader) {
	binary.BigEndian.PutUint32(buf[0:4], magic)
	binary.BigEndian.PutUint64(buf[8:16], h.pageCount)
	binary.BigEndian.PutUint64(buf[16:24], h.recordCount)
	binary.BigEndian.PutUint64(buf[24:32], h.freelistHead)
	binary.BigEndian.PutUint64(buf[32:40], h.recoveryLSN)
	binary.BigEndian.PutUint16(buf[40:42], encodePageSize(h.pageSize))
	binary.BigEndian.PutUint32(buf[4:8], crc32.Checksum(buf[8:42], crcTable))
}

func decodeFileHeader(buf []byte) (fileHeader, Status) {
	if len(buf) < fileHeaderSize {
		return fileHeader{}, corruption("short file header: %d bytes", len(buf))
	}
	if binary.BigEndian.Uint32(buf[0:4]) != magic {
		return fileHeader{}, corruption("bad magic")
	}
	wantCRC := binary.BigEndian.Uint32(buf[4:8])
	gotCRC := crc32.Checksum(buf[8:42], crcTable)
	if wantCRC != gotCRC {
		return fileHeader{}, corruption("file header CRC mismatch")
	}
	pageSize := decodePageSize(binary.BigEndian.Uint16(buf[40:42]))
	if !isPowerOfTwoInRange(pageSize, 512, 65536) {
		return fileHeader{}, corruption("impossible page_size %d in header", pageSize)
	}
	return fileHeader{
		pageCount:    binary.BigEndian.Uint64(buf[8:16]),
		recordCount:  binary.BigEndian.Uint64(buf[16:24]),
		freelistHead: binary.BigEndian.Uint64(buf[24:32]),
		recoveryLSN:  binary.BigEndian.Uint64(buf[32:40]),
		pageSize:     pageSize,
	}, Ok
}
