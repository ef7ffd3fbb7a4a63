package pager

import "encoding/binary"

// Freelist entries occupy a whole page; their only content is the next
// pointer at offset 0 (or 0 for the list's tail). Pushing and popping
// go through the ordinary acquire/upgrade/release path so every
// freelist update is WAL-logged like any other page write.

func readFreelistNext(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf[0:8])
}

func writeFreelistNext(buf []byte, next uint64) {
	binary.BigEndian.PutUint64(buf[0:8], next)
}
