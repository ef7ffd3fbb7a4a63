package tree

import (
	"encoding/binary"
	"errors"
)

// ErrKeyTooLarge is returned when a key by itself exceeds what a node
// can ever hold locally, regardless of overflow.
var ErrKeyTooLarge = errors.New("tree: key exceeds max_local bound")

const (
	maxCellHeader  = 4 + 2 + 8 // external cell header upper bound: value_size + key_size + overflow_head_id
	cellPointerSize = 2
)

// localBudget computes max_local and min_local for a given page size,
// per the node's 64/256 and 32/256 fill-factor bounds.
func localBudget(pageSize int) (maxLocal, minLocal int) {
	usable := pageSize - HeaderSize
	maxLocal = usable*64/256 - maxCellHeader - cellPointerSize
	minLocal = usable*32/256 - maxCellHeader - cellPointerSize
	return
}

// externalCell is the decoded form of a leaf cell: a key, the portion
// of the value stored locally, and (if the value spilled) the head of
// its overflow chain.
type externalCell struct {
	key         []byte
	localValue  []byte
	valueSize   uint32 // total logical value size, local+overflow
	overflowID  uint64 // 0 if the value fit entirely locally
}

func (c externalCell) hasOverflow() bool { return c.overflowID != 0 }

func (c externalCell) encodedSize() int {
	n := 4 + 2 + len(c.key) + len(c.localValue)
	if c.hasOverflow() {
		n += 8
	}
	return n
}

func encodeExternalCell(buf []byte, c externalCell) {
	binary.BigEndian.PutUint32(buf[0:4], c.valueSize)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(c.key)))
	pos := 6
	copy(buf[pos:], c.key)
	pos += len(c.key)
	copy(buf[pos:], c.localValue)
	pos += len(c.localValue)
	if c.hasOverflow() {
		binary.BigEndian.PutUint64(buf[pos:pos+8], c.overflowID)
	}
}

// decodeExternalCell reads a leaf cell starting at buf[0]. buf may
// extend past the cell's end; only the prefix is consumed.
func decodeExternalCell(buf []byte, maxLocal int) externalCell {
	valueSize := binary.BigEndian.Uint32(buf[0:4])
	keySize := binary.BigEndian.Uint16(buf[4:6])
	pos := 6
	key := buf[pos : pos+int(keySize)]
	pos += int(keySize)

	localTotal := int(keySize) + int(valueSize)
	var localValueLen int
	var overflowID uint64
	if localTotal > maxLocal {
		localValueLen = maxLocal - int(keySize)
		if localValueLen < 0 {
			localValueLen = 0
		}
		localValue := buf[pos : pos+localValueLen]
		pos += localValueLen
		overflowID = binary.BigEndian.Uint64(buf[pos : pos+8])
		return externalCell{key: key, localValue: localValue, valueSize: valueSize, overflowID: overflowID}
	}
	localValue := buf[pos : pos+int(valueSize)]
	return externalCell{key: key, localValue: localValue, valueSize: valueSize}
}

// cellOverflowOffset locates the overflow_head_id field within an
// encoded external cell, for callers (vacuum) that need to patch it in
// place without fully decoding and re-encoding the cell.
func cellOverflowOffset(buf []byte, maxLocal int) (offset int, ok bool) {
	valueSize := binary.BigEndian.Uint32(buf[0:4])
	keySize := binary.BigEndian.Uint16(buf[4:6])
	pos := 6 + int(keySize)
	localTotal := int(keySize) + int(valueSize)
	if localTotal <= maxLocal {
		return 0, false
	}
	localValueLen := maxLocal - int(keySize)
	if localValueLen < 0 {
		localValueLen = 0
	}
	return pos + localValueLen, true
}

// internalCell is a separator key paired with the page id of its left
// child.
type internalCell struct {
	leftChildID uint64
	key         []byte
}

func (c internalCell) encodedSize() int {
	return 8 + 2 + len(c.key)
}

func encodeInternalCell(buf []byte, c internalCell) {
	binary.BigEndian.PutUint64(buf[0:8], c.leftChildID)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(c.key)))
	copy(buf[10:], c.key)
}

func decodeInternalCell(buf []byte) internalCell {
	leftChildID := binary.BigEndian.Uint64(buf[0:8])
	keySize := binary.BigEndian.Uint16(buf[8:10])
	key := buf[10 : 10+int(keySize)]
	return internalCell{leftChildID: leftChildID, key: key}
}

// splitLocalValue decides, for a candidate value of totalSize bytes
// paired with a key of keySize bytes, how many value bytes stay local
// and whether the remainder must spill to an overflow chain.
func splitLocalValue(keySize, totalSize, maxLocal int) (localLen int, overflows bool) {
	if keySize+totalSize <= maxLocal {
		return totalSize, false
	}
	localLen = maxLocal - keySize
	if localLen < 0 {
		localLen = 0
	}
	return localLen, true
}
