package wal

import (
	"encoding/binary"
	"fmt"
)

// FullImage is a complete pre-mutation snapshot of a page, logged on the
// first write to that page within a transaction so abort and recovery
// can restore it verbatim.
type FullImage struct {
	PageID uint64
	Image  []byte
}

func encodeFullImage(p FullImage) []byte {
	buf := make([]byte, 1+8+len(p.Image))
	buf[0] = byte(PayloadFullImage)
	binary.BigEndian.PutUint64(buf[1:9], p.PageID)
	copy(buf[9:], p.Image)
	return buf
}

func decodeFullImage(buf []byte) (FullImage, error) {
	if len(buf) < 9 {
		return FullImage{}, fmt.Errorf("wal: short full_image payload")
	}
	return FullImage{
		PageID: binary.BigEndian.Uint64(buf[1:9]),
		Image:  append([]byte(nil), buf[9:]...),
	}, nil
}

// DeltaRange is one modified byte range within a page, captured as
// exactly the bytes written at [Offset, Offset+len(Bytes)).
type DeltaRange struct {
	Offset uint16
	Bytes  []byte
}

// Delta is the set of non-overlapping byte-range changes applied to a
// page during one write borrow.
type Delta struct {
	PageID uint64
	Ranges []DeltaRange
}

func encodeDelta(d Delta) []byte {
	size := 1 + 8 + 2
	for _, r := range d.Ranges {
		size += 2 + 2 + len(r.Bytes)
	}
	buf := make([]byte, size)
	buf[0] = byte(PayloadDelta)
	binary.BigEndian.PutUint64(buf[1:9], d.PageID)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(d.Ranges)))

	pos := 11
	for _, r := range d.Ranges {
		binary.BigEndian.PutUint16(buf[pos:pos+2], r.Offset)
		binary.BigEndian.PutUint16(buf[pos+2:pos+4], uint16(len(r.Bytes)))
		copy(buf[pos+4:], r.Bytes)
		pos += 4 + len(r.Bytes)
	}
	return buf
}

func decodeDelta(buf []byte) (Delta, error) {
	if len(buf) < 11 {
		return Delta{}, fmt.Errorf("wal: short delta payload")
	}
	d := Delta{PageID: binary.BigEndian.Uint64(buf[1:9])}
	count := binary.BigEndian.Uint16(buf[9:11])

	pos := 11
	for i := uint16(0); i < count; i++ {
		if pos+4 > len(buf) {
			return Delta{}, fmt.Errorf("wal: truncated delta entry %d", i)
		}
		offset := binary.BigEndian.Uint16(buf[pos : pos+2])
		size := binary.BigEndian.Uint16(buf[pos+2 : pos+4])
		pos += 4
		if pos+int(size) > len(buf) {
			return Delta{}, fmt.Errorf("wal: truncated delta bytes for entry %d", i)
		}
		d.Ranges = append(d.Ranges, DeltaRange{
			Offset: offset,
			Bytes:  append([]byte(nil), buf[pos:pos+int(size)]...),
		})
		pos += int(size)
	}
	return d, nil
}

func encodeCommit() []byte {
	return []byte{byte(PayloadCommit)}
}

// DecodeFullImage decodes a Record's Data (the payload with its
// leading type byte already stripped) as a FullImage.
func DecodeFullImage(data []byte) (FullImage, error) {
	return decodeFullImage(append([]byte{byte(PayloadFullImage)}, data...))
}

// DecodeDelta decodes a Record's Data (the payload with its leading
// type byte already stripped) as a Delta.
func DecodeDelta(data []byte) (Delta, error) {
	return decodeDelta(append([]byte{byte(PayloadDelta)}, data...))
}
