package wal

import (
	"sort"
	"strconv"
	"strings"
)

const (
	segmentPrefix    = "wal-"
	segmentNameWidth = 8
)

// SegmentID names one WAL segment file, in monotonically increasing
// order of creation.
type SegmentID uint64

// Name returns the zero-padded ascending file name for id, e.g.
// "wal-00000001" — matching the original CalicoDB project's
// id_to_name convention (src/wal/basic_wal.h).
func (id SegmentID) Name() string {
	digits := strconv.FormatUint(uint64(id), 10)
	if len(digits) < segmentNameWidth {
		digits = strings.Repeat("0", segmentNameWidth-len(digits)) + digits
	}
	return segmentPrefix + digits
}

// parseSegmentName recovers a SegmentID from a file name, or reports ok
// = false if name does not look like a WAL segment.
func parseSegmentName(name string) (id SegmentID, ok bool) {
	if !strings.HasPrefix(name, segmentPrefix) {
		return 0, false
	}
	digits := name[len(segmentPrefix):]
	if digits == "" {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return SegmentID(v), true
}

// listSegments returns every WAL segment present under dir, ascending.
func listSegments(children []string) []SegmentID {
	var ids []SegmentID
	for _, name := range children {
		if id, ok := parseSegmentName(name); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
