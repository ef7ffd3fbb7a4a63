package pager

// dirtyEntry records the LSN a page carried at the moment it first
// transitioned from clean to dirty in the current commit epoch. It is
// never updated by later writes to the same page — that is what lets
// the pager compute recovery_lsn and lets the WAL cleaner tell which
// segments are obsolete.
type dirtyEntry struct {
	pageID    uint64
	recordLSN uint64
}

// dirtyList is an insertion-ordered sequence of dirtyEntry, with O(1)
// membership testing.
type dirtyList struct {
	order []dirtyEntry
	index map[uint64]int // pageID -> position in order
}

func newDirtyList() *dirtyList {
	return &dirtyList{index: make(map[uint64]int)}
}

func (d *dirtyList) has(pageID uint64) bool {
	_, ok := d.index[pageID]
	return ok
}

func (d *dirtyList) add(pageID, recordLSN uint64) {
	if d.has(pageID) {
		return
	}
	d.index[pageID] = len(d.order)
	d.order = append(d.order, dirtyEntry{pageID: pageID, recordLSN: recordLSN})
}

// remove drops pageID from the list once it has been written back.
func (d *dirtyList) remove(pageID uint64) {
	i, ok := d.index[pageID]
	if !ok {
		return
	}
	d.order = append(d.order[:i], d.order[i+1:]...)
	delete(d.index, pageID)
	for pid, pos := range d.index {
		if pos > i {
			d.index[pid] = pos - 1
		}
	}
}

func (d *dirtyList) len() int { return len(d.order) }

// minRecordLSN returns the smallest record_lsn among dirty pages.
func (d *dirtyList) minRecordLSN() (uint64, bool) {
	if len(d.order) == 0 {
		return 0, false
	}
	min := d.order[0].recordLSN
	for _, e := range d.order[1:] {
		if e.recordLSN < min {
			min = e.recordLSN
		}
	}
	return min, true
}
