package calicodb

import "github.com/andy-byers/calicodb/common"

// Engine adapts a Database to common.StorageEngine, wrapping each call
// in its own begin/commit pair so callers written against the
// auto-commit interface (the benchmark harness in common/benchmark, in
// particular) can drive this package without knowing about explicit
// transactions. A Database used directly should prefer Begin/Insert/
// Commit, which lets several writes share one commit.
type Engine struct {
	db *Database
}

// NewEngine wraps db as a common.StorageEngine.
func NewEngine(db *Database) *Engine {
	return &Engine{db: db}
}

var _ common.StorageEngine = (*Engine)(nil)

func (e *Engine) Put(key, value []byte) error {
	txn, st := e.db.Begin()
	if !st.IsOk() {
		return st
	}
	defer txn.Abort()
	if st := e.db.Insert(key, value); !st.IsOk() {
		return st
	}
	if st := txn.Commit(); !st.IsOk() {
		return st
	}
	return nil
}

func (e *Engine) Get(key []byte) ([]byte, error) {
	value, st := e.db.Get(key)
	if st.Kind == KindNotFound {
		return nil, common.ErrKeyNotFound
	}
	if !st.IsOk() {
		return nil, st
	}
	return value, nil
}

func (e *Engine) Delete(key []byte) error {
	txn, st := e.db.Begin()
	if !st.IsOk() {
		return st
	}
	defer txn.Abort()
	if st := e.db.Erase(key); !st.IsOk() {
		if st.Kind == KindNotFound {
			return common.ErrKeyNotFound
		}
		return st
	}
	if st := txn.Commit(); !st.IsOk() {
		return st
	}
	return nil
}

func (e *Engine) Close() error {
	if st := e.db.Close(); !st.IsOk() {
		return st
	}
	return nil
}

// Sync is a no-op beyond what every committed write already guarantees:
// Commit only returns once the WAL has been flushed to durable storage,
// so there is nothing left for a separate Sync step to do.
func (e *Engine) Sync() error { return nil }

func (e *Engine) Stats() common.Stats {
	info := e.db.Info()
	return common.Stats{
		NumKeys:       int64(info.RecordCount),
		NumSegments:   int(info.PageCount),
		TotalDiskSize: int64(info.PageCount) * int64(e.db.header.pageSize),
	}
}

// Compact runs a full vacuum pass within its own transaction.
func (e *Engine) Compact() error {
	txn, st := e.db.Begin()
	if !st.IsOk() {
		return st
	}
	defer txn.Abort()
	if st := e.db.Vacuum(); !st.IsOk() {
		return st
	}
	if st := txn.Commit(); !st.IsOk() {
		return st
	}
	return nil
}

// engineIterator adapts Cursor to common.Iterator, which pulls errors
// through Error() rather than a side Status() call and starts
// positioned before the first element.
type engineIterator struct {
	c       *Cursor
	started bool
}

func (e *Engine) Scan(start []byte) common.Iterator {
	c := e.db.NewCursor()
	if len(start) == 0 {
		c.SeekFirst()
	} else {
		c.Seek(start)
	}
	return &engineIterator{c: c, started: true}
}

func (it *engineIterator) Next() bool {
	if !it.started {
		it.c.Next()
	}
	it.started = false
	return it.c.Valid()
}

func (it *engineIterator) Key() []byte   { return it.c.Key() }
func (it *engineIterator) Value() []byte { return it.c.Value() }

func (it *engineIterator) Error() error {
	st := it.c.Status()
	if st.IsOk() {
		return nil
	}
	return st
}

func (it *engineIterator) Close() error { return nil }
