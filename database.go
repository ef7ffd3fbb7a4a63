package calicodb

import (
	"path/filepath"
	"sync"

	"github.com/andy-byers/calicodb/pager"
	"github.com/andy-byers/calicodb/storage"
	"github.com/andy-byers/calicodb/tree"
	"github.com/andy-byers/calicodb/wal"
)

const (
	dataFileName = "data"
	logFileName  = "log"
)

// Database is one exclusively-locked instance of the store: a data
// file, a write-ahead log, and the B+tree grown over them. It holds
// exactly one writer transaction at a time, per the spec's concurrency
// model. Every method takes an internal mutex, so calls from several
// goroutines are serialized; a Begin while a transaction is active
// returns a logic error rather than waiting.
type Database struct {
	mu sync.Mutex

	opts Options
	fs   storage.Storage
	dir  string
	log  InfoLog

	wal   *wal.Wal
	pager *pager.Pager
	tree  *tree.Tree

	header fileHeader

	txnActive bool
	sticky    Status
	closed    bool
}

// Open creates or reopens the database rooted at dir, running crash
// recovery before the handle is returned.
func Open(dir string, opts Options) (*Database, Status) {
	if st := opts.normalize(); !st.IsOk() {
		return nil, st
	}

	fs := opts.Storage
	if fs == nil {
		posix, err := storage.NewPosix(dir)
		if err != nil {
			return nil, system("open database directory: %v", err)
		}
		fs = posix
	}

	header, st := loadOrCreateHeader(fs, opts)
	if !st.IsOk() {
		return nil, st
	}

	walFS := fs
	if opts.WalPrefix != "" {
		if err := fs.CreateDir(opts.WalPrefix); err != nil {
			return nil, system("create wal directory: %v", err)
		}
		walFS = &prefixedStorage{Storage: fs, prefix: opts.WalPrefix}
	}

	header, resumeLSN, st := recoverDatabase(fs, header)
	if !st.IsOk() {
		return nil, st
	}

	w, err := wal.Open(walFS, wal.Options{
		BlockSize:    opts.PageSize,
		SegmentLimit: opts.WalSegmentLimit,
		FirstLSN:     resumeLSN,
	})
	if err != nil {
		return nil, system("open wal: %v", err)
	}

	frameCount := opts.CacheSize / opts.PageSize
	if frameCount < pager.MinFrameCount {
		frameCount = pager.MinFrameCount
	}
	p, err := pager.Open(fs, dataFileName, w, opts.PageSize, frameCount, header.pageCount, header.freelistHead)
	if err != nil {
		w.Close()
		return nil, system("open pager: %v", err)
	}

	t, err := tree.Open(p, uint32(opts.PageSize))
	if err != nil {
		p.Close()
		w.Close()
		return nil, system("open tree: %v", err)
	}

	opts.InfoLog.Infof("opened database %q: page_size=%d page_count=%d record_count=%d",
		dir, opts.PageSize, header.pageCount, header.recordCount)

	return &Database{
		opts:   opts,
		fs:     fs,
		dir:    dir,
		log:    opts.InfoLog,
		wal:    w,
		pager:  p,
		tree:   t,
		header: header,
	}, Ok
}

// loadOrCreateHeader reads the on-disk file header, creating a fresh
// one-page data file if none exists yet.
func loadOrCreateHeader(fs storage.Storage, opts Options) (fileHeader, Status) {
	exists, err := fs.Exists(dataFileName)
	if err != nil {
		return fileHeader{}, system("stat data file: %v", err)
	}
	if !exists {
		h := fileHeader{pageCount: 1, pageSize: opts.PageSize}
		if err := fs.ResizeFile(dataFileName, int64(opts.PageSize)); err != nil {
			return fileHeader{}, system("size data file: %v", err)
		}
		editor, err := fs.NewEditor(dataFileName)
		if err != nil {
			return fileHeader{}, system("create data file: %v", err)
		}
		defer editor.Close()
		buf := make([]byte, fileHeaderSize)
		encodeFileHeader(buf, h)
		if _, err := editor.Write(buf, 0); err != nil {
			return fileHeader{}, system("write file header: %v", err)
		}
		if err := editor.Sync(); err != nil {
			return fileHeader{}, system("sync data file: %v", err)
		}
		return h, Ok
	}

	editor, err := fs.NewEditor(dataFileName)
	if err != nil {
		return fileHeader{}, system("open data file: %v", err)
	}
	defer editor.Close()
	buf := make([]byte, fileHeaderSize)
	if _, err := editor.Read(buf, 0); err != nil {
		return fileHeader{}, system("read file header: %v", err)
	}
	h, st := decodeFileHeader(buf)
	if !st.IsOk() {
		return fileHeader{}, st
	}
	if h.pageSize != opts.PageSize {
		return fileHeader{}, invalidArgument("page_size option %d does not match on-disk page_size %d", opts.PageSize, h.pageSize)
	}
	return h, Ok
}

// prefixedStorage roots every path Database's WAL touches under a
// subdirectory of the database's own Storage, honoring Options.WalPrefix
// when it names something other than the database directory itself.
type prefixedStorage struct {
	storage.Storage
	prefix string
}

func (p *prefixedStorage) join(name string) string { return filepath.Join(p.prefix, name) }

func (p *prefixedStorage) Exists(path string) (bool, error) { return p.Storage.Exists(p.join(path)) }
func (p *prefixedStorage) FileSize(path string) (int64, error) {
	return p.Storage.FileSize(p.join(path))
}
func (p *prefixedStorage) RemoveFile(path string) error { return p.Storage.RemoveFile(p.join(path)) }
func (p *prefixedStorage) RenameFile(oldPath, newPath string) error {
	return p.Storage.RenameFile(p.join(oldPath), p.join(newPath))
}
func (p *prefixedStorage) ResizeFile(path string, size int64) error {
	return p.Storage.ResizeFile(p.join(path), size)
}
func (p *prefixedStorage) Children(dirPath string) ([]string, error) {
	return p.Storage.Children(p.join(dirPath))
}
func (p *prefixedStorage) NewReader(path string) (storage.Reader, error) {
	return p.Storage.NewReader(p.join(path))
}
func (p *prefixedStorage) NewEditor(path string) (storage.Editor, error) {
	return p.Storage.NewEditor(p.join(path))
}
func (p *prefixedStorage) NewAppender(path string) (storage.Appender, error) {
	return p.Storage.NewAppender(p.join(path))
}

// checkWritable returns the sticky status if one is latched, or a
// logic-error if no transaction is active.
func (d *Database) checkWritable() Status {
	if !d.sticky.IsOk() {
		return d.sticky
	}
	if !d.txnActive {
		return logicError("no transaction is active")
	}
	return Ok
}

func (d *Database) fail(err error) Status {
	st := fromError(err)
	d.sticky = st
	return st
}

// Status returns the status latched on the database by a prior failed
// operation, or Ok.
func (d *Database) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sticky
}

// Begin starts the single writer transaction this database allows at a
// time. Callers are expected to `defer txn.Abort()` immediately after a
// successful Begin, since Go has no destructors to do it for them;
// Abort after a successful Commit is a harmless no-op.
func (d *Database) Begin() (*Transaction, Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.sticky.IsOk() {
		return nil, d.sticky
	}
	if d.txnActive {
		return nil, logicError("a transaction is already active")
	}

	d.txnActive = true
	d.pager.BeginTxn()
	return &Transaction{
		db:           d,
		commitLSN:    d.wal.CurrentLSN() - 1,
		walMark:      d.wal.Mark(),
		pageCount:    d.pager.PageCount(),
		freelistHead: d.pager.FreelistHead(),
		recordCount:  d.header.recordCount,
	}, Ok
}

// Insert adds or overwrites the value stored for key, within the active
// transaction.
func (d *Database) Insert(key, value []byte) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if st := d.checkWritable(); !st.IsOk() {
		return st
	}
	if len(key) == 0 {
		return invalidArgument("key must not be empty")
	}
	if len(key) > d.tree.MaxKeySize() {
		return invalidArgument("key of %d bytes exceeds the %d-byte max_local bound", len(key), d.tree.MaxKeySize())
	}

	_, getErr := d.tree.Get(key)
	isNew := getErr == tree.ErrNotFound
	if getErr != nil && getErr != tree.ErrNotFound {
		return d.fail(getErr)
	}

	if err := d.tree.Insert(key, value); err != nil {
		return d.fail(err)
	}
	if isNew {
		d.header.recordCount++
	}
	return Ok
}

// Get returns the value stored for key. It may be called with or
// without a transaction active, reading whatever the tree currently
// holds (the in-flight transaction's own uncommitted writes, if one is
// active).
func (d *Database) Get(key []byte) ([]byte, Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.sticky.IsOk() {
		return nil, d.sticky
	}
	if len(key) == 0 {
		return nil, invalidArgument("key must not be empty")
	}
	value, err := d.tree.Get(key)
	if err == tree.ErrNotFound {
		return nil, notFound("key not found")
	}
	if err != nil {
		return nil, d.fail(err)
	}
	return value, Ok
}

// Erase removes the value stored for key, within the active
// transaction.
func (d *Database) Erase(key []byte) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if st := d.checkWritable(); !st.IsOk() {
		return st
	}
	if len(key) == 0 {
		return invalidArgument("key must not be empty")
	}
	if err := d.tree.Erase(key); err != nil {
		if err == tree.ErrNotFound {
			return notFound("key not found")
		}
		return d.fail(err)
	}
	d.header.recordCount--
	return Ok
}

// NewCursor returns a cursor over the tree's current contents, ordered
// by key.
func (d *Database) NewCursor() *Cursor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &Cursor{inner: tree.NewCursor(d.tree)}
}

// Statistics reports point-in-time counters surfaced by Info.
type Statistics struct {
	PageCount    uint64
	RecordCount  uint64
	FreelistHead uint64
	RecoveryLSN  uint64
	CurrentLSN   uint64
	FlushedLSN   uint64
}

// Info reports the database's current statistics.
func (d *Database) Info() Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Statistics{
		PageCount:    d.pager.PageCount(),
		RecordCount:  d.header.recordCount,
		FreelistHead: d.pager.FreelistHead(),
		RecoveryLSN:  d.pager.RecoveryLSN(),
		CurrentLSN:   d.wal.CurrentLSN(),
		FlushedLSN:   d.wal.FlushedLSN(),
	}
}

// writeHeaderLocked persists the current in-memory header fields to
// page 1 as an ordinary delta through the pager, step 1 of the commit
// protocol. Callers must hold d.mu and have no transaction-less write
// borrows outstanding.
func (d *Database) writeHeaderLocked() error {
	page, err := d.pager.Acquire(1)
	if err != nil {
		return err
	}
	if err := d.pager.Upgrade(page); err != nil {
		d.pager.Release(page)
		return err
	}
	d.header.pageCount = d.pager.PageCount()
	d.header.freelistHead = d.pager.FreelistHead()
	d.header.recoveryLSN = d.pager.RecoveryLSN()
	buf := page.Span(0, fileHeaderSize)
	encodeFileHeader(buf, d.header)
	return d.pager.Release(page)
}

// Close flushes every outstanding write and releases the database's
// files. No transaction may be active.
func (d *Database) Close() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Ok
	}
	if d.txnActive {
		return logicError("close called with a transaction still active")
	}
	if err := d.writeHeaderLocked(); err != nil {
		return d.fail(err)
	}
	if err := d.wal.Flush(); err != nil {
		return d.fail(err)
	}
	if err := d.pager.Flush(nil); err != nil {
		return d.fail(err)
	}
	if err := d.wal.RemoveBefore(d.pager.RecoveryLSN()); err != nil {
		return d.fail(err)
	}
	if err := d.pager.Close(); err != nil {
		return d.fail(err)
	}
	if err := d.wal.Close(); err != nil {
		return d.fail(err)
	}
	if closer, ok := d.fs.(interface{ Close() error }); ok {
		closer.Close()
	}
	d.closed = true
	d.log.Infof("closed database %q", d.dir)
	return Ok
}

// Destroy removes the database directory and every file in it. It
// does not close a Database that is still open on dir.
func Destroy(dir string, opts Options) Status {
	if st := opts.normalize(); !st.IsOk() {
		return st
	}
	fs := opts.Storage
	if fs == nil {
		posix, err := storage.NewPosix(dir)
		if err != nil {
			return system("open database directory: %v", err)
		}
		fs = posix
	}
	if err := fs.RemoveDir("."); err != nil {
		return system("remove database directory: %v", err)
	}
	return Ok
}
