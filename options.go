package calicodb

import "github.com/andy-byers/calicodb/storage"

const defaultPageSize = 16384

// Options configures Open. The zero value is usable: Open fills in the
// default for a zero PageSize, CacheSize, WalSegmentLimit or InfoLog.
// DefaultOptions returns those defaults spelled out, for overriding.
type Options struct {
	// PageSize is fixed at database creation and immutable thereafter.
	// Must be a power of two in [512, 65536]. Default 16384.
	PageSize int
	// CacheSize is the pager's frame-pool budget in bytes. Minimum
	// 16 * PageSize; defaults to that minimum.
	CacheSize int
	// WalSegmentLimit bounds the size of a single WAL segment file in
	// bytes. Defaults to 32 * PageSize.
	WalSegmentLimit int64
	// WalPrefix is the directory WAL segments are written under.
	// Defaults to the database directory.
	WalPrefix string
	// Storage, if set, is used instead of a POSIX-backed filesystem.
	Storage storage.Storage
	// InfoLog receives diagnostic output; defaults to a no-op sink.
	InfoLog InfoLog
}

// DefaultOptions returns an Options with every field at its documented
// default.
func DefaultOptions() Options {
	return Options{
		PageSize:        defaultPageSize,
		CacheSize:       16 * defaultPageSize,
		WalSegmentLimit: 32 * defaultPageSize,
	}
}

func isPowerOfTwoInRange(n, lo, hi int) bool {
	if n < lo || n > hi {
		return false
	}
	return n&(n-1) == 0
}

// normalize fills in defaults for zero-valued fields and validates the
// rest, returning an InvalidArgument status on the first violation.
func (o *Options) normalize() Status {
	if o.PageSize == 0 {
		o.PageSize = defaultPageSize
	}
	if !isPowerOfTwoInRange(o.PageSize, 512, 65536) {
		return invalidArgument("page_size %d must be a power of two in [512, 65536]", o.PageSize)
	}
	minCache := 16 * o.PageSize
	if o.CacheSize == 0 {
		o.CacheSize = minCache
	}
	if o.CacheSize < minCache {
		return invalidArgument("cache_size %d below minimum %d", o.CacheSize, minCache)
	}
	if o.WalSegmentLimit == 0 {
		o.WalSegmentLimit = int64(32 * o.PageSize)
	}
	if o.InfoLog == nil {
		o.InfoLog = noopLog{}
	}
	return Ok
}
