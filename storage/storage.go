// Package storage provides the filesystem abstraction CalicoDB is built
// on: typed file handles over a path space, with both a POSIX-backed and
// an in-memory implementation.
package storage

import "io"

// Reader supports positioned reads against an open file.
type Reader interface {
	io.Closer

	// Read fills buf starting at offset. It returns the number of bytes
	// read, which is less than len(buf) only at end of file.
	Read(buf []byte, offset int64) (int, error)
}

// Editor supports positioned reads and writes, plus durability control.
type Editor interface {
	io.Closer

	Read(buf []byte, offset int64) (int, error)

	// Write stores data starting at offset, extending the file if
	// necessary.
	Write(data []byte, offset int64) (int, error)

	// Sync flushes the file's content (and, where supported,
	// metadata) to stable storage.
	Sync() error
}

// Appender supports sequential append-only writes, used by the WAL.
type Appender interface {
	io.Closer

	Write(data []byte) (int, error)
	Sync() error
}

// Storage is the capability surface the engine needs from a filesystem.
// It is implemented by Posix (github.com/spf13/afero's OS-backed Fs) and
// Memory (afero's in-memory Fs), both returned as the one concrete
// *FS type. The engine holds its backend as a Storage interface value,
// so a Storage passed in through the options works the same way.
type Storage interface {
	CreateDir(path string) error
	RemoveDir(path string) error

	Exists(path string) (bool, error)
	FileSize(path string) (int64, error)
	RemoveFile(path string) error
	RenameFile(oldPath, newPath string) error
	ResizeFile(path string, size int64) error
	Children(dirPath string) ([]string, error)

	NewReader(path string) (Reader, error)
	NewEditor(path string) (Editor, error)
	NewAppender(path string) (Appender, error)
}
