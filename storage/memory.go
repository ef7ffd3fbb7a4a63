package storage

import "github.com/spf13/afero"

// NewMemory opens an in-memory Storage, used by the tests. There is
// nothing to lock: the backing store is a
// process-local map that dies with the *FS.
func NewMemory() *FS {
	return &FS{fs: afero.NewMemMapFs(), root: "/"}
}
