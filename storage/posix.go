package storage

import (
	"fmt"

	"github.com/spf13/afero"
)

// NewPosix opens a POSIX-backed Storage rooted at dir, creating the
// directory if necessary. The returned *FS holds an advisory exclusive
// lock on the directory for its lifetime (see lock_unix.go /
// lock_other.go), matching the "storage files are opened exclusively by
// the engine" requirement.
func NewPosix(dir string) (*FS, error) {
	osFS := afero.NewOsFs()
	if err := osFS.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	lock, err := lockDir(dir)
	if err != nil {
		return nil, fmt.Errorf("lock database directory: %w", err)
	}

	return &FS{fs: osFS, root: dir, lock: lock}, nil
}
