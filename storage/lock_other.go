//go:build !unix

package storage

import "io"

type noopLock struct{}

func (noopLock) Close() error { return nil }

// lockDir is a no-op on non-POSIX platforms; exclusivity is advisory
// everywhere, and this is simply the least capable platform's fallback.
func lockDir(dir string) (io.Closer, error) {
	return noopLock{}, nil
}
