//go:build unix

package storage

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

type dirLock struct {
	f *os.File
}

func (l *dirLock) Close() error {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}

// lockDir takes a non-blocking exclusive advisory lock on dir so a
// second process cannot also open the same database. The lock is held
// via a dotfile inside dir rather than on dir itself, since flock on a
// directory fd behaves inconsistently across platforms.
func lockDir(dir string) (io.Closer, error) {
	lockPath := dir + "/.calicodb.lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, err
	}
	return &dirLock{f: f}, nil
}
