package storage

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// FS is the shared adapter behind both Posix and Memory: a thin layer
// over an afero.Fs rooted at a directory. The engine is constructed
// against one concrete *FS; it never juggles multiple Storage
// implementations at once.
type FS struct {
	fs   afero.Fs
	root string
	lock io.Closer // advisory exclusivity lock on root, nil for Memory
}

var _ Storage = (*FS)(nil)

func (f *FS) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.root, p)
}

func (f *FS) CreateDir(path string) error {
	return f.fs.MkdirAll(f.path(path), 0o755)
}

func (f *FS) RemoveDir(path string) error {
	return f.fs.RemoveAll(f.path(path))
}

func (f *FS) Exists(path string) (bool, error) {
	return afero.Exists(f.fs, f.path(path))
}

func (f *FS) FileSize(path string) (int64, error) {
	info, err := f.fs.Stat(f.path(path))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *FS) RemoveFile(path string) error {
	return f.fs.Remove(f.path(path))
}

func (f *FS) RenameFile(oldPath, newPath string) error {
	return f.fs.Rename(f.path(oldPath), f.path(newPath))
}

func (f *FS) ResizeFile(path string, size int64) error {
	file, err := f.fs.OpenFile(f.path(path), fileFlagsEditor, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	return file.Truncate(size)
}

func (f *FS) Children(dirPath string) ([]string, error) {
	entries, err := afero.ReadDir(f.fs, f.path(dirPath))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (f *FS) NewReader(path string) (Reader, error) {
	file, err := f.fs.OpenFile(f.path(path), fileFlagsReader, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileReader{file: file}, nil
}

func (f *FS) NewEditor(path string) (Editor, error) {
	file, err := f.fs.OpenFile(f.path(path), fileFlagsEditor, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileEditor{file: file}, nil
}

func (f *FS) NewAppender(path string) (Appender, error) {
	file, err := f.fs.OpenFile(f.path(path), fileFlagsAppender, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileAppender{file: file}, nil
}

// Close releases the exclusivity lock held on the storage root, if any.
func (f *FS) Close() error {
	if f.lock != nil {
		return f.lock.Close()
	}
	return nil
}

// fileReader adapts an afero.File to Reader.
type fileReader struct{ file afero.File }

func (h *fileReader) Read(buf []byte, offset int64) (int, error) {
	n, err := h.file.ReadAt(buf, offset)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (h *fileReader) Close() error { return h.file.Close() }

// fileEditor adapts an afero.File to Editor.
type fileEditor struct{ file afero.File }

func (h *fileEditor) Read(buf []byte, offset int64) (int, error) {
	n, err := h.file.ReadAt(buf, offset)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (h *fileEditor) Write(data []byte, offset int64) (int, error) {
	return h.file.WriteAt(data, offset)
}

func (h *fileEditor) Sync() error { return h.file.Sync() }

func (h *fileEditor) Close() error { return h.file.Close() }

// fileAppender adapts an afero.File to Appender.
type fileAppender struct{ file afero.File }

func (h *fileAppender) Write(data []byte) (int, error) {
	n, err := h.file.Write(data)
	if err != nil {
		return n, fmt.Errorf("append write: %w", err)
	}
	return n, nil
}

func (h *fileAppender) Sync() error { return h.file.Sync() }

func (h *fileAppender) Close() error { return h.file.Close() }
