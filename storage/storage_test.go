package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryReadWrite(t *testing.T) {
	fs := NewMemory()

	editor, err := fs.NewEditor("data")
	require.NoError(t, err)
	defer editor.Close()

	_, err = editor.Write([]byte("hello"), 0)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := editor.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestMemoryFileSizeAndResize(t *testing.T) {
	fs := NewMemory()

	editor, err := fs.NewEditor("data")
	require.NoError(t, err)
	_, err = editor.Write([]byte("0123456789"), 0)
	require.NoError(t, err)
	require.NoError(t, editor.Close())

	size, err := fs.FileSize("data")
	require.NoError(t, err)
	require.EqualValues(t, 10, size)

	require.NoError(t, fs.ResizeFile("data", 4))
	size, err = fs.FileSize("data")
	require.NoError(t, err)
	require.EqualValues(t, 4, size)
}

func TestMemoryChildrenAndRemove(t *testing.T) {
	fs := NewMemory()
	require.NoError(t, fs.CreateDir("sub"))

	for _, name := range []string{"sub/a", "sub/b"} {
		ed, err := fs.NewEditor(name)
		require.NoError(t, err)
		require.NoError(t, ed.Close())
	}

	children, err := fs.Children("sub")
	require.NoError(t, err)
	require.Len(t, children, 2)

	require.NoError(t, fs.RemoveFile("sub/a"))
	children, err = fs.Children("sub")
	require.NoError(t, err)
	require.Len(t, children, 1)
}

func TestPosixRoundTrip(t *testing.T) {
	dir := t.TempDir()

	fs, err := NewPosix(dir)
	require.NoError(t, err)
	defer fs.Close()

	appender, err := fs.NewAppender("wal-00000001")
	require.NoError(t, err)
	_, err = appender.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, appender.Sync())
	require.NoError(t, appender.Close())

	exists, err := fs.Exists("wal-00000001")
	require.NoError(t, err)
	require.True(t, exists)

	reader, err := fs.NewReader("wal-00000001")
	require.NoError(t, err)
	defer reader.Close()

	buf := make([]byte, 3)
	n, err := reader.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "abc", string(buf))

	require.NoError(t, fs.RenameFile("wal-00000001", "wal-00000002"))
	_, err = os.Stat(dir + "/wal-00000001")
	require.True(t, os.IsNotExist(err))
}

func TestPosixExclusiveLock(t *testing.T) {
	dir := t.TempDir()

	first, err := NewPosix(dir)
	require.NoError(t, err)
	defer first.Close()

	_, err = NewPosix(dir)
	require.Error(t, err, "a second Posix storage over the same directory must fail to lock")
}
