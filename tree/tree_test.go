package tree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/andy-byers/calicodb/pager"
	"github.com/andy-byers/calicodb/storage"
	"github.com/andy-byers/calicodb/wal"
)

const testPageSize = 512

func openTestTree(t *testing.T, pageCount uint64) *Tree {
	t.Helper()
	dataFS := storage.NewMemory()
	if err := dataFS.ResizeFile("data", int64(pageCount)*testPageSize); err != nil {
		t.Fatalf("preallocate data file: %v", err)
	}
	walFS := storage.NewMemory()
	w, err := wal.Open(walFS, wal.Options{BlockSize: testPageSize, SegmentLimit: 1 << 20, FirstLSN: 1})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	p, err := pager.Open(dataFS, "data", w, testPageSize, pager.MinFrameCount, pageCount, 0)
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	tr, err := Open(p, testPageSize)
	if err != nil {
		t.Fatalf("open tree: %v", err)
	}
	return tr
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	tr := openTestTree(t, 1)

	if err := tr.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := tr.Insert([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("insert b: %v", err)
	}

	got, err := tr.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if string(got) != "1" {
		t.Fatalf("expected 1, got %q", got)
	}

	if _, err := tr.Get([]byte("missing")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertOverwritesExistingKey(t *testing.T) {
	tr := openTestTree(t, 1)
	if err := tr.Insert([]byte("k"), []byte("first")); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if err := tr.Insert([]byte("k"), []byte("second")); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	got, err := tr.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("expected overwrite to take, got %q", got)
	}
}

func TestOverflowValueRoundTrip(t *testing.T) {
	tr := openTestTree(t, 1)
	value := bytes.Repeat([]byte("x"), 1024)
	if err := tr.Insert([]byte("k"), value); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := tr.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("overflow value did not round-trip: got %d bytes, want %d", len(got), len(value))
	}
}

func TestEraseRemovesKey(t *testing.T) {
	tr := openTestTree(t, 1)
	if err := tr.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tr.Erase([]byte("k")); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if _, err := tr.Get([]byte("k")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after erase, got %v", err)
	}
	if err := tr.Erase([]byte("k")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on double erase, got %v", err)
	}
}

func TestManyInsertsForceSplitsAndSurviveLookup(t *testing.T) {
	tr := openTestTree(t, 1)
	const n = 300
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		value := []byte(fmt.Sprintf("value-%05d", i))
		if err := tr.Insert(key, value); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		want := fmt.Sprintf("value-%05d", i)
		got, err := tr.Get(key)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if string(got) != want {
			t.Fatalf("key %d: expected %q, got %q", i, want, got)
		}
	}
}

func TestCursorScansInOrder(t *testing.T) {
	tr := openTestTree(t, 1)
	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k-%05d", i))
		if err := tr.Insert(key, []byte(fmt.Sprintf("v-%05d", i))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	c := NewCursor(tr)
	c.SeekFirst()
	count := 0
	var prev []byte
	for c.IsValid() {
		key := c.Key()
		if prev != nil && bytes.Compare(prev, key) >= 0 {
			t.Fatalf("cursor not in order: %q then %q", prev, key)
		}
		prev = append([]byte(nil), key...)
		count++
		c.Next()
	}
	if err := c.Status(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}
	if count != n {
		t.Fatalf("expected %d keys, scanned %d", n, count)
	}
}

func TestManyInsertsThenErasesShrinkCleanly(t *testing.T) {
	tr := openTestTree(t, 1)
	const n = 200
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("k-%05d", i))
		if err := tr.Insert(keys[i], []byte(fmt.Sprintf("v-%05d", i))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < n; i += 2 {
		if err := tr.Erase(keys[i]); err != nil {
			t.Fatalf("erase %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		got, err := tr.Get(keys[i])
		if i%2 == 0 {
			if err != ErrNotFound {
				t.Fatalf("key %d should be erased, got err=%v val=%q", i, err, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("key %d should survive: %v", i, err)
		}
	}
}
