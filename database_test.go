package calicodb

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/andy-byers/calicodb/storage"
)

func mustInsert(t *testing.T, db *Database, key, value string) {
	t.Helper()
	if st := db.Insert([]byte(key), []byte(value)); !st.IsOk() {
		t.Fatalf("insert %q: %v", key, st)
	}
}

func mustGet(t *testing.T, db *Database, key string) string {
	t.Helper()
	value, st := db.Get([]byte(key))
	if !st.IsOk() {
		t.Fatalf("get %q: %v", key, st)
	}
	return string(value)
}

// TestOpenEmptyClose is end-to-end scenario 1: an empty database has
// one page and zero records, both before and after a reopen.
func TestOpenEmptyClose(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{PageSize: 4096, Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}
	info := db.Info()
	if info.RecordCount != 0 || info.PageCount != 1 {
		t.Fatalf("expected empty database, got %+v", info)
	}
	if st := db.Close(); !st.IsOk() {
		t.Fatalf("close: %v", st)
	}

	db2, st := Open("/t", Options{PageSize: 4096, Storage: fs})
	if !st.IsOk() {
		t.Fatalf("reopen: %v", st)
	}
	defer db2.Close()
	info = db2.Info()
	if info.RecordCount != 0 || info.PageCount != 1 {
		t.Fatalf("expected empty database after reopen, got %+v", info)
	}
}

// TestSingleInsertSurvivesCrashBeforeFlush is scenario 2: a committed
// write is durable even if the process drops its handle without
// closing, since Commit already flushes the WAL past commit_lsn.
func TestSingleInsertSurvivesCrashBeforeFlush(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}

	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	mustInsert(t, db, "a", "1")
	if st := txn.Commit(); !st.IsOk() {
		t.Fatalf("commit: %v", st)
	}

	// Simulate a crash: the handle is simply abandoned, never closed.

	db2, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("reopen after crash: %v", st)
	}
	defer db2.Close()
	if got := mustGet(t, db2, "a"); got != "1" {
		t.Fatalf("get a: expected 1, got %q", got)
	}
}

// TestUncommittedInsertLostAcrossCrash is scenario 3: a committed write
// survives a crash, but a write left uncommitted at the time of the
// crash is rolled back by open-time recovery.
func TestUncommittedInsertLostAcrossCrash(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}

	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	mustInsert(t, db, "a", "1")
	if st := txn.Commit(); !st.IsOk() {
		t.Fatalf("commit: %v", st)
	}

	txn2, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin second txn: %v", st)
	}
	mustInsert(t, db, "b", "2")
	_ = txn2 // never committed: this is the simulated crash

	db2, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("reopen after crash: %v", st)
	}
	defer db2.Close()

	if got := mustGet(t, db2, "a"); got != "1" {
		t.Fatalf("get a: expected 1, got %q", got)
	}
	if _, st := db2.Get([]byte("b")); st.Kind != KindNotFound {
		t.Fatalf("get b: expected NotFound, got %v", st)
	}
}

// TestOverflowValueRoundTrip is scenario 4: a value too large to fit
// locally spills across overflow pages and reads back whole.
func TestOverflowValueRoundTrip(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{PageSize: 512, Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}
	defer db.Close()

	big := strings.Repeat("x", 1024)
	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	mustInsert(t, db, "k", big)
	if st := txn.Commit(); !st.IsOk() {
		t.Fatalf("commit: %v", st)
	}

	got := mustGet(t, db, "k")
	if got != big {
		t.Fatalf("value did not round-trip: got %d bytes, want %d", len(got), len(big))
	}
	if info := db.Info(); info.PageCount < 3 {
		t.Fatalf("expected at least 3 pages (root + 2 overflow), got %d", info.PageCount)
	}
}

// TestAbortRestoresState is scenario 5: aborting a transaction that
// erased half of a committed set of records leaves every one of them
// present and record_count unchanged.
func TestAbortRestoresState(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}
	defer db.Close()

	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	for i := 0; i < 100; i++ {
		mustInsert(t, db, fmt.Sprintf("k%03d", i), fmt.Sprintf("v%03d", i))
	}
	if st := txn.Commit(); !st.IsOk() {
		t.Fatalf("commit: %v", st)
	}

	txn2, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin second txn: %v", st)
	}
	for i := 0; i < 50; i++ {
		if st := db.Erase([]byte(fmt.Sprintf("k%03d", i))); !st.IsOk() {
			t.Fatalf("erase k%03d: %v", i, st)
		}
	}
	if st := txn2.Abort(); !st.IsOk() {
		t.Fatalf("abort: %v", st)
	}

	if info := db.Info(); info.RecordCount != 100 {
		t.Fatalf("expected record_count 100 after abort, got %d", info.RecordCount)
	}
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k%03d", i)
		if got := mustGet(t, db, key); got != fmt.Sprintf("v%03d", i) {
			t.Fatalf("get %s: expected v%03d, got %q", key, i, got)
		}
	}
}

// TestOrderedIteration is scenario 6: a cursor started with SeekFirst
// yields every key in strictly ascending order regardless of insertion
// order.
func TestOrderedIteration(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}
	defer db.Close()

	keys := make([]string, 1000)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%03d", i)
	}
	shuffled := append([]string(nil), keys...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	for _, k := range shuffled {
		mustInsert(t, db, k, "v")
	}
	if st := txn.Commit(); !st.IsOk() {
		t.Fatalf("commit: %v", st)
	}

	c := db.NewCursor()
	var got []string
	for c.SeekFirst(); c.Valid(); c.Next() {
		got = append(got, string(c.Key()))
	}
	if st := c.Status(); !st.IsOk() {
		t.Fatalf("cursor status: %v", st)
	}
	if len(got) != len(keys) {
		t.Fatalf("expected %d keys, got %d", len(keys), len(got))
	}
	for i := range keys {
		if got[i] != keys[i] {
			t.Fatalf("out of order at %d: expected %s, got %s", i, keys[i], got[i])
		}
	}
}

// TestEraseThenGetIsNotFoundAndRecordCountUnchanged is property R4.
func TestEraseThenGetIsNotFoundAndRecordCountUnchanged(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}
	defer db.Close()

	before := db.Info().RecordCount

	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	mustInsert(t, db, "k", "v")
	if st := db.Erase([]byte("k")); !st.IsOk() {
		t.Fatalf("erase: %v", st)
	}
	if st := txn.Commit(); !st.IsOk() {
		t.Fatalf("commit: %v", st)
	}

	if _, st := db.Get([]byte("k")); st.Kind != KindNotFound {
		t.Fatalf("get k: expected NotFound, got %v", st)
	}
	if after := db.Info().RecordCount; after != before {
		t.Fatalf("record_count changed: %d -> %d", before, after)
	}
}

// TestInsertOverwriteIsLastWriteWins covers duplicate-key handling in
// property R1: the last insert within a committed sequence wins.
func TestInsertOverwriteIsLastWriteWins(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}
	defer db.Close()

	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	mustInsert(t, db, "k", "first")
	mustInsert(t, db, "k", "second")
	if st := txn.Commit(); !st.IsOk() {
		t.Fatalf("commit: %v", st)
	}
	if got := mustGet(t, db, "k"); got != "second" {
		t.Fatalf("expected last-write-wins value %q, got %q", "second", got)
	}
	if count := db.Info().RecordCount; count != 1 {
		t.Fatalf("expected record_count 1 for one logical key, got %d", count)
	}
}

// TestEmptyKeyIsInvalidArgument and TestKeyTooLargeIsInvalidArgument
// cover the boundary behaviors section's key-validation rules.
func TestEmptyKeyIsInvalidArgument(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}
	defer db.Close()

	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	defer txn.Abort()

	if st := db.Insert(nil, []byte("v")); st.Kind != KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for empty key, got %v", st)
	}
}

func TestKeyTooLargeIsInvalidArgument(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{PageSize: 512, Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}
	defer db.Close()

	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	defer txn.Abort()

	hugeKey := strings.Repeat("k", 1<<20)
	if st := db.Insert([]byte(hugeKey), []byte("v")); st.Kind != KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for oversized key, got %v", st)
	}
}

// TestZeroLengthValueIsAccepted covers the boundary behavior requiring
// an empty value to be stored and read back as empty, not confused
// with absence.
func TestZeroLengthValueIsAccepted(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}
	defer db.Close()

	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	mustInsert(t, db, "k", "")
	if st := txn.Commit(); !st.IsOk() {
		t.Fatalf("commit: %v", st)
	}

	value, st := db.Get([]byte("k"))
	if !st.IsOk() {
		t.Fatalf("get: %v", st)
	}
	if len(value) != 0 {
		t.Fatalf("expected zero-length value, got %d bytes", len(value))
	}
}

// TestCloseWithActiveTransactionIsLogicError covers the Close
// precondition from the transaction-state invariants.
func TestCloseWithActiveTransactionIsLogicError(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}

	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	defer txn.Abort()

	if st := db.Close(); st.Kind != KindLogicError {
		t.Fatalf("expected LogicError closing with an active transaction, got %v", st)
	}
}

// TestDoubleBeginIsLogicError covers the single-writer transaction
// state machine: a second Begin while one is already active fails.
func TestDoubleBeginIsLogicError(t *testing.T) {
	fs := storage.NewMemory()
	db, st := Open("/t", Options{Storage: fs})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}
	defer db.Close()

	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	defer txn.Abort()

	if _, st := db.Begin(); st.Kind != KindLogicError {
		t.Fatalf("expected LogicError on nested Begin, got %v", st)
	}
}

// TestDestroyRemovesEverything exercises Destroy against a real POSIX
// directory, since the in-memory filesystem used elsewhere in this
// file has no directory of its own to remove.
func TestDestroyRemovesEverything(t *testing.T) {
	dir := t.TempDir() + "/db"
	db, st := Open(dir, Options{})
	if !st.IsOk() {
		t.Fatalf("open: %v", st)
	}
	txn, st := db.Begin()
	if !st.IsOk() {
		t.Fatalf("begin: %v", st)
	}
	mustInsert(t, db, "a", "1")
	if st := txn.Commit(); !st.IsOk() {
		t.Fatalf("commit: %v", st)
	}
	if st := db.Close(); !st.IsOk() {
		t.Fatalf("close: %v", st)
	}

	if st := Destroy(dir, Options{}); !st.IsOk() {
		t.Fatalf("destroy: %v", st)
	}

	db2, st := Open(dir, Options{})
	if !st.IsOk() {
		t.Fatalf("reopen after destroy: %v", st)
	}
	defer db2.Close()
	if info := db2.Info(); info.RecordCount != 0 {
		t.Fatalf("expected a fresh empty database after destroy, got record_count %d", info.RecordCount)
	}
	if _, st := db2.Get([]byte("a")); st.Kind != KindNotFound {
		t.Fatalf("expected destroyed key to be gone, got %v", st)
	}
}
