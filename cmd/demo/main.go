// Command demo walks through calicodb's public surface end to end:
// opening a database, writing inside a transaction, reading back,
// iterating in key order, storing an overflow value, aborting, and
// recovering from a crash.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/andy-byers/calicodb"
	"github.com/andy-byers/calicodb/storage"
)

func main() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("calicodb Demo: transactions, cursors, and crash recovery")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	dir, err := os.MkdirTemp("", "calicodb-demo-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	demoBasics(dir)
	fmt.Println()
	demoOverflow(dir)
	fmt.Println()
	demoCrashRecovery(dir)
}

func demoBasics(dir string) {
	fmt.Println("### Open, write, read, scan ###")
	fmt.Println(strings.Repeat("-", 40))

	db, st := calicodb.Open(dir+"/basics", calicodb.Options{})
	if !st.IsOk() {
		log.Fatal(st)
	}
	defer db.Close()

	fmt.Println("✓ Opened database")

	testData := map[string]string{
		"user:1001":   `{"name": "Alice", "age": 30, "city": "NYC"}`,
		"user:1002":   `{"name": "Bob", "age": 25, "city": "SF"}`,
		"product:101": `{"name": "Laptop", "price": 999.99}`,
	}

	txn, st := db.Begin()
	if !st.IsOk() {
		log.Fatal(st)
	}
	fmt.Println("\n[Writing data within one transaction]")
	for key, value := range testData {
		if st := db.Insert([]byte(key), []byte(value)); !st.IsOk() {
			log.Fatal(st)
		}
		fmt.Printf("  INSERT %s\n", key)
	}
	if st := txn.Commit(); !st.IsOk() {
		log.Fatal(st)
	}
	fmt.Println("✓ Committed")

	fmt.Println("\n[Reading data]")
	for key := range testData {
		value, st := db.Get([]byte(key))
		if !st.IsOk() {
			log.Printf("error reading %s: %v", key, st)
			continue
		}
		fmt.Printf("  GET %s -> %s\n", key, truncate(string(value), 40))
	}

	fmt.Println("\n[Ordered scan]")
	c := db.NewCursor()
	for c.SeekFirst(); c.Valid(); c.Next() {
		fmt.Printf("  %s\n", c.Key())
	}

	info := db.Info()
	fmt.Println("\n[Statistics]")
	fmt.Printf("  Records: %d\n", info.RecordCount)
	fmt.Printf("  Pages: %d\n", info.PageCount)
}

func demoOverflow(dir string) {
	fmt.Println("### Overflow values and abort ###")
	fmt.Println(strings.Repeat("-", 40))

	db, st := calicodb.Open(dir+"/overflow", calicodb.Options{PageSize: 512})
	if !st.IsOk() {
		log.Fatal(st)
	}
	defer db.Close()

	big := strings.Repeat("x", 4000)
	txn, st := db.Begin()
	if !st.IsOk() {
		log.Fatal(st)
	}
	if st := db.Insert([]byte("blob"), []byte(big)); !st.IsOk() {
		log.Fatal(st)
	}
	if st := txn.Commit(); !st.IsOk() {
		log.Fatal(st)
	}
	fmt.Printf("✓ Inserted a %d-byte value spanning overflow pages\n", len(big))

	value, st := db.Get([]byte("blob"))
	if !st.IsOk() {
		log.Fatal(st)
	}
	fmt.Printf("✓ Read it back whole (%d bytes, round-trips correctly: %v)\n", len(value), string(value) == big)

	fmt.Println("\n[Abort discards an in-flight write]")
	txn2, st := db.Begin()
	if !st.IsOk() {
		log.Fatal(st)
	}
	if st := db.Insert([]byte("never-committed"), []byte("x")); !st.IsOk() {
		log.Fatal(st)
	}
	if st := txn2.Abort(); !st.IsOk() {
		log.Fatal(st)
	}
	_, st = db.Get([]byte("never-committed"))
	fmt.Printf("  GET never-committed -> %s (aborted write is gone)\n", st)
}

func demoCrashRecovery(dir string) {
	fmt.Println("### Crash recovery ###")
	fmt.Println(strings.Repeat("-", 40))

	path := dir + "/recovery"
	// Both Open calls share one Storage: the first handle is never
	// closed, so it keeps holding the directory lock that a second
	// storage.NewPosix over the same path would need.
	fs, err := storage.NewPosix(path)
	if err != nil {
		log.Fatal(err)
	}
	db, st := calicodb.Open(path, calicodb.Options{Storage: fs})
	if !st.IsOk() {
		log.Fatal(st)
	}

	txn, st := db.Begin()
	if !st.IsOk() {
		log.Fatal(st)
	}
	if st := db.Insert([]byte("durable"), []byte("survives a crash")); !st.IsOk() {
		log.Fatal(st)
	}
	if st := txn.Commit(); !st.IsOk() {
		log.Fatal(st)
	}

	// Simulate a crash: drop the handle without calling Close, which
	// would otherwise flush cleanly. The data file and WAL segments on
	// disk are all a real crash would leave behind either way.
	fmt.Println("✓ Committed one write, then simulating a crash (no Close)")

	db2, st := calicodb.Open(path, calicodb.Options{Storage: fs})
	if !st.IsOk() {
		log.Fatal(st)
	}
	defer db2.Close()

	value, st := db2.Get([]byte("durable"))
	if !st.IsOk() {
		log.Fatal(st)
	}
	fmt.Printf("✓ Reopened and recovered: durable -> %s\n", value)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
