// Command calicodb is a command-line front end for opening a database
// directory and driving it one operation at a time, in the spirit of
// the single-binary admin tools the rest of this corpus ships
// alongside its libraries.
package main

import (
	"fmt"
	"os"

	"github.com/andy-byers/calicodb"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "calicodb",
		Usage: "Inspect and modify a calicodb database directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "dir",
				Aliases:  []string{"d"},
				Usage:    "Database directory",
				Required: true,
				EnvVars:  []string{"CALICODB_DIR"},
			},
			&cli.IntFlag{
				Name:    "page-size",
				Usage:   "Page size to use when creating a new database",
				EnvVars: []string{"CALICODB_PAGE_SIZE"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the value stored for a key",
				ArgsUsage: "<key>",
				Action:    runGet,
			},
			{
				Name:      "put",
				Usage:     "Insert or overwrite the value stored for a key",
				ArgsUsage: "<key> <value>",
				Action:    runPut,
			},
			{
				Name:      "delete",
				Usage:     "Remove the value stored for a key",
				ArgsUsage: "<key>",
				Action:    runDelete,
			},
			{
				Name:      "scan",
				Usage:     "Print every key in order, optionally starting at a given key",
				ArgsUsage: "[start]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "values",
						Usage: "Also print each value",
					},
				},
				Action: runScan,
			},
			{
				Name:   "stats",
				Usage:  "Print database statistics",
				Action: runStats,
			},
			{
				Name:   "vacuum",
				Usage:  "Shrink the data file by truncating free pages off its tail and relocating overflow pages into earlier free slots",
				Action: runVacuum,
			},
			{
				Name:   "destroy",
				Usage:  "Remove the database directory and every file it owns",
				Action: runDestroy,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "calicodb:", err)
		os.Exit(1)
	}
}

func openFromContext(c *cli.Context) (*calicodb.Database, error) {
	opts := calicodb.Options{}
	if c.IsSet("page-size") {
		opts.PageSize = c.Int("page-size")
	}
	db, st := calicodb.Open(c.String("dir"), opts)
	if !st.IsOk() {
		return nil, st
	}
	return db, nil
}

func runGet(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("get requires exactly one key argument", 1)
	}
	db, err := openFromContext(c)
	if err != nil {
		return err
	}
	defer db.Close()

	value, st := db.Get([]byte(c.Args().Get(0)))
	if !st.IsOk() {
		return st
	}
	fmt.Println(string(value))
	return nil
}

func runPut(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return cli.Exit("put requires a key and a value argument", 1)
	}
	db, err := openFromContext(c)
	if err != nil {
		return err
	}
	defer db.Close()

	txn, st := db.Begin()
	if !st.IsOk() {
		return st
	}
	defer txn.Abort()

	if st := db.Insert([]byte(c.Args().Get(0)), []byte(c.Args().Get(1))); !st.IsOk() {
		return st
	}
	if st := txn.Commit(); !st.IsOk() {
		return st
	}
	return nil
}

func runDelete(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("delete requires exactly one key argument", 1)
	}
	db, err := openFromContext(c)
	if err != nil {
		return err
	}
	defer db.Close()

	txn, st := db.Begin()
	if !st.IsOk() {
		return st
	}
	defer txn.Abort()

	if st := db.Erase([]byte(c.Args().Get(0))); !st.IsOk() {
		return st
	}
	if st := txn.Commit(); !st.IsOk() {
		return st
	}
	return nil
}

func runScan(c *cli.Context) error {
	db, err := openFromContext(c)
	if err != nil {
		return err
	}
	defer db.Close()

	cur := db.NewCursor()
	if start := c.Args().Get(0); start != "" {
		cur.Seek([]byte(start))
	} else {
		cur.SeekFirst()
	}
	for ; cur.Valid(); cur.Next() {
		if c.Bool("values") {
			fmt.Printf("%s\t%s\n", cur.Key(), cur.Value())
		} else {
			fmt.Println(string(cur.Key()))
		}
	}
	if st := cur.Status(); !st.IsOk() {
		return st
	}
	return nil
}

func runStats(c *cli.Context) error {
	db, err := openFromContext(c)
	if err != nil {
		return err
	}
	defer db.Close()

	info := db.Info()
	fmt.Printf("page_count:    %d\n", info.PageCount)
	fmt.Printf("record_count:  %d\n", info.RecordCount)
	fmt.Printf("freelist_head: %d\n", info.FreelistHead)
	fmt.Printf("recovery_lsn:  %d\n", info.RecoveryLSN)
	fmt.Printf("current_lsn:   %d\n", info.CurrentLSN)
	fmt.Printf("flushed_lsn:   %d\n", info.FlushedLSN)
	return nil
}

func runVacuum(c *cli.Context) error {
	db, err := openFromContext(c)
	if err != nil {
		return err
	}
	defer db.Close()

	txn, st := db.Begin()
	if !st.IsOk() {
		return st
	}
	defer txn.Abort()

	if st := db.Vacuum(); !st.IsOk() {
		return st
	}
	if st := txn.Commit(); !st.IsOk() {
		return st
	}
	return nil
}

func runDestroy(c *cli.Context) error {
	st := calicodb.Destroy(c.String("dir"), calicodb.Options{})
	if !st.IsOk() {
		return st
	}
	return nil
}
