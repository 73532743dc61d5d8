package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/biblioctl/pipeline/internal/storage"
)

func runMergeLog(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("merge-log", flag.ExitOnError)
	limit := fs.Int("limit", 50, "Max entries to show, most recent first")
	_ = fs.Parse(args)

	ctx, cancel := rootContext()
	defer cancel()
	store, err := storage.Open(ctx, globals.DBPath)
	if err != nil {
		fatalf("open database: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx, globals.MigrationsDir); err != nil {
		fatalf("migrate database: %v", err)
	}

	entries, err := store.MergeLog(ctx, *limit)
	if err != nil {
		fatalf("merge log: %v", err)
	}

	for _, e := range entries {
		fmt.Fprintf(os.Stdout, "#%d %s %s:%d -> %s:%d action=%s field=%s %s\n",
			e.ID, e.CreatedAt.Format("2006-01-02T15:04:05"), e.DuplicateTable, e.DuplicateID,
			e.CanonicalTable, e.CanonicalID, e.Action, e.MatchField, e.Notes)
	}
}
