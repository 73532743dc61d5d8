package main

import (
	"fmt"
	"os"

	"github.com/biblioctl/pipeline/internal/domain"
	"github.com/biblioctl/pipeline/internal/storage"
)

// runRetry implements retry-failed-enrichments and retry-failed-downloads:
// the bulk failed_* -> no_metadata transition, clearing status_notes.
func runRetry(args []string, globals GlobalFlags, from string) {
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

	n, err := store.RetryFailed(ctx, domain.Stage(from))
	if err != nil {
		fatalf("retry %s: %v", from, err)
	}

	if !globals.Quiet {
		fmt.Fprintf(os.Stdout, "moved %d rows from %s back to no_metadata\n", n, from)
	}
}
