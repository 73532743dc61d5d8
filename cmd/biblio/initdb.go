package main

import (
	"fmt"
	"os"

	"github.com/biblioctl/pipeline/internal/storage"
)

func runInitDB(args []string, globals GlobalFlags) {
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

	if !globals.Quiet {
		fmt.Fprintf(os.Stdout, "schema up to date: %s\n", globals.DBPath)
	}
}
