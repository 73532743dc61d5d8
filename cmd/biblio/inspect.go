package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/biblioctl/pipeline/internal/domain"
	"github.com/biblioctl/pipeline/internal/storage"
)

var inspectStageOrder = []domain.Stage{
	domain.StageNoMetadata,
	domain.StageWithMetadata,
	domain.StageToDownload,
	domain.StageDownloaded,
	domain.StageFailedEnrichment,
	domain.StageFailedDownload,
	domain.StageDuplicate,
}

func runInspectTables(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("inspect-tables", flag.ExitOnError)
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

	counts, err := store.CountStages(ctx)
	if err != nil {
		fatalf("count stages: %v", err)
	}

	if globals.JSON {
		fmt.Fprint(os.Stdout, "{")
		for i, stage := range inspectStageOrder {
			if i > 0 {
				fmt.Fprint(os.Stdout, ",")
			}
			fmt.Fprintf(os.Stdout, "%q:%d", stage, counts[stage])
		}
		fmt.Fprintln(os.Stdout, "}")
		return
	}

	for _, stage := range inspectStageOrder {
		fmt.Fprintf(os.Stdout, "%-25s %d\n", stage, counts[stage])
	}
}
