package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/biblioctl/pipeline/internal/config"
)

func runEnrich(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("enrich", flag.ExitOnError)
	limit := fs.Int("batch-size", 50, "Max rows to pull from no_metadata")
	_ = fs.Parse(args)

	cfg := config.Load()
	ctx, cancel := rootContext()
	defer cancel()
	sched, closer, err := buildPipeline(ctx, cfg, globals)
	if err != nil {
		fatalf("%v", err)
	}
	defer closer()

	bar := newStageBar(globals, int64(*limit), "Enriching")
	defer bar.Finish()

	c, err := sched.EnrichBatch(ctx, *limit)
	bar.Set64(int64(c.Processed))
	if err != nil {
		fatalf("enrich: %v", err)
	}

	report(globals, "enrich", c.Processed, c.Promoted, c.Failed, 0)
}

// newStageBar returns a schollz/progressbar driven by processed count, or a
// no-op bar in quiet/JSON mode so batch output stays script-friendly.
func newStageBar(globals GlobalFlags, total int64, label string) *stageBar {
	if globals.Quiet || globals.JSON {
		return &stageBar{noop: true}
	}
	return &stageBar{bar: newProgressBar(total, label)}
}

func report(globals GlobalFlags, stage string, processed, promoted, failed, skippedDup int) {
	if globals.JSON {
		fmt.Fprintf(os.Stdout, `{"stage":%q,"processed":%d,"promoted":%d,"failed":%d,"skipped_duplicate":%d}`+"\n",
			stage, processed, promoted, failed, skippedDup)
		return
	}
	if globals.Quiet {
		return
	}
	if failed > 0 {
		printWarn("%s: processed=%d promoted=%d failed=%d skipped_duplicate=%d", stage, processed, promoted, failed, skippedDup)
		return
	}
	printSuccess("%s: processed=%d promoted=%d failed=%d skipped_duplicate=%d", stage, processed, promoted, failed, skippedDup)
}
