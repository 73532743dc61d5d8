package main

import (
	flag "github.com/spf13/pflag"

	"github.com/biblioctl/pipeline/internal/config"
)

func runQueue(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	limit := fs.Int("batch-size", 50, "Max rows to pull from with_metadata")
	_ = fs.Parse(args)

	cfg := config.Load()
	ctx, cancel := rootContext()
	defer cancel()
	sched, closer, err := buildPipeline(ctx, cfg, globals)
	if err != nil {
		fatalf("%v", err)
	}
	defer closer()

	bar := newStageBar(globals, int64(*limit), "Queueing")
	defer bar.Finish()

	c, err := sched.QueueBatch(ctx, *limit)
	bar.Set64(int64(c.Processed))
	if err != nil {
		fatalf("queue: %v", err)
	}

	report(globals, "queue", c.Processed, c.Promoted, c.Failed, c.SkippedDuplicate)
}
