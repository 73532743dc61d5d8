package main

import (
	flag "github.com/spf13/pflag"

	"github.com/biblioctl/pipeline/internal/config"
)

func runDownload(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Max rows to pull from to_download_references")
	concurrency := fs.Int("concurrency", 4, "Number of concurrent downloads")
	downloadDir := fs.String("download-dir", "", "Override the configured PDF download directory")
	_ = fs.Parse(args)

	cfg := config.Load()
	if *downloadDir != "" {
		cfg.Resolver.DownloadDir = *downloadDir
	}
	ctx, cancel := rootContext()
	defer cancel()
	sched, closer, err := buildPipeline(ctx, cfg, globals)
	if err != nil {
		fatalf("%v", err)
	}
	defer closer()

	bar := newStageBar(globals, int64(*limit), "Downloading")
	defer bar.Finish()

	c, err := sched.DownloadBatch(ctx, *limit, *concurrency)
	bar.Set64(int64(c.Processed))
	if err != nil {
		fatalf("download: %v", err)
	}

	report(globals, "download", c.Processed, c.Promoted, c.Failed, 0)
}
