// Package main implements the biblio CLI: the single process entry point
// that drives the Storage, Matcher, Resolver, and Pipeline Scheduler
// components against one SQLite database.
//
// Usage:
//
//	biblio init-db                              Create/upgrade the schema
//	biblio import-bib refs.bib                 Seed downloaded_references from a BibTeX file
//	biblio add-to-no-metadata seed.json         Seed references from a JSON file
//	biblio enrich --batch-size=50               Run enrich_batch
//	biblio queue --batch-size=50                Run queue_batch
//	biblio download --limit=20 --concurrency=4 --download-dir=./pdfs
//	biblio retry-failed-enrichments
//	biblio retry-failed-downloads
//	biblio keyword-search --query="transformer attention" --max-results=20 --backend=arxiv
//	biblio inspect-tables                       Row counts per stage
//	biblio merge-log --limit=50                 Recent dedupe decisions
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"net/http"

	"github.com/biblioctl/pipeline/internal/config"
	"github.com/biblioctl/pipeline/internal/matcher"
	"github.com/biblioctl/pipeline/internal/pipeline"
	"github.com/biblioctl/pipeline/internal/ratelimit"
	"github.com/biblioctl/pipeline/internal/resolver"
	"github.com/biblioctl/pipeline/internal/storage"
	"github.com/biblioctl/pipeline/pkg/crossref"
	"github.com/biblioctl/pipeline/pkg/openalex"
)

// GlobalFlags holds the global CLI flags every subcommand handler sees.
type GlobalFlags struct {
	JSON          bool
	NoColor       bool
	Verbose       int
	Quiet         bool
	DBPath        string
	Mailto        string
	MigrationsDir string
}

func main() {
	var (
		dbPath        = flag.String("db", getenv("DB_PATH", "./biblio.db"), "SQLite database path")
		mailto        = flag.String("mailto", getenv("MAILTO", ""), "Contact email sent to OpenAlex/Crossref/Unpaywall (polite pool)")
		migrationsDir = flag.String("migrations", "migrations", "Directory of schema migrations")
		metricsAddr   = flag.String("metrics-addr", getenv("METRICS_ADDR", ""), "Address to serve /metrics on (empty disables)")
		jsonOutput    = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor       = flag.Bool("no-color", false, "Disable color output")
		verbose       = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet         = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress bars, info messages)")
	)

	// Stop parsing at the first non-flag argument so subcommand-specific
	// flags like "download --concurrency=8" reach the subcommand's own
	// flag set untouched.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `biblio - bibliography acquisition pipeline

biblio moves references through the stage pipeline: no_metadata ->
with_metadata -> to_download_references -> downloaded_references, with
failed_enrichments/failed_downloads/duplicate_references as side tracks.

Usage:
  biblio <command> [options]

Commands:
  init-db                    Create/upgrade the SQLite schema
  import-bib <file.bib>      Seed downloaded_references from a BibTeX file
  add-to-no-metadata <file>  Seed one or more references from a JSON file
  enrich --batch-size N      Run enrich_batch (no_metadata -> with_metadata)
  queue --batch-size N       Run queue_batch (with_metadata -> to_download_references)
  download --limit N --concurrency C --download-dir D
                             Run download_batch (to_download_references -> downloaded_references)
  retry-failed-enrichments   Move failed_enrichments back to no_metadata
  retry-failed-downloads     Move failed_downloads back to no_metadata
  keyword-search --query Q --max-results N
                             Search an alternate backend (arxiv|pubmed|semanticscholar)
  inspect-tables             Print row counts for every stage table
  merge-log                  Print recent merge_log entries

Global Options:
  --db               SQLite database path (default ./biblio.db)
  --mailto           Contact email sent to OpenAlex/Crossref/Unpaywall (polite pool)
  --migrations       Migrations directory (default ./migrations)
  --metrics-addr     Serve Prometheus /metrics on this address
  --json             Output in JSON format (for applicable commands)
  --no-color         Disable color output (respects NO_COLOR env var)
  -v, --verbose      Increase verbosity (-v for info, -vv for debug)
  -q, --quiet        Suppress non-essential output (progress bars, info messages)

Examples:
  biblio init-db
  biblio import-bib seed/refs.bib
  biblio add-to-no-metadata seed/manual.json
  biblio enrich --batch-size=100
  biblio queue --batch-size=100
  biblio download --limit=50 --concurrency=8 --download-dir=./pdfs
  biblio retry-failed-downloads
  biblio keyword-search --query="graph neural networks" --backend=pubmed --max-results=20
  biblio --json inspect-tables

For detailed command help: biblio <command> --help

`)
	}

	flag.Parse()

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "Error: cannot use --quiet and --verbose together")
		os.Exit(1)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:          *jsonOutput,
		NoColor:       *noColor,
		Verbose:       *verbose,
		Quiet:         *quiet,
		DBPath:        *dbPath,
		Mailto:        *mailto,
		MigrationsDir: *migrationsDir,
	}
	initColor(globals.NoColor)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init-db":
		runInitDB(cmdArgs, globals)
	case "import-bib":
		runImportBib(cmdArgs, globals)
	case "add-to-no-metadata":
		runAddToNoMetadata(cmdArgs, globals)
	case "enrich":
		runEnrich(cmdArgs, globals)
	case "queue":
		runQueue(cmdArgs, globals)
	case "download":
		runDownload(cmdArgs, globals)
	case "retry-failed-enrichments":
		runRetry(cmdArgs, globals, "failed_enrichments")
	case "retry-failed-downloads":
		runRetry(cmdArgs, globals, "failed_downloads")
	case "keyword-search":
		runKeywordSearch(cmdArgs, globals)
	case "inspect-tables":
		runInspectTables(cmdArgs, globals)
	case "merge-log":
		runMergeLog(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

// buildPipeline wires config, rate limiter, matcher, resolver and scheduler
// the same way for every batch subcommand (enrich/queue/download). The
// returned closer must run after the caller is done with the store.
func buildPipeline(ctx context.Context, cfg *config.Config, globals GlobalFlags) (*pipeline.Scheduler, func(), error) {
	store, err := storage.Open(ctx, globals.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(ctx, globals.MigrationsDir); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	if globals.Mailto != "" {
		cfg.Resolver.Mailto = globals.Mailto
	}

	metrics := ratelimit.NewMetrics(prometheus.DefaultRegisterer)
	limiter := ratelimit.NewRegistry(cfg.RateLimit, metrics)

	oaClient := openalex.NewClient(cfg.Resolver.Mailto, 0)
	crClient := crossref.NewClient(cfg.Resolver.Mailto, 0)
	m := matcher.New(oaClient, crClient, limiter, cfg.Matcher)
	r := resolver.New(cfg.Resolver, limiter)

	sched := pipeline.New(store, m, r)
	return sched, func() { store.Close() }, nil
}

// rootContext returns a context cancelled on SIGINT/SIGTERM, the same
// graceful-shutdown idiom cmd/harvest uses. Cancelling aborts in-flight
// context-bound calls and stops the batch loops before their next row; a row
// whose stage move has not committed stays in its current stage.
func rootContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "received shutdown signal, cancelling in-flight work...")
		cancel()
	}()
	return ctx, cancel
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
