package main

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/biblioctl/pipeline/internal/domain"
	"github.com/biblioctl/pipeline/internal/storage"
	"github.com/biblioctl/pipeline/pkg/arxiv"
	"github.com/biblioctl/pipeline/pkg/pubmed"
	"github.com/biblioctl/pipeline/pkg/semanticscholar"
)

// runKeywordSearch queries one alternate backend and, unless --dry-run is
// set, seeds every hit into no_metadata — the path used when a reference
// has neither a DOI nor a close-enough OpenAlex/Crossref title match.
func runKeywordSearch(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("keyword-search", flag.ExitOnError)
	backend := fs.String("backend", "arxiv", "Backend to query: arxiv, pubmed, or semanticscholar")
	query := fs.String("query", "", "Search query (required)")
	maxResults := fs.Int("max-results", 20, "Max results to fetch")
	offset := fs.Int("offset", 0, "Result offset")
	dryRun := fs.Bool("dry-run", false, "Print results without seeding the database")
	_ = fs.Parse(args)

	if strings.TrimSpace(*query) == "" {
		fatalf("--query is required")
	}

	refs, total, err := searchBackend(*backend, *query, *maxResults, *offset)
	if err != nil {
		fatalf("%s search: %v", *backend, err)
	}

	if *dryRun {
		for _, ref := range refs {
			fmt.Fprintf(os.Stdout, "%s (%v) doi=%s\n", ref.Title, yearOf(ref), ref.DOI)
		}
		if !globals.Quiet {
			printSuccess("%s: %d/%d results (dry run, nothing seeded)", *backend, len(refs), total)
		}
		return
	}

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

	var seeded, skipped int
	for _, ref := range refs {
		_, reason, err := store.InsertSeed(ctx, ref, domain.StageNoMetadata)
		if err != nil {
			fatalf("insert %q: %v", ref.Title, err)
		}
		if reason != "" {
			skipped++
		} else {
			seeded++
		}
	}

	report(globals, "keyword-search:"+*backend, len(refs), seeded, skipped, 0)
}

func searchBackend(backend, query string, limit, offset int) ([]*domain.Reference, int, error) {
	switch backend {
	case "arxiv":
		res, err := arxiv.NewClient().Search(query, limit, offset)
		if err != nil {
			return nil, 0, err
		}
		return res.References, res.TotalResults, nil
	case "pubmed":
		res, err := pubmed.NewClient().Search(query, limit, offset)
		if err != nil {
			return nil, 0, err
		}
		return res.References, res.TotalResults, nil
	case "semanticscholar":
		res, err := semanticscholar.NewClient().Search(query, limit, offset, "relevance")
		if err != nil {
			return nil, 0, err
		}
		return res.References, res.TotalResults, nil
	default:
		return nil, 0, fmt.Errorf("unknown backend %q (want arxiv, pubmed, or semanticscholar)", backend)
	}
}

func yearOf(ref *domain.Reference) string {
	if ref.Year == nil {
		return "?"
	}
	return fmt.Sprintf("%d", *ref.Year)
}
