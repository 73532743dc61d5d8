package main

import (
	"os"

	flag "github.com/spf13/pflag"

	"github.com/biblioctl/pipeline/internal/domain"
	"github.com/biblioctl/pipeline/internal/storage"
	"github.com/biblioctl/pipeline/pkg/bibtex"
)

// runImportBib seeds downloaded_references straight from a BibTeX file: the
// operator is assumed to already hold the PDFs for these entries, so they
// skip enrich/queue/download entirely.
func runImportBib(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("import-bib", flag.ExitOnError)
	stageFlag := fs.String("stage", string(domain.StageDownloaded), "Stage to seed into (downloaded_references or no_metadata)")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fatalf("usage: biblio import-bib <file.bib>")
	}
	path := fs.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	refs, err := bibtex.ParseReferences(f)
	if err != nil {
		fatalf("parse %s: %v", path, err)
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

	bar := newStageBar(globals, int64(len(refs)), "Importing")
	defer bar.Finish()

	var seeded, skipped int
	for i, ref := range refs {
		_, reason, err := store.InsertSeed(ctx, ref, domain.Stage(*stageFlag))
		if err != nil {
			fatalf("insert %q: %v", ref.Title, err)
		}
		if reason != "" {
			skipped++
		} else {
			seeded++
		}
		bar.Set64(int64(i + 1))
	}

	report(globals, "import-bib", len(refs), seeded, skipped, 0)
}
