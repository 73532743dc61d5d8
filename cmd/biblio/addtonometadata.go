package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/biblioctl/pipeline/internal/domain"
	"github.com/biblioctl/pipeline/internal/storage"
)

// seedEntry is the on-disk shape accepted by add-to-no-metadata: either a
// single object or a JSON array of objects.
type seedEntry struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	DOI     string   `json:"doi"`
	Year    *int     `json:"year"`
	URL     string   `json:"url"`
}

// runAddToNoMetadata seeds one or more hand-curated references into
// no_metadata from a JSON file, the manual counterpart to import-bib and
// cmd/harvest's bulk seeding paths.
func runAddToNoMetadata(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("add-to-no-metadata", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fatalf("usage: biblio add-to-no-metadata <json-file>")
	}
	path := fs.Arg(0)

	raw, err := os.ReadFile(path)
	if err != nil {
		fatalf("read %s: %v", path, err)
	}

	entries, err := parseSeedEntries(raw)
	if err != nil {
		fatalf("parse %s: %v", path, err)
	}
	if len(entries) == 0 {
		fatalf("%s: no entries found", path)
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
	for _, e := range entries {
		ref, err := e.toReference()
		if err != nil {
			fatalf("%v", err)
		}
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

	report(globals, "add-to-no-metadata", len(entries), seeded, skipped, 0)
}

// parseSeedEntries accepts either a single JSON object or an array of them.
func parseSeedEntries(raw []byte) ([]seedEntry, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var entries []seedEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	var e seedEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return []seedEntry{e}, nil
}

func (e seedEntry) toReference() (*domain.Reference, error) {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		return nil, fmt.Errorf("entry missing required \"title\" field")
	}
	ref := &domain.Reference{
		Title:              title,
		DOI:                strings.ToLower(strings.TrimSpace(e.DOI)),
		URLSource:          strings.TrimSpace(e.URL),
		MetadataSourceType: "manual",
		Year:               e.Year,
	}
	for _, a := range e.Authors {
		if a = strings.TrimSpace(a); a != "" {
			ref.Authors = append(ref.Authors, a)
		}
	}
	return ref, nil
}
