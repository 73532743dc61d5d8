// Package bibtex adapts github.com/nickng/bibtex's parser into the shared
// domain.Reference shape, the way pkg/arxiv and pkg/semanticscholar adapt
// their own upstream response shapes.
package bibtex

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	upstream "github.com/nickng/bibtex"

	"github.com/biblioctl/pipeline/internal/domain"
)

// ParseReferences reads a .bib file and converts every entry into a
// domain.Reference seeded in downloaded_references (spec.md's import-bib
// path assumes the operator already holds the PDF for each entry).
func ParseReferences(r io.Reader) ([]*domain.Reference, error) {
	bib, err := upstream.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse bibtex: %w", err)
	}

	refs := make([]*domain.Reference, 0, len(bib.Entries))
	for _, entry := range bib.Entries {
		refs = append(refs, entryToReference(entry))
	}
	return refs, nil
}

func entryToReference(entry *upstream.BibEntry) *domain.Reference {
	ref := &domain.Reference{
		Title:              field(entry, "title"),
		Journal:            field(entry, "journal"),
		Volume:             field(entry, "volume"),
		Issue:              field(entry, "number"),
		Pages:              field(entry, "pages"),
		Publisher:          field(entry, "publisher"),
		DOI:                strings.ToLower(field(entry, "doi")),
		MetadataSourceType: "bibtex",
	}

	if authors := field(entry, "author"); authors != "" {
		ref.Authors = splitNames(authors)
	}
	if editors := field(entry, "editor"); editors != "" {
		ref.Editors = splitNames(editors)
	}
	if y := field(entry, "year"); y != "" {
		if year, err := strconv.Atoi(strings.TrimSpace(y)); err == nil {
			ref.Year = &year
		}
	}
	if strings.EqualFold(string(entry.Type), "book") || strings.EqualFold(string(entry.Type), "inbook") {
		ref.Type = "book"
	}
	if url := field(entry, "url"); url != "" {
		ref.URLSource = url
	}

	return ref
}

// field reads a BibTeX field, tolerating both the brace-quoted and
// string-concatenated forms bibtex.BibString can hold.
func field(entry *upstream.BibEntry, name string) string {
	bs, ok := entry.Fields[upstream.BibVar(name)]
	if !ok || bs == nil {
		return ""
	}
	return strings.TrimSpace(bs.String())
}

// splitNames breaks a BibTeX " and "-joined author/editor list into the
// same per-name slice shape domain.Reference.Authors expects elsewhere.
func splitNames(raw string) []string {
	parts := strings.Split(raw, " and ")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if n := strings.TrimSpace(p); n != "" {
			names = append(names, n)
		}
	}
	return names
}
