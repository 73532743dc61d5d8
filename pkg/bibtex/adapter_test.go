package bibtex

import (
	"strings"
	"testing"
)

const sampleEntry = `@article{vaswani2017attention,
  title   = {Attention Is All You Need},
  author  = {Vaswani, Ashish and Shazeer, Noam},
  journal = {NeurIPS},
  year    = {2017},
  doi     = {10.5555/3295222.3295349}
}`

func TestParseReferencesMapsCoreFields(t *testing.T) {
	refs, err := ParseReferences(strings.NewReader(sampleEntry))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(refs))
	}
	ref := refs[0]
	if ref.Title != "Attention Is All You Need" {
		t.Fatalf("got title %q", ref.Title)
	}
	if len(ref.Authors) != 2 || ref.Authors[0] != "Vaswani, Ashish" {
		t.Fatalf("got authors %v", ref.Authors)
	}
	if ref.Year == nil || *ref.Year != 2017 {
		t.Fatalf("got year %v", ref.Year)
	}
	if ref.DOI != "10.5555/3295222.3295349" {
		t.Fatalf("got doi %q", ref.DOI)
	}
	if ref.MetadataSourceType != "bibtex" {
		t.Fatalf("got source type %q", ref.MetadataSourceType)
	}
}
