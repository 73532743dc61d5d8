package oaipmh

import "testing"

func TestParseRecordMapsCoreFields(t *testing.T) {
	rec := Record{
		Header: RecordHeader{
			Identifier: "oai:arXiv.org:2301.12345",
			Datestamp:  "2023-01-15",
		},
		Metadata: Metadata{
			ArXiv: ArXivMetadata{
				ID:         "2301.12345",
				Created:    "2023-01-10",
				Title:      "Graph  Attention\nNetworks",
				Abstract:   "We present graph attention networks.",
				Categories: "cs.LG cs.AI",
				DOI:        "10.48550/ARXIV.2301.12345",
				JournalRef: "ICLR 2023",
				Authors: ArXivAuthors{Authors: []ArXivAuthor{
					{Forenames: "Petar", Keyname: "Velickovic"},
				}},
			},
		},
	}

	ref, deletedID := parseRecord(rec)
	if deletedID != "" {
		t.Fatalf("expected a live record, got deletedID=%q", deletedID)
	}
	if ref == nil {
		t.Fatal("expected a non-nil reference")
	}
	if ref.Title != "Graph Attention Networks" {
		t.Fatalf("got title %q", ref.Title)
	}
	if len(ref.Authors) != 1 || ref.Authors[0] != "Petar Velickovic" {
		t.Fatalf("got authors %v", ref.Authors)
	}
	if ref.Year == nil || *ref.Year != 2023 {
		t.Fatalf("got year %v", ref.Year)
	}
	if ref.ArXivID != "2301.12345" {
		t.Fatalf("got arxiv id %q", ref.ArXivID)
	}
	if ref.DOI != "10.48550/arxiv.2301.12345" {
		t.Fatalf("got doi %q", ref.DOI)
	}
	if len(ref.Keywords) != 2 || ref.Keywords[0] != "cs.LG" {
		t.Fatalf("got keywords %v", ref.Keywords)
	}
	if ref.MetadataSourceType != "oai_harvest" {
		t.Fatalf("got source type %q", ref.MetadataSourceType)
	}
	if ref.URLSource != "https://arxiv.org/pdf/2301.12345" {
		t.Fatalf("got url %q", ref.URLSource)
	}
}

func TestParseRecordDeletedYieldsArXivIDOnly(t *testing.T) {
	rec := Record{
		Header: RecordHeader{
			Identifier: "oai:arXiv.org:2301.99999",
			Status:     "deleted",
		},
	}

	ref, deletedID := parseRecord(rec)
	if ref != nil {
		t.Fatalf("expected nil reference for a deleted record, got %+v", ref)
	}
	if deletedID != "2301.99999" {
		t.Fatalf("got deletedID %q", deletedID)
	}
}

func TestParseRecordSkipsMissingTitle(t *testing.T) {
	rec := Record{
		Metadata: Metadata{ArXiv: ArXivMetadata{ID: "2301.00001"}},
	}

	ref, deletedID := parseRecord(rec)
	if ref != nil || deletedID != "" {
		t.Fatalf("expected both nil/empty for a record missing a title, got ref=%+v deletedID=%q", ref, deletedID)
	}
}
