// Package domain holds the core types shared across the pipeline: the
// reference record moved through the stage tables, and the small set of
// value objects (duplicates, merge-log entries) that describe how it got
// there.
package domain

import (
	"encoding/json"
	"time"
)

// Stage names one of the seven tables a Reference can live in.
type Stage string

const (
	StageNoMetadata       Stage = "no_metadata"
	StageWithMetadata     Stage = "with_metadata"
	StageToDownload       Stage = "to_download_references"
	StageDownloaded       Stage = "downloaded_references"
	StageFailedEnrichment Stage = "failed_enrichments"
	StageFailedDownload   Stage = "failed_downloads"
	StageDuplicate        Stage = "duplicate_references"
)

// liveStages are the four stages that hold an in-flight or settled, non-duplicate
// reference and participate in duplicate detection.
var liveStages = []Stage{StageNoMetadata, StageWithMetadata, StageToDownload, StageDownloaded}

// LiveStages returns the stages checked by duplicate detection, in a fixed order.
func LiveStages() []Stage {
	out := make([]Stage, len(liveStages))
	copy(out, liveStages)
	return out
}

// stagedStages are liveStages minus downloaded_references: the tables still
// in flight, where a title+authors match means "this is a re-parse of
// something already queued," not "this was already finished."
var stagedStages = []Stage{StageNoMetadata, StageWithMetadata, StageToDownload}

// StagedStages returns the non-terminal stages, in a fixed order. Unlike
// LiveStages, it excludes downloaded_references: the title+authors identity
// check must not fire against completed work, only against other
// in-progress copies of the same reference.
func StagedStages() []Stage {
	out := make([]Stage, len(stagedStages))
	copy(out, stagedStages)
	return out
}

// MatchedField names which identity field a duplicate or merge decision was made on.
type MatchedField string

const (
	MatchedDOI         MatchedField = "doi"
	MatchedOpenAlexID  MatchedField = "openalex_id"
	MatchedTitleAuthor MatchedField = "title_authors"
)

// MergeAction names the outcome recorded in merge_log.
type MergeAction string

const (
	ActionMerged            MergeAction = "merged"
	ActionConflict          MergeAction = "conflict"
	ActionPossibleDuplicate MergeAction = "possible_duplicate"
)

// Reference is the unit moved through the pipeline. A Reference is owned
// exclusively by the stage table it currently resides in; ID is only stable
// within that table (stage moves are a delete+insert, not an UPDATE).
type Reference struct {
	ID                int64
	Title             string
	Authors           []string
	Editors           []string
	Year              *int
	DOI               string
	OpenAlexID        string
	PMID              string
	ArXivID           string
	Abstract          string
	Keywords          []string
	Journal           string
	Volume            string
	Issue             string
	Pages             string
	Publisher         string
	URLSource         string
	FilePath          string
	ChecksumPDF       string
	Type              string // "book" selects the 50-page validity threshold; "" means the 5-page default
	MetadataSourceType string // provenance: bibtex, pdf_extraction, keyword_search, crossref_promoted, ...
	BibtexEntryJSON   json.RawMessage
	StatusNotes       string
	DateAdded         time.Time
	DateProcessed     *time.Time

	// Normalized shadow fields, always kept in sync with the fields above by
	// the storage layer before any insert (see storage.Normalize).
	NormalizedDOI     string
	NormalizedTitle   string
	NormalizedAuthors string

	// ReferencedWorks/CitingWorks hold opaque OpenAlex work IDs, never resolved
	// into an in-memory pointer graph (see SPEC_FULL.md §9).
	ReferencedWorks []string
	CitingWorks     []string

	// FirstFoundInStep records which matcher cascade step first produced this
	// candidate; used for selection tie-breaking. Zero value for rows that
	// never went through the matcher.
	FirstFoundInStep int
}

// HasDOI reports whether the reference carries a usable DOI.
func (r *Reference) HasDOI() bool { return r.DOI != "" }

// IsBook reports whether the 50-page PDF validity threshold applies.
func (r *Reference) IsBook() bool { return r.Type == "book" }

// Duplicate is an incoming reference that matched an existing row; it is
// recorded for audit, never inserted into a live stage.
type Duplicate struct {
	ID                int64
	Payload           *Reference
	ExistingEntryID    int64
	ExistingEntryTable Stage
	MatchedOnField     MatchedField
	CreatedAt          time.Time
}

// MergeLogEntry is an append-only audit row written every time the dedupe
// engine resolves a conflict.
type MergeLogEntry struct {
	ID              int64
	CanonicalTable  Stage
	CanonicalID     int64
	DuplicateTable  Stage
	DuplicateID     int64
	Action          MergeAction
	MatchField      MatchedField
	Notes           string
	CreatedAt       time.Time
}

// SearchRun records a keyword-search ingestion request.
type SearchRun struct {
	ID        string
	Query     string
	Filters   map[string]string
	CreatedAt time.Time
}
