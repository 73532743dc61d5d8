package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/biblioctl/pipeline/internal/domain"
)

// baseColumns is the column set shared by every stage table: the full
// reference record plus its three normalized shadow fields.
var baseColumns = []string{
	"title", "authors_json", "editors_json", "year", "doi", "openalex_id",
	"pmid", "arxiv_id", "abstract", "keywords_json", "journal", "volume",
	"issue", "pages", "publisher", "url_source", "file_path", "checksum_pdf",
	"ref_type", "metadata_source_type", "bibtex_entry_json", "status_notes",
	"date_added", "date_processed", "normalized_doi", "normalized_title",
	"normalized_authors",
}

var withMetadataExtraColumns = []string{
	"referenced_works_json", "citing_works_json", "first_found_in_step",
}

var duplicateExtraColumns = []string{
	"existing_entry_id", "existing_entry_table", "matched_on_field", "created_at",
}

func baseArgs(ref *domain.Reference) ([]interface{}, error) {
	authorsJSON, err := json.Marshal(ref.Authors)
	if err != nil {
		return nil, fmt.Errorf("marshal authors: %w", err)
	}
	editorsJSON, err := json.Marshal(ref.Editors)
	if err != nil {
		return nil, fmt.Errorf("marshal editors: %w", err)
	}
	keywordsJSON, err := json.Marshal(ref.Keywords)
	if err != nil {
		return nil, fmt.Errorf("marshal keywords: %w", err)
	}

	var yearArg interface{}
	if ref.Year != nil {
		yearArg = *ref.Year
	}

	dateAdded := ref.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}
	var dateProcessed interface{}
	if ref.DateProcessed != nil {
		dateProcessed = *ref.DateProcessed
	}

	var bibtexJSON interface{}
	if len(ref.BibtexEntryJSON) > 0 {
		bibtexJSON = string(ref.BibtexEntryJSON)
	}

	return []interface{}{
		ref.Title, string(authorsJSON), string(editorsJSON), yearArg, nullable(ref.DOI),
		nullable(ref.OpenAlexID), nullable(ref.PMID), nullable(ref.ArXivID),
		nullable(ref.Abstract), string(keywordsJSON), nullable(ref.Journal),
		nullable(ref.Volume), nullable(ref.Issue), nullable(ref.Pages),
		nullable(ref.Publisher), nullable(ref.URLSource), nullable(ref.FilePath),
		nullable(ref.ChecksumPDF), nullable(ref.Type), nullable(ref.MetadataSourceType),
		bibtexJSON, nullable(ref.StatusNotes), dateAdded, dateProcessed,
		nullable(ref.NormalizedDOI), nullable(ref.NormalizedTitle), nullable(ref.NormalizedAuthors),
	}, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBase(row rowScanner) (*domain.Reference, error) {
	var (
		ref                                            domain.Reference
		authorsJSON, editorsJSON, keywordsJSON          string
		year                                            sql.NullInt64
		doi, openAlexID, pmid, arxivID                  sql.NullString
		abstract, journal, volume, issue, pages         sql.NullString
		publisher, urlSource, filePath, checksum        sql.NullString
		refType, sourceType, bibtexJSON, statusNotes    sql.NullString
		dateAdded                                        time.Time
		dateProcessed                                    sql.NullTime
		normDOI, normTitle, normAuthors                 sql.NullString
	)

	if err := row.Scan(
		&ref.ID, &ref.Title, &authorsJSON, &editorsJSON, &year, &doi, &openAlexID,
		&pmid, &arxivID, &abstract, &keywordsJSON, &journal, &volume, &issue,
		&pages, &publisher, &urlSource, &filePath, &checksum, &refType,
		&sourceType, &bibtexJSON, &statusNotes, &dateAdded, &dateProcessed,
		&normDOI, &normTitle, &normAuthors,
	); err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(authorsJSON), &ref.Authors)
	_ = json.Unmarshal([]byte(editorsJSON), &ref.Editors)
	_ = json.Unmarshal([]byte(keywordsJSON), &ref.Keywords)

	if year.Valid {
		y := int(year.Int64)
		ref.Year = &y
	}
	ref.DOI = doi.String
	ref.OpenAlexID = openAlexID.String
	ref.PMID = pmid.String
	ref.ArXivID = arxivID.String
	ref.Abstract = abstract.String
	ref.Journal = journal.String
	ref.Volume = volume.String
	ref.Issue = issue.String
	ref.Pages = pages.String
	ref.Publisher = publisher.String
	ref.URLSource = urlSource.String
	ref.FilePath = filePath.String
	ref.ChecksumPDF = checksum.String
	ref.Type = refType.String
	ref.MetadataSourceType = sourceType.String
	if bibtexJSON.Valid {
		ref.BibtexEntryJSON = []byte(bibtexJSON.String)
	}
	ref.StatusNotes = statusNotes.String
	ref.DateAdded = dateAdded
	if dateProcessed.Valid {
		t := dateProcessed.Time
		ref.DateProcessed = &t
	}
	ref.NormalizedDOI = normDOI.String
	ref.NormalizedTitle = normTitle.String
	ref.NormalizedAuthors = normAuthors.String

	return &ref, nil
}

func scanWithMetadata(row rowScanner) (*domain.Reference, error) {
	// scanWithMetadata mirrors scanBase but appends the three
	// with_metadata-only columns after the base columns, matching the
	// column order selectColumnsSQL produces.
	var (
		ref                                           domain.Reference
		authorsJSON, editorsJSON, keywordsJSON        string
		year                                          sql.NullInt64
		doi, openAlexID, pmid, arxivID                sql.NullString
		abstract, journal, volume, issue, pages       sql.NullString
		publisher, urlSource, filePath, checksum      sql.NullString
		refType, sourceType, bibtexJSON, statusNotes  sql.NullString
		dateAdded                                     time.Time
		dateProcessed                                 sql.NullTime
		normDOI, normTitle, normAuthors               sql.NullString
		referencedJSON, citingJSON                    string
		firstFoundInStep                              int
	)

	if err := row.Scan(
		&ref.ID, &ref.Title, &authorsJSON, &editorsJSON, &year, &doi, &openAlexID,
		&pmid, &arxivID, &abstract, &keywordsJSON, &journal, &volume, &issue,
		&pages, &publisher, &urlSource, &filePath, &checksum, &refType,
		&sourceType, &bibtexJSON, &statusNotes, &dateAdded, &dateProcessed,
		&normDOI, &normTitle, &normAuthors,
		&referencedJSON, &citingJSON, &firstFoundInStep,
	); err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(authorsJSON), &ref.Authors)
	_ = json.Unmarshal([]byte(editorsJSON), &ref.Editors)
	_ = json.Unmarshal([]byte(keywordsJSON), &ref.Keywords)
	_ = json.Unmarshal([]byte(referencedJSON), &ref.ReferencedWorks)
	_ = json.Unmarshal([]byte(citingJSON), &ref.CitingWorks)

	if year.Valid {
		y := int(year.Int64)
		ref.Year = &y
	}
	ref.DOI = doi.String
	ref.OpenAlexID = openAlexID.String
	ref.PMID = pmid.String
	ref.ArXivID = arxivID.String
	ref.Abstract = abstract.String
	ref.Journal = journal.String
	ref.Volume = volume.String
	ref.Issue = issue.String
	ref.Pages = pages.String
	ref.Publisher = publisher.String
	ref.URLSource = urlSource.String
	ref.FilePath = filePath.String
	ref.ChecksumPDF = checksum.String
	ref.Type = refType.String
	ref.MetadataSourceType = sourceType.String
	if bibtexJSON.Valid {
		ref.BibtexEntryJSON = []byte(bibtexJSON.String)
	}
	ref.StatusNotes = statusNotes.String
	ref.DateAdded = dateAdded
	if dateProcessed.Valid {
		t := dateProcessed.Time
		ref.DateProcessed = &t
	}
	ref.NormalizedDOI = normDOI.String
	ref.NormalizedTitle = normTitle.String
	ref.NormalizedAuthors = normAuthors.String
	ref.FirstFoundInStep = firstFoundInStep

	return &ref, nil
}

func selectColumnsSQL(extra ...string) string {
	cols := "id, " + joinColumns(baseColumns)
	for _, c := range extra {
		cols += ", " + c
	}
	return cols
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
