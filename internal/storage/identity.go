package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/biblioctl/pipeline/internal/domain"
)

// InsertReason explains why InsertSeed declined to insert a row.
type InsertReason string

const (
	ReasonMissingTitle InsertReason = "missing_title"
)

func duplicateReason(table domain.Stage) InsertReason {
	return InsertReason("duplicate_in_" + string(table))
}

// Normalize fills ref's three shadow fields from its raw fields. Callers
// must invoke this before any insert; every Store method that writes a
// fresh row does so itself, so this is exported mainly for tests and
// external adapters (bibtex, keyword-search) constructing a Reference by
// hand.
func Normalize(ref *domain.Reference) {
	ref.NormalizedDOI = NormalizeDOI(ref.DOI)
	ref.NormalizedTitle = NormalizeTitle(ref.Title)
	ref.NormalizedAuthors = NormalizeAuthors(append(append([]string{}, ref.Authors...), ref.Editors...))
}

// InsertSeed inserts ref into stage (normally StageNoMetadata) after checking
// for an existing duplicate across every live stage. On success it returns
// the new row id and an empty reason. On a declined insert it returns 0 and a
// reason in {missing_title, duplicate_in_<table>}.
func (s *Store) InsertSeed(ctx context.Context, ref *domain.Reference, stage domain.Stage) (int64, InsertReason, error) {
	if strings.TrimSpace(ref.Title) == "" {
		return 0, ReasonMissingTitle, nil
	}
	Normalize(ref)

	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	table, existingID, matchedField, err := s.checkIfExistsTx(ctx, s.db, ref, "", 0)
	if err != nil {
		return 0, "", err
	}
	if table != "" {
		if err := s.recordDuplicateTx(ctx, s.db, ref, table, existingID, matchedField); err != nil {
			return 0, "", err
		}
		return 0, duplicateReason(table), nil
	}

	id, err := s.insertInto(ctx, s.db, string(stage), ref)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return 0, duplicateReason(stage), nil
		}
		return 0, "", err
	}
	return id, "", nil
}

// CheckIfExists implements spec.md §4.2's ordered identity check: normalized
// DOI exact match first, then normalized OpenAlex ID, both checked across
// every live stage including downloaded_references, then normalized
// title+authors, checked only across the staged (non-terminal) tables so a
// re-parse of a reference still in flight is caught, but a completed
// download never blocks reingestion. exclude lets a caller
// skip its own row when re-checking after metadata arrives.
func (s *Store) CheckIfExists(ctx context.Context, ref *domain.Reference, excludeTable domain.Stage, excludeID int64) (domain.Stage, int64, domain.MatchedField, error) {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.checkIfExistsTx(ctx, s.db, ref, excludeTable, excludeID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) checkIfExistsTx(ctx context.Context, q queryer, ref *domain.Reference, excludeTable domain.Stage, excludeID int64) (domain.Stage, int64, domain.MatchedField, error) {
	if ref.NormalizedDOI != "" {
		if table, id, err := findBy(ctx, q, "normalized_doi", ref.NormalizedDOI, excludeTable, excludeID); err != nil {
			return "", 0, "", err
		} else if table != "" {
			return table, id, domain.MatchedDOI, nil
		}
	}
	if ref.OpenAlexID != "" {
		norm := NormalizeOpenAlexID(ref.OpenAlexID)
		if norm != "" {
			if table, id, err := findBy(ctx, q, "openalex_id", norm, excludeTable, excludeID); err != nil {
				return "", 0, "", err
			} else if table != "" {
				return table, id, domain.MatchedOpenAlexID, nil
			}
		}
	}
	if ref.NormalizedTitle != "" && ref.NormalizedAuthors != "" {
		if table, id, err := findByTitleAuthors(ctx, q, ref.NormalizedTitle, ref.NormalizedAuthors, excludeTable, excludeID); err != nil {
			return "", 0, "", err
		} else if table != "" {
			return table, id, domain.MatchedTitleAuthor, nil
		}
	}
	return "", 0, "", nil
}

// findBy scans table for a row matching column=value, skipping only the
// single (excludeTable, excludeID) row rather than the whole excludeTable.
func findBy(ctx context.Context, q queryer, column, value string, excludeTable domain.Stage, excludeID int64) (domain.Stage, int64, error) {
	for _, table := range domain.LiveStages() {
		query := fmt.Sprintf("SELECT id FROM %s WHERE %s = ? LIMIT 1", table, column)
		args := []interface{}{value}
		if table == excludeTable {
			query = fmt.Sprintf("SELECT id FROM %s WHERE %s = ? AND id != ? LIMIT 1", table, column)
			args = append(args, excludeID)
		}
		var id int64
		err := q.QueryRowContext(ctx, query, args...).Scan(&id)
		if err == nil {
			return table, id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", 0, err
		}
	}
	return "", 0, nil
}

// findByTitleAuthors runs the title+authors identity check across the
// staged tables only, never downloaded_references: a match there means "this
// is a re-parse of something already in flight," while a match against
// completed work must not block reingestion.
func findByTitleAuthors(ctx context.Context, q queryer, title, authors string, excludeTable domain.Stage, excludeID int64) (domain.Stage, int64, error) {
	for _, table := range domain.StagedStages() {
		query := fmt.Sprintf("SELECT id FROM %s WHERE normalized_title = ? AND normalized_authors = ? LIMIT 1", table)
		args := []interface{}{title, authors}
		if table == excludeTable {
			query = fmt.Sprintf("SELECT id FROM %s WHERE normalized_title = ? AND normalized_authors = ? AND id != ? LIMIT 1", table)
			args = append(args, excludeID)
		}
		var id int64
		err := q.QueryRowContext(ctx, query, args...).Scan(&id)
		if err == nil {
			return table, id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", 0, err
		}
	}
	return "", 0, nil
}

// Promote atomically moves row id from one stage to another. If mergeWith is
// non-zero, fields left empty on the moving row are filled from the
// canonical row at (mergeTable, mergeWith) and a merge_log row with
// action=merged is written.
func (s *Store) Promote(ctx context.Context, id int64, from, to domain.Stage, mergeTable domain.Stage, mergeWith int64) error {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ref, err := s.getByIDTx(ctx, tx, from, id)
	if err != nil {
		return fmt.Errorf("load row to promote: %w", err)
	}

	if mergeWith != 0 {
		canonical, err := s.getByIDTx(ctx, tx, mergeTable, mergeWith)
		if err != nil {
			return fmt.Errorf("load merge canonical row: %w", err)
		}
		fillMissing(ref, canonical)
		if err := s.insertMergeLogTx(ctx, tx, mergeTable, mergeWith, from, id, domain.ActionMerged, domain.MatchedDOI, "promote with merge"); err != nil {
			return err
		}
	}

	Normalize(ref)
	if _, err := s.insertInto(ctx, tx, string(to), ref); err != nil {
		return fmt.Errorf("insert into %s: %w", to, err)
	}
	if err := deleteByID(ctx, tx, from, id); err != nil {
		return fmt.Errorf("delete from %s: %w", from, err)
	}

	return tx.Commit()
}

func fillMissing(dst, src *domain.Reference) {
	if dst.Abstract == "" {
		dst.Abstract = src.Abstract
	}
	if dst.Journal == "" {
		dst.Journal = src.Journal
	}
	if dst.Publisher == "" {
		dst.Publisher = src.Publisher
	}
	if dst.Year == nil {
		dst.Year = src.Year
	}
	if dst.DOI == "" {
		dst.DOI = src.DOI
	}
	if dst.OpenAlexID == "" {
		dst.OpenAlexID = src.OpenAlexID
	}
	if len(dst.Authors) == 0 {
		dst.Authors = src.Authors
	}
}

// RecordFailure moves row id from stage into the corresponding failed_*
// table, preserving every column and setting status_notes=reason.
func (s *Store) RecordFailure(ctx context.Context, id int64, stage domain.Stage, reason string) error {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	failedTable := domain.StageFailedEnrichment
	if stage == domain.StageToDownload {
		failedTable = domain.StageFailedDownload
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ref, err := s.getByIDTx(ctx, tx, stage, id)
	if err != nil {
		return fmt.Errorf("load row to fail: %w", err)
	}
	ref.StatusNotes = reason

	if _, err := s.insertInto(ctx, tx, string(failedTable), ref); err != nil {
		return fmt.Errorf("insert into %s: %w", failedTable, err)
	}
	if err := deleteByID(ctx, tx, stage, id); err != nil {
		return fmt.Errorf("delete from %s: %w", stage, err)
	}

	return tx.Commit()
}

// RecordDuplicate appends payload to duplicate_references and writes a
// merge_log entry, without inserting payload into any live stage.
func (s *Store) RecordDuplicate(ctx context.Context, payload *domain.Reference, existingTable domain.Stage, existingID int64, matchedField domain.MatchedField) error {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.recordDuplicateTx(ctx, tx, payload, existingTable, existingID, matchedField); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) recordDuplicateTx(ctx context.Context, ex execer, payload *domain.Reference, existingTable domain.Stage, existingID int64, matchedField domain.MatchedField) error {
	Normalize(payload)
	args, err := baseArgs(payload)
	if err != nil {
		return err
	}
	args = append(args, existingID, string(existingTable), string(matchedField), time.Now().UTC())

	placeholders := make([]string, len(baseColumns)+len(duplicateExtraColumns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO duplicate_references (%s, %s) VALUES (%s)",
		joinColumns(baseColumns), joinColumns(duplicateExtraColumns), strings.Join(placeholders, ", "))

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert duplicate_references: %w", err)
	}

	return s.insertMergeLogTx(ctx, ex, existingTable, existingID, domain.StageDuplicate, 0, domain.ActionPossibleDuplicate, matchedField, "duplicate on insert")
}

func (s *Store) insertMergeLogTx(ctx context.Context, ex execer, canonicalTable domain.Stage, canonicalID int64, duplicateTable domain.Stage, duplicateID int64, action domain.MergeAction, field domain.MatchedField, notes string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO merge_log (canonical_table, canonical_id, duplicate_table, duplicate_id, action, match_field, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(canonicalTable), canonicalID, string(duplicateTable), duplicateID, string(action), string(field), notes, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert merge_log: %w", err)
	}
	return nil
}

func (s *Store) insertInto(ctx context.Context, ex execer, table string, ref *domain.Reference) (int64, error) {
	args, err := baseArgs(ref)
	if err != nil {
		return 0, err
	}
	cols := baseColumns
	if table == string(domain.StageWithMetadata) {
		refsJSON, _ := marshalJSON(ref.ReferencedWorks)
		citingJSON, _ := marshalJSON(ref.CitingWorks)
		args = append(args, refsJSON, citingJSON, ref.FirstFoundInStep)
		cols = append(append([]string{}, baseColumns...), withMetadataExtraColumns...)
	}

	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinColumns(cols), strings.Join(placeholders, ", "))

	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]", err
	}
	return string(b), nil
}

func deleteByID(ctx context.Context, ex execer, table domain.Stage, id int64) error {
	_, err := ex.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	return err
}

func (s *Store) getByIDTx(ctx context.Context, q queryer, table domain.Stage, id int64) (*domain.Reference, error) {
	extra := []string{}
	if table == domain.StageWithMetadata {
		extra = withMetadataExtraColumns
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectColumnsSQL(extra...), table)
	row := q.QueryRowContext(ctx, query, id)
	if table == domain.StageWithMetadata {
		return scanWithMetadata(row)
	}
	return scanBase(row)
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
