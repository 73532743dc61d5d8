package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/biblioctl/pipeline/internal/domain"
)

// FetchBatch returns up to limit rows from stage ordered by ascending id,
// the read side of the pipeline scheduler's enrich_batch/queue_batch/
// download_batch loops (spec.md §4.5).
func (s *Store) FetchBatch(ctx context.Context, stage domain.Stage, limit int) ([]*domain.Reference, error) {
	ctx, cancel := withTimeout(ctx, 15*time.Second)
	defer cancel()

	extra := []string{}
	if stage == domain.StageWithMetadata {
		extra = withMetadataExtraColumns
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id ASC LIMIT ?", selectColumnsSQL(extra...), stage)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch batch from %s: %w", stage, err)
	}
	defer rows.Close()

	var out []*domain.Reference
	for rows.Next() {
		var (
			ref *domain.Reference
			err error
		)
		if stage == domain.StageWithMetadata {
			ref, err = scanWithMetadata(rows)
		} else {
			ref, err = scanBase(rows)
		}
		if err != nil {
			return nil, fmt.Errorf("scan row from %s: %w", stage, err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// RetryFailed performs the administrative bulk transition
// failed_* -> no_metadata, clearing status_notes, per spec.md §4.2.
func (s *Store) RetryFailed(ctx context.Context, from domain.Stage) (int, error) {
	ctx, cancel := withTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", selectColumnsSQL(), from))
	if err != nil {
		return 0, err
	}
	var refs []*domain.Reference
	for rows.Next() {
		ref, err := scanBase(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		refs = append(refs, ref)
	}
	rows.Close()

	for _, ref := range refs {
		ref.StatusNotes = ""
		if _, err := s.insertInto(ctx, tx, string(domain.StageNoMetadata), ref); err != nil {
			return 0, fmt.Errorf("reinsert into no_metadata: %w", err)
		}
		if err := deleteByID(ctx, tx, from, ref.ID); err != nil {
			return 0, fmt.Errorf("delete from %s: %w", from, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(refs), nil
}

// CountStages returns the row count of every live and terminal stage table,
// for the `inspect-tables` CLI command.
func (s *Store) CountStages(ctx context.Context) (map[domain.Stage]int, error) {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	stages := append(domain.LiveStages(), domain.StageFailedEnrichment, domain.StageFailedDownload, domain.StageDuplicate)
	out := make(map[domain.Stage]int, len(stages))
	for _, stage := range stages {
		var n int
		row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", stage))
		if err := row.Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", stage, err)
		}
		out[stage] = n
	}
	return out, nil
}

// MergeLog returns up to limit merge_log rows, most recent first, for the
// `merge-log` CLI inspection command.
func (s *Store) MergeLog(ctx context.Context, limit int) ([]*domain.MergeLogEntry, error) {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, canonical_table, canonical_id, duplicate_table, duplicate_id, action, match_field, notes, created_at
		FROM merge_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.MergeLogEntry
	for rows.Next() {
		var e domain.MergeLogEntry
		var canonicalTable, duplicateTable, action, matchField string
		var notes sql.NullString
		if err := rows.Scan(&e.ID, &canonicalTable, &e.CanonicalID, &duplicateTable, &e.DuplicateID, &action, &matchField, &notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CanonicalTable = domain.Stage(canonicalTable)
		e.DuplicateTable = domain.Stage(duplicateTable)
		e.Action = domain.MergeAction(action)
		e.MatchField = domain.MatchedField(matchField)
		e.Notes = notes.String
		out = append(out, &e)
	}
	return out, rows.Err()
}
