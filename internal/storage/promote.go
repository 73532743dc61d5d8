package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/biblioctl/pipeline/internal/domain"
)

// PromoteWithPayload is Promote's counterpart for the enrichment stage
// transition: instead of reloading and re-normalizing the row already in
// `from`, it inserts the matcher's enriched payload into `to` and deletes
// the original row, atomically.
func (s *Store) PromoteWithPayload(ctx context.Context, id int64, from, to domain.Stage, payload *domain.Reference) error {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	payload.ID = id
	Normalize(payload)
	if _, err := s.insertInto(ctx, tx, string(to), payload); err != nil {
		return fmt.Errorf("insert into %s: %w", to, err)
	}
	if err := deleteByID(ctx, tx, from, id); err != nil {
		return fmt.Errorf("delete from %s: %w", from, err)
	}
	return tx.Commit()
}

// PromoteDownloaded moves row id from to_download_references into
// downloaded_references, filling file_path, checksum_pdf, url_source (set
// to the cascade source tag) and date_processed.
func (s *Store) PromoteDownloaded(ctx context.Context, id int64, filePath, checksum, sourceTag string) error {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ref, err := s.getByIDTx(ctx, tx, domain.StageToDownload, id)
	if err != nil {
		return fmt.Errorf("load row to promote: %w", err)
	}
	ref.FilePath = filePath
	ref.ChecksumPDF = checksum
	ref.URLSource = sourceTag
	now := time.Now().UTC()
	ref.DateProcessed = &now

	Normalize(ref)
	if _, err := s.insertInto(ctx, tx, string(domain.StageDownloaded), ref); err != nil {
		return fmt.Errorf("insert into downloaded_references: %w", err)
	}
	if err := deleteByID(ctx, tx, domain.StageToDownload, id); err != nil {
		return fmt.Errorf("delete from to_download_references: %w", err)
	}
	return tx.Commit()
}

// RecordDuplicateAndRemove implements queue_batch's duplicate path
// (spec.md §4.5): write the duplicate_references + merge_log rows and
// remove the original row from fromStage, atomically.
func (s *Store) RecordDuplicateAndRemove(ctx context.Context, payload *domain.Reference, fromStage domain.Stage, fromID int64, existingTable domain.Stage, existingID int64, matchedField domain.MatchedField) error {
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
	if err := deleteByID(ctx, tx, fromStage, fromID); err != nil {
		return fmt.Errorf("delete from %s: %w", fromStage, err)
	}
	return tx.Commit()
}
