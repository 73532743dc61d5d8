package storage

import (
	"context"
	"time"
)

// HarvestCheckpoint is cmd/harvest's resume state for one OAI-PMH set.
type HarvestCheckpoint struct {
	LastDatestamp   string
	ResumptionToken string
	TotalHarvested  int64
}

// LoadHarvestCheckpoint returns the saved checkpoint for setName, or a zero
// value if the set has never been harvested.
func (s *Store) LoadHarvestCheckpoint(ctx context.Context, setName string) (*HarvestCheckpoint, error) {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	cp := &HarvestCheckpoint{}
	row := s.db.QueryRowContext(ctx,
		`SELECT last_datestamp, last_resumption_token, total_harvested
		 FROM harvest_checkpoints WHERE set_name = ?`, setName)
	if err := row.Scan(&cp.LastDatestamp, &cp.ResumptionToken, &cp.TotalHarvested); err != nil {
		return &HarvestCheckpoint{}, nil // no checkpoint yet is not an error
	}
	return cp, nil
}

// SaveHarvestCheckpoint upserts progress for setName, accumulating
// totalHarvested rather than overwriting it.
func (s *Store) SaveHarvestCheckpoint(ctx context.Context, setName, lastDatestamp, resumptionToken string, delta int64) error {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO harvest_checkpoints (set_name, last_datestamp, last_resumption_token, total_harvested, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (set_name) DO UPDATE SET
			last_datestamp = excluded.last_datestamp,
			last_resumption_token = excluded.last_resumption_token,
			total_harvested = harvest_checkpoints.total_harvested + excluded.total_harvested,
			updated_at = CURRENT_TIMESTAMP
	`, setName, lastDatestamp, resumptionToken, delta)
	return err
}
