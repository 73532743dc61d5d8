package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHarvestCheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp, err := store.LoadHarvestCheckpoint(ctx, "cs")
	require.NoError(t, err)
	require.Empty(t, cp.LastDatestamp)
	require.Zero(t, cp.TotalHarvested)

	require.NoError(t, store.SaveHarvestCheckpoint(ctx, "cs", "2026-01-01", "tok1", 50))
	cp, err = store.LoadHarvestCheckpoint(ctx, "cs")
	require.NoError(t, err)
	require.Equal(t, "2026-01-01", cp.LastDatestamp)
	require.Equal(t, "tok1", cp.ResumptionToken)
	require.EqualValues(t, 50, cp.TotalHarvested)

	require.NoError(t, store.SaveHarvestCheckpoint(ctx, "cs", "2026-01-02", "tok2", 25))
	cp, err = store.LoadHarvestCheckpoint(ctx, "cs")
	require.NoError(t, err)
	require.Equal(t, "2026-01-02", cp.LastDatestamp)
	require.EqualValues(t, 75, cp.TotalHarvested, "total_harvested should accumulate, not overwrite")
}
