package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/biblioctl/pipeline/internal/domain"
)

func TestCountStagesReflectsInserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	counts, err := store.CountStages(ctx)
	require.NoError(t, err)
	require.Zero(t, counts[domain.StageNoMetadata])

	_, _, err = store.InsertSeed(ctx, &domain.Reference{Title: "A Study of Something"}, domain.StageNoMetadata)
	require.NoError(t, err)
	_, _, err = store.InsertSeed(ctx, &domain.Reference{Title: "A Study of Something Else"}, domain.StageNoMetadata)
	require.NoError(t, err)

	counts, err = store.CountStages(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts[domain.StageNoMetadata])
	require.Zero(t, counts[domain.StageDownloaded])
}
