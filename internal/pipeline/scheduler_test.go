package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/biblioctl/pipeline/internal/domain"
	"github.com/biblioctl/pipeline/internal/matcher"
	"github.com/biblioctl/pipeline/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx, filepath.Join("..", "..", "migrations")))
	return store
}

type fakeMatcher struct {
	match func(ctx context.Context, ref *domain.Reference, opts matcher.Options) (*domain.Reference, error)
}

func (f *fakeMatcher) Match(ctx context.Context, ref *domain.Reference, opts matcher.Options) (*domain.Reference, error) {
	return f.match(ctx, ref, opts)
}

type fakeResolver struct {
	resolve func(ctx context.Context, ref *domain.Reference) (string, string, string, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, ref *domain.Reference) (string, string, string, error) {
	return f.resolve(ctx, ref)
}

func TestEnrichBatchPromotesOnMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _, err := store.InsertSeed(ctx, &domain.Reference{Title: "Some Paper"}, domain.StageNoMetadata)
	require.NoError(t, err)

	fm := &fakeMatcher{match: func(_ context.Context, ref *domain.Reference, _ matcher.Options) (*domain.Reference, error) {
		out := *ref
		out.DOI = "10.1/match"
		out.OpenAlexID = "W1"
		return &out, nil
	}}
	s := New(store, fm, nil)

	counters, err := s.EnrichBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, counters.Processed)
	require.Equal(t, 1, counters.Promoted)

	withMeta, err := store.FetchBatch(ctx, domain.StageWithMetadata, 10)
	require.NoError(t, err)
	require.Len(t, withMeta, 1)
	require.Equal(t, "W1", withMeta[0].OpenAlexID)
	_ = id
}

func TestEnrichBatchRecordsFailureOnNoMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.InsertSeed(ctx, &domain.Reference{Title: "Obscure Paper"}, domain.StageNoMetadata)
	require.NoError(t, err)

	fm := &fakeMatcher{match: func(context.Context, *domain.Reference, matcher.Options) (*domain.Reference, error) {
		return nil, matcher.ErrNoMatch
	}}
	s := New(store, fm, nil)

	counters, err := s.EnrichBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, counters.Failed)

	failed, err := store.FetchBatch(ctx, domain.StageFailedEnrichment, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "metadata_fetch_failed", failed[0].StatusNotes)
}

// TestQueueBatchDetectsDuplicateAgainstDownloaded models the scenario queue_batch's
// fresh duplicate check exists for: two stubs enter the pipeline under
// different titles (no shared DOI yet), one reaches downloaded_references
// first, and only once the other is enriched does it turn out to share the
// same DOI. enrich_batch runs no duplicate check of its own, so queue_batch's
// check is the first to see the shared DOI.
func TestQueueBatchDetectsDuplicateAgainstDownloaded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	canonicalID, _, err := store.InsertSeed(ctx, &domain.Reference{Title: "Older Preprint Title"}, domain.StageNoMetadata)
	require.NoError(t, err)
	require.NoError(t, store.PromoteWithPayload(ctx, canonicalID, domain.StageNoMetadata, domain.StageWithMetadata,
		&domain.Reference{Title: "Attention Is All You Need", DOI: "10.1000/dup"}))
	withMeta, err := store.FetchBatch(ctx, domain.StageWithMetadata, 10)
	require.NoError(t, err)
	require.Len(t, withMeta, 1)
	require.NoError(t, store.Promote(ctx, withMeta[0].ID, domain.StageWithMetadata, domain.StageToDownload, "", 0))
	toDownload, err := store.FetchBatch(ctx, domain.StageToDownload, 10)
	require.NoError(t, err)
	require.NoError(t, store.PromoteDownloaded(ctx, toDownload[0].ID, "/tmp/x.pdf", "abc123", "direct"))

	dupID, _, err := store.InsertSeed(ctx, &domain.Reference{Title: "A Different Working Title"}, domain.StageNoMetadata)
	require.NoError(t, err)
	require.NoError(t, store.PromoteWithPayload(ctx, dupID, domain.StageNoMetadata, domain.StageWithMetadata,
		&domain.Reference{Title: "Attention Is All You Need", DOI: "10.1000/dup"}))

	s := New(store, nil, nil)
	counters, err := s.QueueBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, counters.SkippedDuplicate)

	remaining, err := store.FetchBatch(ctx, domain.StageWithMetadata, 10)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestDownloadBatchPromotesOnResolve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _, err := store.InsertSeed(ctx, &domain.Reference{Title: "Downloadable"}, domain.StageToDownload)
	require.NoError(t, err)

	fr := &fakeResolver{resolve: func(context.Context, *domain.Reference) (string, string, string, error) {
		return "/tmp/downloadable.pdf", "deadbeef", "direct", nil
	}}
	s := New(store, nil, fr)

	counters, err := s.DownloadBatch(ctx, 10, 2)
	require.NoError(t, err)
	require.Equal(t, 1, counters.Promoted)

	downloaded, err := store.FetchBatch(ctx, domain.StageDownloaded, 10)
	require.NoError(t, err)
	require.Len(t, downloaded, 1)
	require.Equal(t, "deadbeef", downloaded[0].ChecksumPDF)
	_ = id
}

func TestDownloadBatchRecordsFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.InsertSeed(ctx, &domain.Reference{Title: "Unreachable"}, domain.StageToDownload)
	require.NoError(t, err)

	fr := &fakeResolver{resolve: func(context.Context, *domain.Reference) (string, string, string, error) {
		return "", "", "", errors.New("download_failed")
	}}
	s := New(store, nil, fr)

	counters, err := s.DownloadBatch(ctx, 10, 2)
	require.NoError(t, err)
	require.Equal(t, 1, counters.Failed)

	failed, err := store.FetchBatch(ctx, domain.StageFailedDownload, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}
