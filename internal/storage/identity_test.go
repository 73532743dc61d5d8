package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/biblioctl/pipeline/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	migrationsDir := filepath.Join("..", "..", "migrations")
	require.NoError(t, store.Migrate(ctx, migrationsDir))
	return store
}

func TestInsertSeedThenDuplicateIsRecorded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref := &domain.Reference{Title: "Attention Is All You Need", DOI: "10.48550/arXiv.1706.03762", Authors: []string{"Vaswani, A."}}
	id, reason, err := store.InsertSeed(ctx, ref, domain.StageNoMetadata)
	require.NoError(t, err)
	require.Empty(t, reason)
	require.NotZero(t, id)

	dup := &domain.Reference{Title: "Attention Is All You Need", DOI: "10.48550/arxiv.1706.03762", Authors: []string{"Vaswani, A."}}
	dupID, dupReason, err := store.InsertSeed(ctx, dup, domain.StageNoMetadata)
	require.NoError(t, err)
	require.Zero(t, dupID)
	require.Equal(t, InsertReason("duplicate_in_no_metadata"), dupReason)

	rows, err := store.FetchBatch(ctx, domain.StageNoMetadata, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestInsertSeedRejectsMissingTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, reason, err := store.InsertSeed(ctx, &domain.Reference{}, domain.StageNoMetadata)
	require.NoError(t, err)
	require.Equal(t, ReasonMissingTitle, reason)
}

// TestDuplicateDetectedAgainstDownloaded models S3's identity check:
// pre-populate downloaded_references with a DOI, check the same DOI with
// CheckIfExists, record the duplicate, and expect a merge_log row that names
// downloaded_references as the canonical table.
func TestDuplicateDetectedAgainstDownloaded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	downloaded := &domain.Reference{Title: "Foo Paper", DOI: "10.1000/foo", FilePath: "/tmp/foo.pdf", ChecksumPDF: "abc"}
	Normalize(downloaded)
	_, err := store.insertInto(ctx, store.db, string(domain.StageDownloaded), downloaded)
	require.NoError(t, err)

	incoming := &domain.Reference{Title: "Foo Paper", DOI: "10.1000/foo"}
	Normalize(incoming)
	table, id, field, err := store.CheckIfExists(ctx, incoming, "", 0)
	require.NoError(t, err)
	require.Equal(t, domain.StageDownloaded, table)
	require.NotZero(t, id)
	require.Equal(t, domain.MatchedDOI, field)

	require.NoError(t, store.RecordDuplicate(ctx, incoming, table, id, field))

	mergeLog, err := store.MergeLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, mergeLog, 1)
	require.Equal(t, domain.StageDownloaded, mergeLog[0].CanonicalTable)
}

// TestTitleAuthorsMatchIgnoresDownloaded models a re-parse of a reference
// whose PDF is already downloaded: it has no DOI/OpenAlex ID to match on, so
// only the title+authors check applies, and that check must not treat
// completed work as a duplicate — it exists to catch re-parses still in
// flight, not to block reingestion of finished references.
func TestTitleAuthorsMatchIgnoresDownloaded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	downloaded := &domain.Reference{Title: "Graph Attention Networks", Authors: []string{"Velickovic, P."}, FilePath: "/tmp/gat.pdf", ChecksumPDF: "xyz"}
	Normalize(downloaded)
	_, err := store.insertInto(ctx, store.db, string(domain.StageDownloaded), downloaded)
	require.NoError(t, err)

	reparsed := &domain.Reference{Title: "Graph Attention Networks", Authors: []string{"Velickovic, P."}}
	id, reason, err := store.InsertSeed(ctx, reparsed, domain.StageNoMetadata)
	require.NoError(t, err)
	require.Empty(t, reason)
	require.NotZero(t, id)

	rows, err := store.FetchBatch(ctx, domain.StageNoMetadata, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

// TestTitleAuthorsMatchCaughtAcrossStagedTables is the companion case: the
// same title+authors appearing in another staged (non-terminal) table is
// still a duplicate.
func TestTitleAuthorsMatchCaughtAcrossStagedTables(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &domain.Reference{Title: "Graph Attention Networks", Authors: []string{"Velickovic, P."}}
	_, reason, err := store.InsertSeed(ctx, first, domain.StageWithMetadata)
	require.NoError(t, err)
	require.Empty(t, reason)

	second := &domain.Reference{Title: "Graph Attention Networks", Authors: []string{"Velickovic, P."}}
	id, reason, err := store.InsertSeed(ctx, second, domain.StageNoMetadata)
	require.NoError(t, err)
	require.Zero(t, id)
	require.Equal(t, InsertReason("duplicate_in_with_metadata"), reason)
}

// TestCheckIfExistsExcludesOnlyOwnRow models QueueBatch's self-check: a row
// re-checking its own identity after enrichment must exclude itself, but a
// sibling row with the same DOI still in the same excluded table must still
// be caught.
func TestCheckIfExistsExcludesOnlyOwnRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	self := &domain.Reference{Title: "Self", DOI: "10.1000/self"}
	selfID, _, err := store.InsertSeed(ctx, self, domain.StageWithMetadata)
	require.NoError(t, err)

	table, id, _, err := store.CheckIfExists(ctx, self, domain.StageWithMetadata, selfID)
	require.NoError(t, err)
	require.Empty(t, table)
	require.Zero(t, id)

	sibling := &domain.Reference{Title: "Sibling", DOI: "10.1000/self"}
	Normalize(sibling)
	siblingID, err := store.insertInto(ctx, store.db, string(domain.StageWithMetadata), sibling)
	require.NoError(t, err)

	table, id, _, err = store.CheckIfExists(ctx, self, domain.StageWithMetadata, selfID)
	require.NoError(t, err)
	require.Equal(t, domain.StageWithMetadata, table)
	require.Equal(t, siblingID, id)
}

func TestPromoteMovesRowAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref := &domain.Reference{Title: "Some Paper"}
	id, _, err := store.InsertSeed(ctx, ref, domain.StageNoMetadata)
	require.NoError(t, err)

	require.NoError(t, store.Promote(ctx, id, domain.StageNoMetadata, domain.StageWithMetadata, "", 0))

	noMeta, err := store.FetchBatch(ctx, domain.StageNoMetadata, 10)
	require.NoError(t, err)
	require.Empty(t, noMeta)

	withMeta, err := store.FetchBatch(ctx, domain.StageWithMetadata, 10)
	require.NoError(t, err)
	require.Len(t, withMeta, 1)
}

func TestRecordFailureSetsStatusNotes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref := &domain.Reference{Title: "Will Fail"}
	id, _, err := store.InsertSeed(ctx, ref, domain.StageNoMetadata)
	require.NoError(t, err)

	require.NoError(t, store.RecordFailure(ctx, id, domain.StageNoMetadata, "metadata_fetch_failed"))

	failed, err := store.FetchBatch(ctx, domain.StageFailedEnrichment, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "metadata_fetch_failed", failed[0].StatusNotes)
}
