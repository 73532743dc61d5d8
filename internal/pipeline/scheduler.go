// Package pipeline implements the scheduler that drains each stage table in
// batches, owns the download stage's bounded worker pool, and reports
// per-stage counters (spec.md §4.5).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/biblioctl/pipeline/internal/domain"
	"github.com/biblioctl/pipeline/internal/matcher"
	"github.com/biblioctl/pipeline/internal/storage"
)

// Counters is the outcome tally every stage-driving loop returns.
type Counters struct {
	Processed        int
	Promoted         int
	Failed           int
	SkippedDuplicate int
}

// Matcher is the slice of *matcher.Matcher the scheduler depends on; kept
// as an interface so tests can drive enrich_batch without live HTTP calls.
type Matcher interface {
	Match(ctx context.Context, ref *domain.Reference, opts matcher.Options) (*domain.Reference, error)
}

// Resolver is the slice of *resolver.Resolver the scheduler depends on.
type Resolver interface {
	Resolve(ctx context.Context, ref *domain.Reference) (path, checksum, sourceTag string, err error)
}

type Scheduler struct {
	store    *storage.Store
	matcher  Matcher
	resolver Resolver
}

func New(store *storage.Store, m Matcher, r Resolver) *Scheduler {
	return &Scheduler{store: store, matcher: m, resolver: r}
}

// EnrichBatch implements spec.md §4.5's enrich_batch loop: fetch up to limit
// rows from no_metadata, run the matcher against each, promote or fail.
func (s *Scheduler) EnrichBatch(ctx context.Context, limit int) (Counters, error) {
	var c Counters
	rows, err := s.store.FetchBatch(ctx, domain.StageNoMetadata, limit)
	if err != nil {
		return c, fmt.Errorf("fetch no_metadata batch: %w", err)
	}

	for _, ref := range rows {
		if ctx.Err() != nil {
			return c, ctx.Err()
		}
		c.Processed++
		start := time.Now()

		enriched, err := s.matcher.Match(ctx, ref, matcher.Options{FetchReferences: true})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return c, err
			}
			if ferr := s.store.RecordFailure(ctx, ref.ID, domain.StageNoMetadata, "metadata_fetch_failed"); ferr != nil {
				return c, ferr
			}
			c.Failed++
			log.Printf("enrich ref=%d stage=no_metadata outcome=failed reason=metadata_fetch_failed duration=%s", ref.ID, time.Since(start))
			continue
		}

		if err := s.store.PromoteWithPayload(ctx, ref.ID, domain.StageNoMetadata, domain.StageWithMetadata, enriched); err != nil {
			return c, fmt.Errorf("promote ref %d to with_metadata: %w", ref.ID, err)
		}
		c.Promoted++
		log.Printf("enrich ref=%d stage=no_metadata outcome=promoted source=openalex duration=%s", ref.ID, time.Since(start))
	}
	return c, nil
}

// QueueBatch implements spec.md §4.5's queue_batch loop: a fresh duplicate
// check against every live stage before the with_metadata -> to_download
// move, since the world may have changed since enrichment.
func (s *Scheduler) QueueBatch(ctx context.Context, limit int) (Counters, error) {
	var c Counters
	rows, err := s.store.FetchBatch(ctx, domain.StageWithMetadata, limit)
	if err != nil {
		return c, fmt.Errorf("fetch with_metadata batch: %w", err)
	}

	for _, ref := range rows {
		if ctx.Err() != nil {
			return c, ctx.Err()
		}
		c.Processed++
		start := time.Now()

		table, id, field, err := s.store.CheckIfExists(ctx, ref, domain.StageWithMetadata, ref.ID)
		if err != nil {
			return c, fmt.Errorf("duplicate check ref %d: %w", ref.ID, err)
		}
		if table != "" {
			if err := s.store.RecordDuplicateAndRemove(ctx, ref, domain.StageWithMetadata, ref.ID, table, id, field); err != nil {
				return c, fmt.Errorf("record duplicate ref %d: %w", ref.ID, err)
			}
			c.SkippedDuplicate++
			log.Printf("queue ref=%d stage=with_metadata outcome=duplicate matched_table=%s duration=%s", ref.ID, table, time.Since(start))
			continue
		}

		if err := s.store.Promote(ctx, ref.ID, domain.StageWithMetadata, domain.StageToDownload, "", 0); err != nil {
			return c, fmt.Errorf("promote ref %d to to_download_references: %w", ref.ID, err)
		}
		c.Promoted++
		log.Printf("queue ref=%d stage=with_metadata outcome=queued duration=%s", ref.ID, time.Since(start))
	}
	return c, nil
}

// DownloadBatch implements spec.md §4.5's download_batch loop: a bounded
// worker pool draining to_download_references concurrently. Every worker
// holds at most one reference at a time; stage transitions stay serial and
// atomic per reference via the storage layer's own transactions.
func (s *Scheduler) DownloadBatch(ctx context.Context, limit, concurrency int) (Counters, error) {
	var c Counters
	rows, err := s.store.FetchBatch(ctx, domain.StageToDownload, limit)
	if err != nil {
		return c, fmt.Errorf("fetch to_download_references batch: %w", err)
	}
	if len(rows) == 0 {
		return c, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	results := make(chan workerResult, len(rows))

	// errgroup carries cancellation to every worker on ctx's own expiry; it
	// is deliberately not asked to stop on a single worker's error, since a
	// per-reference download failure must not abort its siblings.
	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range rows {
		ref := ref
		if err := sem.Acquire(gctx, 1); err != nil {
			results <- workerResult{ref: ref, err: err}
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			// A panic inside one worker is trapped here: the reference is
			// recorded as failed and its siblings keep running.
			defer func() {
				if p := recover(); p != nil {
					perr := fmt.Errorf("worker panic: %v", p)
					if ferr := s.store.RecordFailure(gctx, ref.ID, domain.StageToDownload, "download_failed"); ferr != nil {
						perr = ferr
					}
					results <- workerResult{ref: ref, err: perr}
				}
			}()
			results <- s.downloadOne(gctx, ref)
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	for res := range results {
		c.Processed++
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) {
				c.Failed++
				continue
			}
			c.Failed++
			log.Printf("download ref=%d stage=to_download_references outcome=failed reason=%v", res.ref.ID, res.err)
			continue
		}
		c.Promoted++
		log.Printf("download ref=%d stage=to_download_references outcome=downloaded source=%s", res.ref.ID, res.source)
	}
	return c, nil
}

type workerResult struct {
	ref    *domain.Reference
	source string
	err    error
}

func (s *Scheduler) downloadOne(ctx context.Context, ref *domain.Reference) workerResult {
	path, checksum, source, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		if ferr := s.store.RecordFailure(ctx, ref.ID, domain.StageToDownload, "download_failed"); ferr != nil {
			return workerResult{ref: ref, err: ferr}
		}
		return workerResult{ref: ref, err: err}
	}

	if err := s.store.PromoteDownloaded(ctx, ref.ID, path, checksum, source); err != nil {
		return workerResult{ref: ref, err: err}
	}
	return workerResult{ref: ref, source: source}
}
