// Package matcher implements the reference matcher's OpenAlex/Crossref
// search cascade and fuzzy author-matching selection (spec.md §4.3).
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/biblioctl/pipeline/internal/config"
	"github.com/biblioctl/pipeline/internal/domain"
	"github.com/biblioctl/pipeline/internal/ratelimit"
	"github.com/biblioctl/pipeline/internal/storage"
	"github.com/biblioctl/pipeline/pkg/crossref"
	"github.com/biblioctl/pipeline/pkg/openalex"
)

const (
	serviceOpenAlex = "openalex"
	serviceCrossref = "crossref"

	batchSize = 50
)

// ErrNoMatch is returned when no candidate cleared the acceptance threshold;
// callers move the reference to failed_enrichments with this as the reason.
var ErrNoMatch = errors.New("metadata_fetch_failed")

// Options controls the enrichment payload beyond the bare match.
type Options struct {
	FetchReferences bool
	FetchCitations  bool
	MaxCitations    int
}

type Matcher struct {
	openalex *openalex.Client
	crossref *crossref.Client
	limiter  *ratelimit.Registry
	cfg      config.MatcherConfig
}

func New(oa *openalex.Client, cr *crossref.Client, limiter *ratelimit.Registry, cfg config.MatcherConfig) *Matcher {
	return &Matcher{openalex: oa, crossref: cr, limiter: limiter, cfg: cfg}
}

// candidate is one pool entry: an OpenAlex-shaped work plus the step that
// first produced it and its computed author-match score.
type candidate struct {
	work             *openalex.Work
	firstFoundInStep int
	authorScore      float64
}

// Match runs the ten-step search cascade against ref's identity fields and
// returns an enriched Reference on success, or ErrNoMatch if nothing cleared
// the acceptance threshold.
func (m *Matcher) Match(ctx context.Context, ref *domain.Reference, opts Options) (*domain.Reference, error) {
	// Step 0: DOI lookup accepts immediately, no author scoring.
	if ref.DOI != "" {
		normalizedDOI := storage.NormalizeDOI(ref.DOI)
		works, err := m.callOpenAlex(ctx, func() ([]*openalex.Work, error) {
			return m.openalex.FilterDOI(ctx, normalizedDOI)
		})
		if err != nil {
			return nil, err
		}
		if len(works) > 0 {
			return m.buildEnriched(ctx, ref, works[0], opts)
		}
	}

	pool := make(map[string]*candidate)
	container := ref.Journal

	addAll := func(works []*openalex.Work, step int) {
		for _, w := range works {
			key := w.ID
			if key == "" {
				key = "crossref:" + w.DOI
			}
			if key == "" || key == "crossref:" {
				continue
			}
			if _, exists := pool[key]; !exists {
				pool[key] = &candidate{work: w, firstFoundInStep: step}
			}
		}
	}

	if ref.Title != "" {
		if ref.Year != nil {
			for step, mode := range []openalex.QuoteMode{openalex.ExactDisplayName, openalex.SearchQuoted, openalex.SearchUnquoted} {
				works, err := m.callOpenAlex(ctx, func() ([]*openalex.Work, error) {
					return m.openalex.FilterTitleYear(ctx, ref.Title, container, ref.Year, mode)
				})
				if err != nil {
					return nil, err
				}
				addAll(works, step+1) // steps 1-3
			}
		}
		for step, mode := range []openalex.QuoteMode{openalex.ExactDisplayName, openalex.SearchQuoted, openalex.SearchUnquoted} {
			works, err := m.callOpenAlex(ctx, func() ([]*openalex.Work, error) {
				return m.openalex.FilterTitleYear(ctx, ref.Title, container, nil, mode)
			})
			if err != nil {
				return nil, err
			}
			addAll(works, step+4) // steps 4-6
		}

		works, err := m.callOpenAlex(ctx, func() ([]*openalex.Work, error) {
			return m.openalex.Search(ctx, ref.Title)
		})
		if err != nil {
			return nil, err
		}
		addAll(works, 7)
	}

	crossrefWorks, err := m.callCrossref(ctx, func() ([]*openalex.Work, error) {
		return m.crossref.Search(ctx, ref.Title, container, ref.Year)
	})
	if err != nil {
		return nil, err
	}
	addAll(crossrefWorks, 8)

	if ref.Title == "" && container != "" {
		works, err := m.callOpenAlex(ctx, func() ([]*openalex.Work, error) {
			return m.openalex.Search(ctx, container)
		})
		if err != nil {
			return nil, err
		}
		addAll(works, 9)
	}

	// Feed Crossref DOIs back into step 0 for OpenAlex promotion.
	for _, c := range pool {
		if c.firstFoundInStep != 8 || c.work.DOI == "" {
			continue
		}
		promoted, err := m.callOpenAlex(ctx, func() ([]*openalex.Work, error) {
			return m.openalex.FilterDOI(ctx, storage.NormalizeDOI(c.work.DOI))
		})
		if err != nil {
			return nil, err
		}
		if len(promoted) > 0 && promoted[0].ID != "" {
			if _, exists := pool[promoted[0].ID]; !exists {
				pool[promoted[0].ID] = &candidate{work: promoted[0], firstFoundInStep: c.firstFoundInStep}
			}
		}
	}

	if len(pool) == 0 {
		return nil, ErrNoMatch
	}

	for _, c := range pool {
		c.authorScore = authorMatchScore(ref.Authors, ref.Editors, c.work.Authors)
	}

	best := selectBest(pool, ref, m.cfg.TieClusterWidth)
	if best == nil || best.authorScore <= m.cfg.AcceptThreshold {
		return nil, ErrNoMatch
	}
	return m.buildEnriched(ctx, ref, best.work, opts)
}

// selectBest implements spec.md §4.3's selection/tie-break rule: sort by
// (-author_score, first_found_in_step); within 0.05 of the top score prefer
// exact normalized-title equality, then minimal year distance, then lower
// step.
func selectBest(pool map[string]*candidate, ref *domain.Reference, tieWidth float64) *candidate {
	cands := make([]*candidate, 0, len(pool))
	for _, c := range pool {
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].authorScore != cands[j].authorScore {
			return cands[i].authorScore > cands[j].authorScore
		}
		return cands[i].firstFoundInStep < cands[j].firstFoundInStep
	})
	if len(cands) == 0 {
		return nil
	}

	top := cands[0].authorScore
	var cluster []*candidate
	for _, c := range cands {
		if top-c.authorScore <= tieWidth {
			cluster = append(cluster, c)
		}
	}
	if len(cluster) == 1 {
		return cluster[0]
	}

	refTitle := storage.NormalizeTitle(ref.Title)
	sort.SliceStable(cluster, func(i, j int) bool {
		ti := storage.NormalizeTitle(cluster[i].work.Title) == refTitle
		tj := storage.NormalizeTitle(cluster[j].work.Title) == refTitle
		if ti != tj {
			return ti
		}
		di, dj := yearDistance(ref.Year, cluster[i].work.Year), yearDistance(ref.Year, cluster[j].work.Year)
		if di != dj {
			return di < dj
		}
		return cluster[i].firstFoundInStep < cluster[j].firstFoundInStep
	})
	return cluster[0]
}

func yearDistance(a, b *int) int {
	if a == nil || b == nil {
		return 1 << 30
	}
	d := *a - *b
	if d < 0 {
		d = -d
	}
	return d
}

func (m *Matcher) buildEnriched(ctx context.Context, ref *domain.Reference, w *openalex.Work, opts Options) (*domain.Reference, error) {
	out := *ref
	out.Title = w.Title
	if len(w.Authors) > 0 {
		out.Authors = w.Authors
	}
	if w.Year != nil {
		out.Year = w.Year
	}
	if w.DOI != "" {
		out.DOI = w.DOI
	}
	if w.ID != "" {
		out.OpenAlexID = w.ID
	}
	if w.Abstract != "" {
		out.Abstract = w.Abstract
	}
	if w.Journal != "" {
		out.Journal = w.Journal
	}
	if w.Volume != "" {
		out.Volume = w.Volume
	}
	if w.Issue != "" {
		out.Issue = w.Issue
	}
	if w.Pages != "" {
		out.Pages = w.Pages
	}
	if w.Publisher != "" {
		out.Publisher = w.Publisher
	}
	if w.URLSource != "" {
		out.URLSource = w.URLSource
	}
	out.MetadataSourceType = "openalex"

	if opts.FetchReferences && len(w.ReferencedWorks) > 0 {
		out.ReferencedWorks = w.ReferencedWorks
	}

	if opts.FetchCitations && opts.MaxCitations > 0 && w.CitedByAPIURL != "" {
		citing, err := m.openalex.PaginateCitedBy(ctx, w.CitedByAPIURL, 100, opts.MaxCitations)
		if err == nil {
			out.CitingWorks = citing
		}
	}

	return &out, nil
}

// GetWorksByIDs fetches referenced-work details in batches of at most 50,
// as spec.md §4.3 requires, and returns them merged in request order.
func (m *Matcher) GetWorksByIDs(ctx context.Context, ids []string) ([]*openalex.Work, error) {
	var out []*openalex.Work
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		works, err := m.callOpenAlex(ctx, func() ([]*openalex.Work, error) {
			return m.openalex.GetWorksByIDs(ctx, ids[i:end])
		})
		if err != nil {
			return out, err
		}
		out = append(out, works...)
	}
	return out, nil
}

// callOpenAlex wraps an OpenAlex call with the rate limiter and a bounded
// exponential-backoff retry on timeouts/5xx, per spec.md §4.3's failure
// semantics.
func (m *Matcher) callOpenAlex(ctx context.Context, fn func() ([]*openalex.Work, error)) ([]*openalex.Work, error) {
	return withRateLimitRetry(ctx, m.limiter, serviceOpenAlex, fn, isOpenAlexQuota)
}

func (m *Matcher) callCrossref(ctx context.Context, fn func() ([]*openalex.Work, error)) ([]*openalex.Work, error) {
	return withRateLimitRetry(ctx, m.limiter, serviceCrossref, fn, isCrossrefQuota)
}

const maxCascadeRetries = 3

func withRateLimitRetry(ctx context.Context, limiter *ratelimit.Registry, service string, fn func() ([]*openalex.Work, error), isQuota func(error) bool) ([]*openalex.Work, error) {
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxCascadeRetries; attempt++ {
		ok, err := limiter.Acquire(ctx, service, 0)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil // daily quota exhausted: skip this step, not a hard failure
		}

		works, err := fn()
		if err == nil {
			limiter.ReportSuccess(service)
			return works, nil
		}
		lastErr = err
		if isQuota(err) {
			limiter.ReportError(service, &ratelimit.QuotaError{Service: service})
		}

		// A non-retryable HTTP failure (a 4xx other than 429) skips this
		// step without aborting the cascade.
		if !isRetryable(err) {
			return nil, nil
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%s: exhausted retries: %w", service, lastErr)
}

func isRetryable(err error) bool {
	var oaErr *openalex.HTTPError
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode == 429 || oaErr.StatusCode >= 500
	}
	var crErr *crossref.HTTPError
	if errors.As(err, &crErr) {
		return crErr.StatusCode == 429 || crErr.StatusCode >= 500
	}
	return true // network/timeout errors are always worth a bounded retry
}

func isOpenAlexQuota(err error) bool {
	var e *openalex.HTTPError
	return errors.As(err, &e) && e.StatusCode == 429
}

func isCrossrefQuota(err error) bool {
	var e *crossref.HTTPError
	return errors.As(err, &e) && e.StatusCode == 429
}
