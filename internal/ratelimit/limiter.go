// Package ratelimit implements per-service rate limiting over RPS/RPM/TPM/RPD
// sliding windows with cooperative backoff on quota errors.
//
// The one rule that matters for correctness under concurrency: a service's
// mutex is never held while this package sleeps. The original Python
// ServiceRateLimiter this is modeled on held its lock across time.sleep(),
// which serialized every other service behind whichever one was waiting.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/biblioctl/pipeline/internal/config"
)

const maxBackoff = 1 * time.Hour

// Registry owns one mutex-guarded state struct per service and is safe for
// concurrent use by any number of callers. It is created once at process
// startup and injected into the matcher and resolver — there is
// no package-level singleton.
type Registry struct {
	mu       sync.Mutex
	cfg      config.RateLimitConfig
	services map[string]*serviceState
	metrics  *Metrics
	now      func() time.Time
}

func NewRegistry(cfg config.RateLimitConfig, metrics *Metrics) *Registry {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Registry{
		cfg:      cfg,
		services: make(map[string]*serviceState),
		metrics:  metrics,
		now:      time.Now,
	}
}

type tokenEntry struct {
	at     time.Time
	tokens int
}

type serviceState struct {
	mu sync.Mutex

	limit config.ServiceLimit

	rps []time.Time
	rpm []time.Time
	rpd []time.Time
	tpm []tokenEntry

	currentDay         string
	dailyLimitExceeded bool

	quotaExceeded bool
	quotaResetAt  time.Time
	backoff       time.Duration
}

func (r *Registry) stateFor(service string) *serviceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.services[service]; ok {
		return st
	}
	limit, ok := r.cfg.Services[service]
	if !ok {
		limit = r.cfg.Default
	}
	st := &serviceState{limit: limit, backoff: time.Second}
	r.services[service] = st
	return st
}

// Acquire blocks until a request to service may proceed under the
// configured windows, or returns false if the daily quota is already spent
// for the remainder of the UTC day. A false return is non-blocking and
// means: skip this fetch, do not retry until the caller's own policy allows.
func (r *Registry) Acquire(ctx context.Context, service string, estimatedTokens int) (bool, error) {
	st := r.stateFor(service)
	st.mu.Lock()

	today := r.now().UTC().Format("2006-01-02")
	if st.limit.RPD > 0 && st.currentDay != today {
		st.currentDay = today
		st.rpd = nil
		st.dailyLimitExceeded = false
	}

	if st.dailyLimitExceeded {
		st.mu.Unlock()
		r.metrics.observeAcquire(service, "daily_quota_exhausted")
		return false, nil
	}

	purgeExpired(&st.rps, r.now(), time.Second)
	purgeExpired(&st.rpm, r.now(), time.Minute)
	purgeExpired(&st.rpd, r.now(), 24*time.Hour)
	purgeExpiredTokens(&st.tpm, r.now(), time.Minute)

	if st.quotaExceeded {
		now := r.now()
		if now.Before(st.quotaResetAt) {
			wait := st.quotaResetAt.Sub(now)
			st.mu.Unlock()
			if err := sleepCtx(ctx, wait); err != nil {
				return false, err
			}
			st.mu.Lock()
		}
		st.quotaExceeded = false
		st.backoff = time.Second
	}

	for {
		wait, ok := st.waitNeeded(r.now())
		if !ok {
			break
		}
		st.mu.Unlock()
		if err := sleepCtx(ctx, wait); err != nil {
			return false, err
		}
		st.mu.Lock()
		purgeExpired(&st.rps, r.now(), time.Second)
		purgeExpired(&st.rpm, r.now(), time.Minute)
		purgeExpiredTokens(&st.tpm, r.now(), time.Minute)
	}

	now := r.now()
	if st.limit.RPS > 0 {
		st.rps = append(st.rps, now)
	}
	if st.limit.RPM > 0 {
		st.rpm = append(st.rpm, now)
	}
	if st.limit.RPD > 0 {
		st.rpd = append(st.rpd, now)
		if len(st.rpd) >= st.limit.RPD {
			st.dailyLimitExceeded = true
		}
	}
	if st.limit.TPM > 0 {
		st.tpm = append(st.tpm, tokenEntry{at: now, tokens: estimatedTokens})
	}
	st.mu.Unlock()

	r.metrics.observeAcquire(service, "granted")
	return true, nil
}

// waitNeeded returns the minimal duration to wait for the first window
// (RPS, then RPM, then TPM, checked in that order) that would otherwise be
// exceeded by one more request. Caller must hold st.mu.
func (st *serviceState) waitNeeded(now time.Time) (time.Duration, bool) {
	if st.limit.RPS > 0 && len(st.rps) >= st.limit.RPS {
		return waitFor(st.rps[0], time.Second, now), true
	}
	if st.limit.RPM > 0 && len(st.rpm) >= st.limit.RPM {
		return waitFor(st.rpm[0], time.Minute, now), true
	}
	if st.limit.TPM > 0 {
		sum := 0
		for _, e := range st.tpm {
			sum += e.tokens
		}
		if sum >= st.limit.TPM && len(st.tpm) > 0 {
			return waitFor(st.tpm[0].at, time.Minute, now), true
		}
	}
	return 0, false
}

func waitFor(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	d := oldest.Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func purgeExpired(deque *[]time.Time, now time.Time, window time.Duration) {
	d := *deque
	i := 0
	for i < len(d) && now.Sub(d[i]) > window {
		i++
	}
	*deque = d[i:]
}

func purgeExpiredTokens(deque *[]tokenEntry, now time.Time, window time.Duration) {
	d := *deque
	i := 0
	for i < len(d) && now.Sub(d[i].at) > window {
		i++
	}
	*deque = d[i:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QuotaError indicates a provider signaled quota exhaustion (HTTP 429 or an
// equivalent "resource exhausted" response).
type QuotaError struct {
	Service string
}

func (e *QuotaError) Error() string { return fmt.Sprintf("quota exhausted for service %q", e.Service) }

// ReportError records an error from a call to service. Quota errors arm the
// backoff/reset-time state; other errors are ignored (the caller's own retry
// policy handles transient network failures).
func (r *Registry) ReportError(service string, err error) {
	var qerr *QuotaError
	if !errors.As(err, &qerr) {
		return
	}
	st := r.stateFor(service)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.quotaExceeded = true
	st.quotaResetAt = r.now().Add(st.backoff)
	st.backoff *= 2
	if st.backoff > maxBackoff {
		st.backoff = maxBackoff
	}
	r.metrics.observeAcquire(service, "quota_error")
}

// ReportSuccess resets a service's backoff counter to its floor.
func (r *Registry) ReportSuccess(service string) {
	st := r.stateFor(service)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.backoff = time.Second
}
