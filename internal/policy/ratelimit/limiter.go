// Package ratelimit paces outbound requests with per-host token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/iati-climate-dataset/internal/metrics"
	"github.com/JakeFAU/iati-climate-dataset/internal/pipeline"
)

// minObservedDelay filters out waits that were satisfied immediately.
const minObservedDelay = time.Millisecond

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. A non-positive RPS disables pacing.
type Config struct {
	RPS   float64
	Burst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := max(cfg.Burst, 1)
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the host of rawURL, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > minObservedDelay {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Fetcher paces a pipeline.Fetcher through a Limiter.
type Fetcher struct {
	next    pipeline.Fetcher
	limiter *Limiter
}

// WrapFetcher returns next unchanged when limiter is nil.
func WrapFetcher(next pipeline.Fetcher, limiter *Limiter) pipeline.Fetcher {
	if limiter == nil {
		return next
	}
	return &Fetcher{next: next, limiter: limiter}
}

// Fetch waits for a token for the request host and then delegates.
func (f *Fetcher) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	if err := f.limiter.Wait(ctx, request.URL); err != nil {
		return pipeline.FetchResponse{}, err
	}
	return f.next.Fetch(ctx, request)
}
