// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// Pacer spaces requests to one upstream API and applies the fixed pause
// after a rate limit. A zero interval disables pacing.
type Pacer struct {
	limiter *rate.Limiter
	backoff time.Duration
}

// NewPacer returns a Pacer allowing one request per cfg.Interval.
func NewPacer(cfg types.PacingConfig) *Pacer {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Pacer{
		limiter: rate.NewLimiter(limit, 1),
		backoff: cfg.RateLimitBackoff,
	}
}

// Wait blocks until the next request may be sent.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Backoff sleeps for the configured rate-limit pause.
func (p *Pacer) Backoff(ctx context.Context) error {
	if p.backoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
