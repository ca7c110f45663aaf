package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"DataHarvester/internal/metrics"
)

const defaultSafetyMargin = 0.2

// Limiter is the single shared admission gate for all outbound API calls.
// Tokens replenish continuously at calls/period, reduced by the safety margin
// below the externally documented limit. One instance is shared by every
// concurrent extractor in the process.
type Limiter struct {
	lim *rate.Limiter
}

// New builds a limiter for the documented budget of calls per period. The
// safety margin is a fraction in [0, 1); out-of-range values fall back to the
// default of 0.2.
func New(calls int, period time.Duration, safetyMargin float64) *Limiter {
	if calls <= 0 {
		calls = 1
	}
	if period <= 0 {
		period = time.Second
	}
	if safetyMargin < 0 || safetyMargin >= 1 {
		safetyMargin = defaultSafetyMargin
	}

	effective := float64(calls) * (1 - safetyMargin) / period.Seconds()
	if effective <= 0 {
		effective = 1
	}

	// Burst of one keeps the observed call rate under the budget within any
	// rolling window, not just on average.
	return &Limiter{lim: rate.NewLimiter(rate.Limit(effective), 1)}
}

// Acquire blocks until a token is available or the context is cancelled.
// It is safe for concurrent callers.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	err := l.lim.Wait(ctx)
	metrics.LimiterWaitSeconds.Observe(time.Since(start).Seconds())
	return err
}

// Rate reports the effective tokens-per-second after the safety margin.
func (l *Limiter) Rate() float64 {
	return float64(l.lim.Limit())
}
