package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// Limiter enforces a minimum interval between operations with optional
// jitter. It is intended as a deployment-level guard in front of the
// per-session pacing; a zero-rate limiter never blocks.
// Safe for concurrent use.
type Limiter struct {
	ticker   *time.Ticker
	ch       <-chan time.Time
	interval time.Duration
	jitter   float64
}

// NewLimiter creates a limiter allowing rps operations per second. jitter
// (0.0 to 1.0) randomizes each wait by up to that fraction of the interval.
// If rps <= 0 the limiter is a no-op.
func NewLimiter(rps float64, jitter float64) *Limiter {
	if rps <= 0 {
		return &Limiter{}
	}
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}

	interval := time.Duration(float64(time.Second) / rps)
	ticker := time.NewTicker(interval)
	return &Limiter{
		ticker:   ticker,
		ch:       ticker.C,
		interval: interval,
		jitter:   jitter,
	}
}

// Wait blocks until the next operation is allowed or the context is
// canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.ch == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ch:
	}

	if l.jitter <= 0 {
		return nil
	}

	// A ticker already enforces the minimum interval, so only positive
	// jitter is actionable; a negative draw means "go now".
	extra := time.Duration(float64(l.interval) * l.jitter * ((rand.Float64() * 2) - 1))
	if extra <= 0 {
		return nil
	}

	timer := time.NewTimer(extra)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stop releases the limiter's resources.
func (l *Limiter) Stop() {
	if l.ticker != nil {
		l.ticker.Stop()
	}
}
