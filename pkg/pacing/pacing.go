package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Config defines the delay ranges for a Controller. Zero values fall back
// to defaults that mimic a human browsing cadence.
type Config struct {
	// BaseMin/BaseMax bound the uniform inter-page delay.
	BaseMin time.Duration
	BaseMax time.Duration
	// ExtraMin/ExtraMax bound the occasional supplemental delay, applied
	// with probability ExtraProb on top of the base delay.
	ExtraMin  time.Duration
	ExtraMax  time.Duration
	ExtraProb float64
	// BackoffMin/BackoffMax bound the post-block backoff delay. Must sit
	// above the inter-page range in expectation so a blocked session slows
	// down noticeably.
	BackoffMin time.Duration
	BackoffMax time.Duration
	// Rand overrides the random source, primarily for tests.
	Rand *rand.Rand
}

// Controller computes jittered inter-request delays and post-block backoff
// intervals. Centralizing delay policy here keeps sleeping out of loop
// bodies and makes the cadence independently testable.
// It is safe for concurrent use.
type Controller struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewController creates a Controller, filling zero config values with
// defaults.
func NewController(cfg Config) *Controller {
	if cfg.BaseMin <= 0 {
		cfg.BaseMin = 1500 * time.Millisecond
	}
	if cfg.BaseMax <= cfg.BaseMin {
		cfg.BaseMax = 4 * time.Second
	}
	if cfg.ExtraMin <= 0 {
		cfg.ExtraMin = 1 * time.Second
	}
	if cfg.ExtraMax <= cfg.ExtraMin {
		cfg.ExtraMax = 3 * time.Second
	}
	if cfg.ExtraProb <= 0 || cfg.ExtraProb > 1 {
		cfg.ExtraProb = 0.2
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 4 * time.Second
	}
	if cfg.BackoffMax <= cfg.BackoffMin {
		cfg.BackoffMax = 8 * time.Second
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Controller{cfg: cfg, rng: rng}
}

// InterPageDelay returns the delay to observe between consecutive result
// pages: a uniform draw from the base range, occasionally topped up with a
// supplemental delay so the cadence is not detectably uniform.
func (c *Controller) InterPageDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.uniform(c.cfg.BaseMin, c.cfg.BaseMax)
	if c.rng.Float64() < c.cfg.ExtraProb {
		d += c.uniform(c.cfg.ExtraMin, c.cfg.ExtraMax)
	}
	return d
}

// BackoffDelay returns the delay to observe after a soft block before
// retrying. The range is coarser than the inter-page range and grows
// mildly with the attempt number so repeated blocks slow the session
// further.
func (c *Controller) BackoffDelay(attempt int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.uniform(c.cfg.BackoffMin, c.cfg.BackoffMax)
	if attempt > 1 {
		d += time.Duration(attempt-1) * time.Second
	}
	return d
}

// Sleep suspends for d or until the context is canceled. This is the single
// intentional blocking point tied to request pacing.
func (c *Controller) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// uniform draws from [min, max). Caller must hold c.mu.
func (c *Controller) uniform(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(c.rng.Int63n(int64(max-min)))
}
