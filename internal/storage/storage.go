package storage

import (
	"context"
	"time"
)

// Capture records one classified fetch attempt within a query execution:
// what was asked, how it was fetched, and how the block detector judged it.
type Capture struct {
	ID          string
	Query       string
	Mode        string // "search" or "similar"
	Page        int
	Strategy    string
	StatusCode  int
	Outcome     string // "ok", "soft_block", "hard_error"
	BlockReason string // detector reason for soft blocks
	Accepted    int    // results accepted into the set from this page
	BodySize    int64
	Duration    time.Duration
	CreatedAt   time.Time
	Error       string // non-empty if the fetch failed before a response
}

// Filter allows querying for specific Captures.
type Filter struct {
	Query   string
	Outcome string
	Since   *time.Time
	Limit   int
	Offset  int
}

// Backend defines the interface for archiving and querying captures.
type Backend interface {
	Save(ctx context.Context, c *Capture) error
	Query(ctx context.Context, filter Filter) ([]*Capture, error)
	Close() error
}
