package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/FranksOps/harrier/internal/storage"
)

func TestSQLiteBackend(t *testing.T) {
	// Use an in-memory database for testing
	b, err := New("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	c := &storage.Capture{
		ID:          "test1234",
		Query:       "site:example.com",
		Mode:        "search",
		Page:        0,
		Strategy:    "http",
		StatusCode:  200,
		Outcome:     "ok",
		BlockReason: "",
		Accepted:    8,
		BodySize:    51234,
		Duration:    50 * time.Millisecond,
		CreatedAt:   now,
		Error:       "",
	}

	if err := b.Save(ctx, c); err != nil {
		t.Fatalf("Failed to save capture: %v", err)
	}

	blocked := &storage.Capture{
		ID:          "test5678",
		Query:       "site:example.com",
		Mode:        "search",
		Page:        1,
		Strategy:    "http",
		StatusCode:  429,
		Outcome:     "soft_block",
		BlockReason: "rate_limited",
		CreatedAt:   now,
	}
	if err := b.Save(ctx, blocked); err != nil {
		t.Fatalf("Failed to save capture: %v", err)
	}

	got, err := b.Query(ctx, storage.Filter{Query: "site:example.com"})
	if err != nil {
		t.Fatalf("Failed to query captures: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 captures, got %d", len(got))
	}

	byKind, err := b.Query(ctx, storage.Filter{Outcome: "ok"})
	if err != nil {
		t.Fatalf("Failed to query captures: %v", err)
	}
	if len(byKind) != 1 {
		t.Fatalf("Expected 1 ok capture, got %d", len(byKind))
	}

	r := byKind[0]
	if r.ID != c.ID || r.Strategy != c.Strategy || r.Accepted != c.Accepted {
		t.Errorf("Capture round trip mismatch: %+v", r)
	}
	if r.Duration.Milliseconds() != c.Duration.Milliseconds() {
		t.Errorf("Expected duration %v, got %v", c.Duration, r.Duration)
	}
	if r.CreatedAt.Unix() != c.CreatedAt.Unix() {
		t.Errorf("Expected created_at %v, got %v", c.CreatedAt, r.CreatedAt)
	}

	past := now.Add(-1 * time.Hour)
	since, err := b.Query(ctx, storage.Filter{Since: &past})
	if err != nil {
		t.Fatalf("Failed to query with Since: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("Expected 2 captures since %v, got %d", past, len(since))
	}

	limited, err := b.Query(ctx, storage.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("Failed to query with Limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("Expected 1 capture with limit, got %d", len(limited))
	}
}
