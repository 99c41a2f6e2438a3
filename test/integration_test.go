//go:build integration

package test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/harrier/internal/fetch"
	"github.com/FranksOps/harrier/internal/identity"
	"github.com/FranksOps/harrier/internal/scraper"
	"github.com/FranksOps/harrier/internal/storage"
	"github.com/FranksOps/harrier/pkg/pacing"
)

// mockBackend is an in-memory storage.Backend for verifying captures
type mockBackend struct {
	mu       sync.Mutex
	captures []*storage.Capture
}

func (m *mockBackend) Save(ctx context.Context, c *storage.Capture) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = append(m.captures, c)
	return nil
}
func (m *mockBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures, nil
}
func (m *mockBackend) Close() error { return nil }

func serpPage(start int, next bool) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 10; i++ {
		k := start + i
		fmt.Fprintf(&b,
			`<div class="g"><a href="https://result%d.example.org/"><h3>Result %d</h3></a><div class="VwiC3b">Snippet %d</div></div>`,
			k, k, k)
	}
	if next {
		fmt.Fprintf(&b, `<a id="pnnext" href="/search?start=%d">Next</a>`, start+10)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func fastPacer() *pacing.Controller {
	return pacing.NewController(pacing.Config{
		BaseMin:    time.Millisecond,
		BaseMax:    2 * time.Millisecond,
		ExtraMin:   time.Millisecond,
		ExtraMax:   2 * time.Millisecond,
		BackoffMin: time.Millisecond,
		BackoffMax: 2 * time.Millisecond,
	})
}

func TestIntegration_SearchWithSoftBlockRecovery(t *testing.T) {
	var requests atomic.Int64
	var sawUserAgents sync.Map

	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		sawUserAgents.Store(r.Header.Get("User-Agent"), true)

		if r.Header.Get("User-Agent") == "" {
			t.Error("request without User-Agent")
		}
		if !strings.Contains(r.Header.Get("Cookie"), "CONSENT=YES") {
			t.Errorf("request without consent cookie: %q", r.Header.Get("Cookie"))
		}

		// The very first request runs into the rate limiter.
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, "Our systems have detected unusual traffic from your computer network.")
			return
		}

		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, serpPage(start, start == 0))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	backend := &mockBackend{}
	ids := identity.NewProvider(identity.Config{Domains: []string{server.URL}})
	primary := fetch.NewHTTPStrategy(fetch.HTTPConfig{PlainTLS: true, Timeout: 5 * time.Second})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := scraper.NewEngine(scraper.Config{Backend: backend}, ids, fastPacer(), primary, nil, logger)

	results, err := engine.Search(context.Background(), "integration probe", 20)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 20 {
		t.Fatalf("expected 20 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Position != i+1 {
			t.Errorf("expected position %d, got %d", i+1, r.Position)
		}
		if r.Source != "http" {
			t.Errorf("expected source http, got %s", r.Source)
		}
	}

	// One blocked request plus two served pages.
	if got := requests.Load(); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}

	// The retry after the soft block must not reuse the blocked fingerprint.
	uas := 0
	sawUserAgents.Range(func(_, _ any) bool { uas++; return true })
	if uas < 2 {
		t.Errorf("expected rotated user agents, saw %d distinct", uas)
	}

	// Every attempt is archived, including the blocked one.
	captures, _ := backend.Query(context.Background(), storage.Filter{})
	if len(captures) != 3 {
		t.Fatalf("expected 3 captures, got %d", len(captures))
	}
	var blocked int
	for _, c := range captures {
		if c.Outcome == "soft_block" {
			blocked++
			if c.BlockReason != "rate_limited" {
				t.Errorf("expected rate_limited reason, got %s", c.BlockReason)
			}
		}
	}
	if blocked != 1 {
		t.Errorf("expected 1 soft_block capture, got %d", blocked)
	}
}

func TestIntegration_FindSimilar(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if !strings.Contains(q, "subject.com") {
			t.Errorf("unexpected probe query %q", q)
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body>
			<a href="https://www.google.com/search?q=x">more</a>
			<a href="https://rival-a.com/">A</a>
			<a href="https://www.rival-b.net/about">B</a>
			<a href="https://subject.com/">self</a>
		</body></html>`)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	ids := identity.NewProvider(identity.Config{Domains: []string{server.URL}})
	primary := fetch.NewHTTPStrategy(fetch.HTTPConfig{PlainTLS: true, Timeout: 5 * time.Second})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := scraper.NewEngine(scraper.Config{}, ids, fastPacer(), primary, nil, logger)

	domains, err := engine.FindSimilar(context.Background(), "www.subject.com")
	if err != nil {
		t.Fatalf("findSimilar failed: %v", err)
	}
	if len(domains) != 2 {
		t.Fatalf("expected 2 domains, got %d: %v", len(domains), domains)
	}
	if domains[0] != "rival-a.com" || domains[1] != "rival-b.net" {
		t.Errorf("unexpected domains: %v", domains)
	}
}
