package scraper

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/harrier/internal/fetch"
	"github.com/FranksOps/harrier/internal/storage"
	"github.com/FranksOps/harrier/internal/storage/jsonbackend"
	"github.com/FranksOps/harrier/pkg/pacing"
)

// scriptedStrategy plays back a fixed sequence of responses and records
// every attempt it saw.
type scriptedStrategy struct {
	name string
	loop bool // repeat the last response once the script runs out

	mu     sync.Mutex
	script []scriptedResponse
	calls  []fetch.Attempt
}

type scriptedResponse struct {
	raw *fetch.RawResult
	err error
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) Fetch(ctx context.Context, a *fetch.Attempt) (*fetch.RawResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, *a)

	if len(s.script) == 0 {
		return nil, errors.New("script exhausted")
	}
	r := s.script[0]
	if len(s.script) > 1 || !s.loop {
		s.script = s.script[1:]
	}
	return r.raw, r.err
}

func (s *scriptedStrategy) attempts() []fetch.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fetch.Attempt, len(s.calls))
	copy(out, s.calls)
	return out
}

// resultsPage builds a minimal result page with n organic hits starting at
// index offset.
func resultsPage(n, offset int, next bool) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < n; i++ {
		k := offset + i
		fmt.Fprintf(&b,
			`<div class="g"><a href="https://site%d.example.com/page"><h3>Result %d</h3></a><div class="VwiC3b">Snippet %d</div></div>`,
			k, k, k)
	}
	if next {
		b.WriteString(`<a id="pnnext" href="/search?start=10">Next</a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func okResponse(html, finalURL string) scriptedResponse {
	return scriptedResponse{raw: &fetch.RawResult{
		StatusCode: 200,
		Body:       html,
		FinalURL:   finalURL,
		Duration:   5 * time.Millisecond,
	}}
}

func blockedResponse() scriptedResponse {
	return scriptedResponse{raw: &fetch.RawResult{
		StatusCode: 429,
		Body:       "slow down",
		Duration:   5 * time.Millisecond,
	}}
}

// fastPacer keeps test delays in the microsecond range.
func fastPacer() *pacing.Controller {
	return pacing.NewController(pacing.Config{
		BaseMin:    time.Microsecond,
		BaseMax:    2 * time.Microsecond,
		ExtraMin:   time.Microsecond,
		ExtraMax:   2 * time.Microsecond,
		BackoffMin: time.Microsecond,
		BackoffMax: 2 * time.Microsecond,
	})
}

func newTestEngine(cfg Config, primary, fallback fetch.Strategy) *Engine {
	return NewEngine(cfg, nil, fastPacer(), primary, fallback, nil)
}

func TestSearch_SinglePage(t *testing.T) {
	primary := &scriptedStrategy{
		name:   "http",
		script: []scriptedResponse{okResponse(resultsPage(10, 0, false), "https://www.google.com/search?q=test")},
	}
	e := newTestEngine(Config{}, primary, nil)

	results, err := e.Search(context.Background(), "test query", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("Expected 10 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Position != i+1 {
			t.Errorf("Expected position %d, got %d", i+1, r.Position)
		}
		if r.Source != "http" {
			t.Errorf("Expected source http, got %s", r.Source)
		}
		if r.Title == "" || r.Link == "" {
			t.Errorf("Result %d has empty title or link: %+v", i, r)
		}
	}
}

func TestSearch_LimitCapsResults(t *testing.T) {
	primary := &scriptedStrategy{
		name:   "http",
		script: []scriptedResponse{okResponse(resultsPage(10, 0, true), "")},
	}
	e := newTestEngine(Config{}, primary, nil)

	results, err := e.Search(context.Background(), "test query", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("Expected 5 results, got %d", len(results))
	}
	if len(primary.attempts()) != 1 {
		t.Errorf("Expected 1 fetch for limit 5, got %d", len(primary.attempts()))
	}
}

func TestSearch_Paginates(t *testing.T) {
	firstURL := "https://www.google.com/search?q=test+query"
	primary := &scriptedStrategy{
		name: "http",
		script: []scriptedResponse{
			okResponse(resultsPage(10, 0, true), firstURL),
			okResponse(resultsPage(10, 10, false), ""),
		},
	}
	e := newTestEngine(Config{}, primary, nil)

	results, err := e.Search(context.Background(), "test query", 20)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 20 {
		t.Fatalf("Expected 20 results, got %d", len(results))
	}

	calls := primary.attempts()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 fetches, got %d", len(calls))
	}
	if calls[0].Start != 0 || calls[1].Start != 10 {
		t.Errorf("Expected offsets 0 and 10, got %d and %d", calls[0].Start, calls[1].Start)
	}
	// The second page should carry the first as referer.
	if calls[1].Referer != firstURL {
		t.Errorf("Expected referer %q, got %q", firstURL, calls[1].Referer)
	}
	// First page, engine entry as referer.
	if !strings.HasSuffix(calls[0].Referer, "/") {
		t.Errorf("Expected entry-domain referer on first page, got %q", calls[0].Referer)
	}
}

func TestSearch_StopsWithoutNextPage(t *testing.T) {
	primary := &scriptedStrategy{
		name:   "http",
		script: []scriptedResponse{okResponse(resultsPage(7, 0, false), "")},
	}
	e := newTestEngine(Config{}, primary, nil)

	results, err := e.Search(context.Background(), "test query", 30)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 7 {
		t.Fatalf("Expected 7 results, got %d", len(results))
	}
	if len(primary.attempts()) != 1 {
		t.Errorf("Expected pagination to stop after 1 page, got %d fetches", len(primary.attempts()))
	}
}

func TestSearch_SoftBlockRotatesIdentityAndRetries(t *testing.T) {
	primary := &scriptedStrategy{
		name: "http",
		script: []scriptedResponse{
			blockedResponse(),
			okResponse(resultsPage(10, 0, false), ""),
		},
	}
	e := newTestEngine(Config{}, primary, nil)

	results, err := e.Search(context.Background(), "test query", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("Expected 10 results after retry, got %d", len(results))
	}

	calls := primary.attempts()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 fetch attempts, got %d", len(calls))
	}
	if calls[0].Identity.UserAgent == calls[1].Identity.UserAgent {
		t.Errorf("Expected a rotated User-Agent on retry, got the same: %s", calls[0].Identity.UserAgent)
	}
}

func TestSearch_EscalatesToFallback(t *testing.T) {
	primary := &scriptedStrategy{
		name:   "http",
		script: []scriptedResponse{blockedResponse(), blockedResponse()},
	}
	fallback := &scriptedStrategy{
		name:   "browser",
		script: []scriptedResponse{okResponse(resultsPage(10, 0, false), "")},
	}
	e := newTestEngine(Config{}, primary, fallback)

	results, err := e.Search(context.Background(), "test query", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("Expected 10 results via fallback, got %d", len(results))
	}
	if results[0].Source != "browser" {
		t.Errorf("Expected source browser after escalation, got %s", results[0].Source)
	}
	if got := len(primary.attempts()); got != 2 {
		t.Errorf("Expected primary to be tried twice before escalation, got %d", got)
	}
	if got := len(fallback.attempts()); got != 1 {
		t.Errorf("Expected 1 fallback fetch, got %d", got)
	}
}

func TestSearch_AbandonsWhenAllStrategiesBlocked(t *testing.T) {
	primary := &scriptedStrategy{name: "http", loop: true, script: []scriptedResponse{blockedResponse()}}
	fallback := &scriptedStrategy{name: "browser", loop: true, script: []scriptedResponse{blockedResponse()}}
	e := newTestEngine(Config{}, primary, fallback)

	results, err := e.Search(context.Background(), "test query", 10)
	if err != nil {
		t.Fatalf("Expected graceful degradation, got error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Expected 0 results, got %d", len(results))
	}
	if got := len(primary.attempts()); got != 2 {
		t.Errorf("Expected 2 primary attempts, got %d", got)
	}
	if got := len(fallback.attempts()); got != 2 {
		t.Errorf("Expected 2 fallback attempts, got %d", got)
	}
}

func TestSearch_FirstPageHardErrorYieldsEmpty(t *testing.T) {
	primary := &scriptedStrategy{
		name:   "http",
		script: []scriptedResponse{{err: errors.New("connection refused")}},
	}
	e := newTestEngine(Config{}, primary, nil)

	results, err := e.Search(context.Background(), "test query", 10)
	if err != nil {
		t.Fatalf("Expected graceful degradation, got error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Expected 0 results, got %d", len(results))
	}
}

func TestSearch_LaterPageHardErrorSkips(t *testing.T) {
	primary := &scriptedStrategy{
		name: "http",
		script: []scriptedResponse{
			okResponse(resultsPage(10, 0, true), ""),
			{err: errors.New("connection reset")},
			okResponse(resultsPage(10, 20, false), ""),
		},
	}
	e := newTestEngine(Config{}, primary, nil)

	results, err := e.Search(context.Background(), "test query", 30)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 20 {
		t.Fatalf("Expected 20 results across surviving pages, got %d", len(results))
	}

	calls := primary.attempts()
	if len(calls) != 3 {
		t.Fatalf("Expected 3 fetches, got %d", len(calls))
	}
	if calls[2].Start != 20 {
		t.Errorf("Expected third fetch at offset 20, got %d", calls[2].Start)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	e := newTestEngine(Config{}, &scriptedStrategy{name: "http"}, nil)
	if _, err := e.Search(context.Background(), "   ", 10); err == nil {
		t.Fatal("Expected error for empty query")
	}
}

func TestSearch_ArchivesCaptures(t *testing.T) {
	backend, err := jsonbackend.New(filepath.Join(t.TempDir(), "captures.jsonl"))
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	defer backend.Close()

	primary := &scriptedStrategy{
		name: "http",
		script: []scriptedResponse{
			blockedResponse(),
			okResponse(resultsPage(10, 0, false), ""),
		},
	}
	e := newTestEngine(Config{Backend: backend}, primary, nil)

	if _, err := e.Search(context.Background(), "archive me", 10); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	captures, err := backend.Query(context.Background(), storage.Filter{Query: "archive me"})
	if err != nil {
		t.Fatalf("Failed to query captures: %v", err)
	}
	if len(captures) != 2 {
		t.Fatalf("Expected 2 captures, got %d", len(captures))
	}

	blocked, err := backend.Query(context.Background(), storage.Filter{Outcome: "soft_block"})
	if err != nil {
		t.Fatalf("Failed to query captures: %v", err)
	}
	if len(blocked) != 1 {
		t.Fatalf("Expected 1 soft_block capture, got %d", len(blocked))
	}
	if blocked[0].BlockReason != "rate_limited" {
		t.Errorf("Expected rate_limited reason, got %s", blocked[0].BlockReason)
	}
}

func competitorPage(links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestFindSimilar(t *testing.T) {
	page := competitorPage(
		"https://www.google.com/search?q=more",
		"https://rival-one.com/about",
		"https://www.rival-two.io/",
		"https://subject.com/pricing",
		"https://rival-one.com/pricing", // duplicate domain
	)
	primary := &scriptedStrategy{
		name:   "http",
		loop:   true,
		script: []scriptedResponse{okResponse(page, "https://www.google.com/search")},
	}
	e := newTestEngine(Config{}, primary, nil)

	domains, err := e.FindSimilar(context.Background(), "www.subject.com")
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}

	if len(domains) != 2 {
		t.Fatalf("Expected 2 domains, got %d: %v", len(domains), domains)
	}
	if domains[0] != "rival-one.com" || domains[1] != "rival-two.io" {
		t.Errorf("Unexpected domains: %v", domains)
	}

	calls := primary.attempts()
	if len(calls) != 4 {
		t.Fatalf("Expected 4 probe queries, got %d", len(calls))
	}
	for _, c := range calls {
		if c.Num != 30 {
			t.Errorf("Expected num=30 for competitor queries, got %d", c.Num)
		}
		if !strings.Contains(c.Query, "subject.com") {
			t.Errorf("Expected query to mention subject domain, got %q", c.Query)
		}
	}
}

func TestFindSimilar_InvalidDomain(t *testing.T) {
	e := newTestEngine(Config{}, &scriptedStrategy{name: "http"}, nil)
	if _, err := e.FindSimilar(context.Background(), "not a domain"); err == nil {
		t.Fatal("Expected error for invalid domain")
	}
}

func TestSearchMany(t *testing.T) {
	primary := &scriptedStrategy{
		name:   "http",
		loop:   true,
		script: []scriptedResponse{okResponse(resultsPage(10, 0, false), "")},
	}
	e := newTestEngine(Config{}, primary, nil)

	queries := []string{"first query", "second query", "third query"}
	out, err := e.SearchMany(context.Background(), queries, 10)
	if err != nil {
		t.Fatalf("SearchMany failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("Expected results for 3 queries, got %d", len(out))
	}
	for _, q := range queries {
		if len(out[q]) != 10 {
			t.Errorf("Expected 10 results for %q, got %d", q, len(out[q]))
		}
	}
}

func TestFindSimilar_ExcludesAllEngineMirrors(t *testing.T) {
	// A page served from a regional mirror links back to the engine's own
	// hosts; none of them may surface as competitors.
	page := competitorPage(
		"https://www.google.co.uk/search?q=more",
		"https://maps.google.co.uk/maps?q=subject",
		"https://www.google.com.au/search?q=more",
		"https://rival-one.com/about",
	)
	primary := &scriptedStrategy{
		name:   "http",
		loop:   true,
		script: []scriptedResponse{okResponse(page, "https://www.google.co.uk/search")},
	}
	e := newTestEngine(Config{}, primary, nil)

	domains, err := e.FindSimilar(context.Background(), "subject.com")
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if len(domains) != 1 || domains[0] != "rival-one.com" {
		t.Fatalf("Expected only rival-one.com, got %v", domains)
	}
}

// cancelingStrategy fires a context cancel right after delegating a fetch,
// simulating a deadline landing between pages.
type cancelingStrategy struct {
	fetch.Strategy
	cancel context.CancelFunc
}

func (c *cancelingStrategy) Fetch(ctx context.Context, a *fetch.Attempt) (*fetch.RawResult, error) {
	raw, err := c.Strategy.Fetch(ctx, a)
	c.cancel()
	return raw, err
}

func TestSearch_DeadlineReturnsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inner := &scriptedStrategy{
		name: "http",
		loop: true,
		script: []scriptedResponse{
			okResponse(resultsPage(10, 0, true), ""),
		},
	}
	primary := &cancelingStrategy{Strategy: inner, cancel: cancel}
	e := newTestEngine(Config{}, primary, nil)

	results, err := e.Search(ctx, "test query", 30)
	if err != nil {
		t.Fatalf("Expected partial results without error, got: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("Expected the 10 results collected before cancellation, got %d", len(results))
	}
	if got := len(inner.attempts()); got != 1 {
		t.Errorf("Expected no further fetches after cancellation, got %d", got)
	}
}
