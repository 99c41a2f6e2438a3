// Package scraper contains the acquisition engine: the orchestrator that
// turns a query into accepted results by coordinating identity rotation,
// pacing, fetch strategies, block classification, pagination, and the
// dedup/merge result set.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/harrier/internal/bypass"
	"github.com/FranksOps/harrier/internal/extract"
	"github.com/FranksOps/harrier/internal/fetch"
	"github.com/FranksOps/harrier/internal/identity"
	"github.com/FranksOps/harrier/internal/metrics"
	"github.com/FranksOps/harrier/internal/paginate"
	"github.com/FranksOps/harrier/internal/results"
	"github.com/FranksOps/harrier/internal/serp"
	"github.com/FranksOps/harrier/internal/storage"
	"github.com/FranksOps/harrier/pkg/pacing"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ensure Engine implements serp.Provider
var _ serp.Provider = (*Engine)(nil)

const (
	// competitorQueryNum asks for a bigger page so one fetch per probe
	// query usually suffices.
	competitorQueryNum = 30
	// competitorCap bounds the domains FindSimilar returns.
	competitorCap = 15
)

// Config provides parameters for the acquisition engine.
type Config struct {
	// Locale is the interface language requested from the engine.
	Locale string
	// ExcludedDomains are hosts never reported as competitors, on top of
	// the subject domain and the engine's own domains.
	ExcludedDomains []string
	// Backend optionally archives one capture per fetch attempt.
	Backend storage.Backend
}

// Engine executes searches against a result-page engine using rotating
// identities and a two-tier fetch strategy. All failures degrade to
// partial or empty result sets; Engine methods do not fail because the
// remote side pushed back.
type Engine struct {
	cfg       Config
	ids       *identity.Provider
	pacer     *pacing.Controller
	primary   fetch.Strategy
	fallback  fetch.Strategy
	extractor extract.Extractor
	logger    *slog.Logger
}

// NewEngine creates an Engine. primary is required; fallback may be nil,
// which disables escalation.
func NewEngine(cfg Config, ids *identity.Provider, pacer *pacing.Controller, primary, fallback fetch.Strategy, logger *slog.Logger) *Engine {
	if ids == nil {
		ids = identity.NewProvider(identity.Config{})
	}
	if pacer == nil {
		pacer = pacing.NewController(pacing.Config{})
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:       cfg,
		ids:       ids,
		pacer:     pacer,
		primary:   primary,
		fallback:  fallback,
		extractor: &extract.Google{},
		logger:    logger,
	}
}

// Search returns at most limit results for the query. Pagination stops at
// the first hard page boundary: limit reached, empty page, missing
// next-page affordance, or the page cap. Soft blocks trigger identity
// rotation and strategy escalation before a page is abandoned; whatever
// was collected up to that point is returned rather than discarded.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]serp.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("scraper: empty query")
	}
	if limit <= 0 {
		limit = paginate.PageSize
	}

	set := results.NewSet(limit)
	ctrl := paginate.NewController(limit)
	cur := &paginate.Cursor{}
	var prevUA string
	referer := ""

	e.logger.Info("search started", "query", query, "limit", limit, "max_pages", ctrl.MaxPages())

	for {
		if ctx.Err() != nil {
			break
		}

		raw, strategyName, outcome := e.fetchPage(ctx, "search", query, *cur, paginate.PageSize, &prevUA, referer)
		if outcome.Kind != bypass.KindOK {
			if outcome.Kind == bypass.KindHardError && cur.Page > 0 {
				// A later page failing outright does not end the session;
				// skip it and try the next offset.
				e.logger.Warn("page fetch failed, skipping",
					"query", query, "page", cur.Page, "reason", outcome.Reason)
				if ctrl.Skip(cur) == paginate.Stop {
					break
				}
				if err := e.pacer.Sleep(ctx, e.pacer.InterPageDelay()); err != nil {
					break
				}
				continue
			}
			e.logger.Warn("page abandoned, ending pagination",
				"query", query, "page", cur.Page, "outcome", outcome.Kind.String(), "reason", outcome.Reason)
			break
		}

		candidates := e.extractor.Extract(raw.Body)
		accepted := set.Accept(candidates, strategyName)
		metrics.RecordAccepted(strategyName, accepted)
		e.saveCapture(ctx, "search", query, cur.Page, strategyName, raw, outcome, nil, accepted)

		e.logger.Debug("page processed",
			"query", query, "page", cur.Page, "strategy", strategyName,
			"candidates", len(candidates), "accepted", accepted, "total", set.Len())

		// The page we just fetched is the natural referer for the next one.
		referer = raw.FinalURL

		if ctrl.AdvanceOrStop(cur, len(candidates), e.extractor.HasNextPage(raw.Body), set.Len()) == paginate.Stop {
			break
		}
		if err := e.pacer.Sleep(ctx, e.pacer.InterPageDelay()); err != nil {
			break
		}
	}

	e.logger.Info("search finished", "query", query, "results", set.Len())
	return set.Records(), nil
}

// FindSimilar probes the engine with competitor-discovery phrasings of the
// subject domain and collects distinct outbound domains from the result
// pages. The subject itself, the engine's domains, and any configured
// exclusions never appear in the output.
func (e *Engine) FindSimilar(ctx context.Context, domain string) ([]string, error) {
	subject := results.CanonicalDomain(domain)
	if subject == "" {
		return nil, fmt.Errorf("scraper: invalid domain %q", domain)
	}

	// The engine's own mirrors must never surface as competitors, whichever
	// entry domain served the page.
	excluded := []string{subject}
	for _, entry := range e.ids.EntryDomains() {
		if u, err := url.Parse(entry); err == nil && u.Hostname() != "" {
			excluded = append(excluded, u.Hostname())
		}
	}
	excluded = append(excluded, e.cfg.ExcludedDomains...)
	set := results.NewDomainSet(competitorCap, excluded...)
	var prevUA string

	e.logger.Info("competitor discovery started", "domain", subject)

	for i, q := range competitorQueries(subject) {
		if set.Full() || ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := e.pacer.Sleep(ctx, e.pacer.InterPageDelay()); err != nil {
				break
			}
		}

		raw, strategyName, outcome := e.fetchPage(ctx, "similar", q, paginate.Cursor{}, competitorQueryNum, &prevUA, "")
		if outcome.Kind != bypass.KindOK {
			e.logger.Warn("competitor query abandoned",
				"domain", subject, "query", q, "reason", outcome.Reason)
			continue
		}

		before := len(set.Domains())
		for _, link := range e.extractor.Links(raw.Body, raw.FinalURL) {
			set.AddLink(link)
			if set.Full() {
				break
			}
		}
		added := len(set.Domains()) - before
		e.saveCapture(ctx, "similar", q, 0, strategyName, raw, outcome, nil, added)
		e.logger.Debug("competitor query processed",
			"domain", subject, "query", q, "added", added)
	}

	domains := set.Domains()
	e.logger.Info("competitor discovery finished", "domain", subject, "found", len(domains))
	return domains, nil
}

// SearchMany runs independent searches concurrently and returns results
// keyed by query. Each search carries its own identity sequence and
// pacing, so concurrent sessions do not share a fingerprint trail.
func (e *Engine) SearchMany(ctx context.Context, queries []string, limit int) (map[string][]serp.Result, error) {
	g, gCtx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	out := make(map[string][]serp.Result, len(queries))

	for _, q := range queries {
		g.Go(func() error {
			res, err := e.Search(gCtx, q, limit)
			if err != nil {
				return err
			}
			mu.Lock()
			out[q] = res
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fetchPage runs the per-page escalation state machine: fetch with a fresh
// identity, classify, and on a soft block rotate the identity, back off,
// and retry the same strategy once before escalating to the fallback
// strategy. A hard error aborts the page immediately. The returned outcome
// is KindOK exactly when raw is usable.
func (e *Engine) fetchPage(ctx context.Context, mode, query string, cur paginate.Cursor, num int, prevUA *string, referer string) (*fetch.RawResult, string, bypass.Outcome) {
	strategies := []fetch.Strategy{e.primary, e.fallback}
	last := bypass.Outcome{Kind: bypass.KindHardError, Reason: "no fetch strategy configured"}

	for si, strat := range strategies {
		if strat == nil {
			continue
		}
		if si > 0 {
			metrics.EscalationsTotal.Inc()
			e.logger.Info("escalating fetch strategy",
				"query", query, "page", cur.Page, "strategy", strat.Name())
		}

		for attempt := 1; attempt <= 2; attempt++ {
			if ctx.Err() != nil {
				return nil, strat.Name(), bypass.Outcome{Kind: bypass.KindHardError, Reason: ctx.Err().Error()}
			}

			id := e.ids.Next(*prevUA)
			*prevUA = id.UserAgent

			a := &fetch.Attempt{
				Query:    query,
				Start:    cur.Offset,
				Num:      num,
				Locale:   e.cfg.Locale,
				Identity: id,
				Referer:  referer,
			}
			if a.Referer == "" {
				a.Referer = id.EntryDomain + "/"
			}

			raw, err := strat.Fetch(ctx, a)

			var outcome bypass.Outcome
			if raw != nil {
				outcome = bypass.Classify(raw.StatusCode, raw.Body, err)
			} else {
				outcome = bypass.Classify(0, "", err)
			}
			last = outcome

			metrics.RecordFetch(strat.Name(), outcome.Kind.String(), softBlockReason(outcome), fetchDuration(raw))
			if outcome.Kind != bypass.KindOK {
				e.saveCapture(ctx, mode, query, cur.Page, strat.Name(), raw, outcome, err, 0)
			}

			switch outcome.Kind {
			case bypass.KindOK:
				// The capture for a served page is written by the caller
				// once it knows how many results the page contributed.
				return raw, strat.Name(), outcome

			case bypass.KindSoftBlock:
				e.logger.Warn("soft block detected",
					"query", query, "page", cur.Page, "strategy", strat.Name(),
					"reason", outcome.Reason, "attempt", attempt)
				if attempt == 1 {
					if err := e.pacer.Sleep(ctx, e.pacer.BackoffDelay(attempt)); err != nil {
						return nil, strat.Name(), bypass.Outcome{Kind: bypass.KindHardError, Reason: err.Error()}
					}
					continue
				}
				// Second soft block on this strategy: escalate.

			case bypass.KindHardError:
				e.logger.Warn("fetch hard error",
					"query", query, "page", cur.Page, "strategy", strat.Name(), "reason", outcome.Reason)
				return nil, strat.Name(), outcome
			}
			break
		}
	}

	return nil, "", last
}

// saveCapture archives one fetch attempt. Archiving is best effort; a
// failing backend never interferes with the session.
func (e *Engine) saveCapture(ctx context.Context, mode, query string, page int, strategy string, raw *fetch.RawResult, outcome bypass.Outcome, fetchErr error, accepted int) {
	if e.cfg.Backend == nil {
		return
	}

	c := &storage.Capture{
		ID:          uuid.New().String(),
		Query:       query,
		Mode:        mode,
		Page:        page,
		Strategy:    strategy,
		Outcome:     outcome.Kind.String(),
		BlockReason: softBlockReason(outcome),
		Accepted:    accepted,
		CreatedAt:   time.Now().UTC(),
	}
	if raw != nil {
		c.StatusCode = raw.StatusCode
		c.BodySize = int64(len(raw.Body))
		c.Duration = raw.Duration
	}
	if fetchErr != nil {
		c.Error = fetchErr.Error()
	}

	if err := e.cfg.Backend.Save(ctx, c); err != nil {
		e.logger.Error("failed to archive capture", "error", err)
	}
}

func competitorQueries(domain string) []string {
	return []string{
		"competitors of " + domain,
		"sites like " + domain,
		"alternatives to " + domain,
		"companies similar to " + domain,
	}
}

func softBlockReason(o bypass.Outcome) string {
	if o.Kind == bypass.KindSoftBlock {
		return o.Reason
	}
	return ""
}

func fetchDuration(raw *fetch.RawResult) time.Duration {
	if raw == nil {
		return 0
	}
	return raw.Duration
}
