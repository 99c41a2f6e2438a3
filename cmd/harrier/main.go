package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/FranksOps/harrier/internal/fetch"
	"github.com/FranksOps/harrier/internal/metrics"
	"github.com/FranksOps/harrier/internal/report"
	"github.com/FranksOps/harrier/internal/scraper"
	"github.com/FranksOps/harrier/internal/storage"
	"github.com/FranksOps/harrier/internal/storage/csvbackend"
	"github.com/FranksOps/harrier/internal/storage/jsonbackend"
	"github.com/FranksOps/harrier/internal/storage/postgres"
	"github.com/FranksOps/harrier/internal/storage/sqlite"
	"github.com/FranksOps/harrier/pkg/proxy"
	"github.com/FranksOps/harrier/pkg/ratelimit"
)

const usage = `Usage: harrier <command> [flags]

Commands:
  search   run a search and print results as JSON
  similar  discover competitor domains for a domain
  report   summarize archived captures

Run "harrier <command> -h" for command flags.
`

// sharedFlags are the options common to search and similar.
type sharedFlags struct {
	backend     string
	dsn         string
	proxyFile   string
	browser     bool
	browserOnly bool
	locale      string
	timeout     time.Duration
	metricsPort int
	rps         float64
	verbose     bool
}

func registerShared(fs *flag.FlagSet, f *sharedFlags) {
	fs.StringVar(&f.backend, "backend", "none", "Capture archive backend: none, sqlite, json, csv, postgres")
	fs.StringVar(&f.dsn, "dsn", "", "Backend location: file path, or DSN for sqlite/postgres")
	fs.StringVar(&f.proxyFile, "proxies", os.Getenv("HARRIER_PROXY_FILE"), "Path to newline-separated proxy URL list")
	fs.BoolVar(&f.browser, "browser", true, "Enable the rendering fallback strategy")
	fs.BoolVar(&f.browserOnly, "browser-only", false, "Use only the rendering strategy")
	fs.StringVar(&f.locale, "locale", "en", "Interface language passed to the engine")
	fs.DurationVar(&f.timeout, "timeout", 5*time.Minute, "Overall deadline for the session")
	fs.IntVar(&f.metricsPort, "metrics-port", 0, "Expose Prometheus metrics on this port (0 disables)")
	fs.Float64Var(&f.rps, "rps", 0, "Hard cap on outgoing requests per second (0 = pacing only)")
	fs.BoolVar(&f.verbose, "v", false, "Verbose logging")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "search":
		err = runSearch(os.Args[2:])
	case "similar":
		err = runSimilar(os.Args[2:])
	case "report":
		err = runReport(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stderr, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "harrier: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "harrier: %v\n", err)
		os.Exit(1)
	}
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	var shared sharedFlags
	registerShared(fs, &shared)
	query := fs.String("q", "", "Search query (required)")
	limit := fs.Int("limit", 10, "Maximum results to return")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*query) == "" {
		return fmt.Errorf("search: -q is required")
	}

	engine, cleanup, err := buildEngine(shared)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := sessionContext(shared.timeout)
	defer cancel()

	results, err := engine.Search(ctx, *query, *limit)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, results)
}

func runSimilar(args []string) error {
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	var shared sharedFlags
	registerShared(fs, &shared)
	domain := fs.String("domain", "", "Subject domain (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*domain) == "" {
		return fmt.Errorf("similar: -domain is required")
	}

	engine, cleanup, err := buildEngine(shared)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := sessionContext(shared.timeout)
	defer cancel()

	domains, err := engine.FindSimilar(ctx, *domain)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, domains)
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	backend := fs.String("backend", "sqlite", "Capture archive backend: sqlite, json, csv, postgres")
	dsn := fs.String("dsn", "", "Backend location: file path, or DSN for sqlite/postgres")
	format := fs.String("format", "text", "Output format: text, json, html")
	query := fs.String("q", "", "Only include captures for this query")
	since := fs.Duration("since", 0, "Only include captures newer than this age (e.g. 24h; 0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := openBackend(ctx, *backend, *dsn)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("report: a capture backend is required")
	}
	defer b.Close()

	filter := storage.Filter{Query: *query}
	if *since > 0 {
		cutoff := time.Now().Add(-*since)
		filter.Since = &cutoff
	}

	captures, err := b.Query(ctx, filter)
	if err != nil {
		return err
	}
	summary := report.GenerateSummary(captures)

	switch *format {
	case "json":
		return report.WriteJSON(os.Stdout, summary)
	case "html":
		return report.WriteHTML(os.Stdout, summary)
	case "text":
		return report.WriteText(os.Stdout, summary)
	default:
		return fmt.Errorf("report: unknown format %q", *format)
	}
}

func buildEngine(f sharedFlags) (*scraper.Engine, func(), error) {
	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	pool := proxy.NewPool(proxy.Config{})
	if f.proxyFile != "" {
		if err := pool.LoadFile(f.proxyFile); err != nil {
			return nil, nil, fmt.Errorf("loading proxies: %w", err)
		}
		logger.Info("proxy pool loaded", "proxies", pool.Size())
	}

	var limiter *ratelimit.Limiter
	if f.rps > 0 {
		limiter = ratelimit.NewLimiter(f.rps, 0.1)
		cleanups = append(cleanups, limiter.Stop)
	}

	var primary, fallback fetch.Strategy
	httpStrategy := fetch.NewHTTPStrategy(fetch.HTTPConfig{Proxies: pool, Limiter: limiter})
	renderStrategy := fetch.NewRenderStrategy(fetch.RenderConfig{})

	switch {
	case f.browserOnly:
		primary = renderStrategy
	case f.browser:
		primary, fallback = httpStrategy, renderStrategy
	default:
		primary = httpStrategy
	}

	ctx, cancelOpen := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelOpen()

	backend, err := openBackend(ctx, f.backend, f.dsn)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if backend != nil {
		cleanups = append(cleanups, func() { _ = backend.Close() })
	}

	if f.metricsPort > 0 {
		srv := metrics.Start(f.metricsPort)
		cleanups = append(cleanups, func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = srv.Stop(stopCtx)
		})
	}

	engine := scraper.NewEngine(scraper.Config{
		Locale:  f.locale,
		Backend: backend,
	}, nil, nil, primary, fallback, logger)

	return engine, cleanup, nil
}

func openBackend(ctx context.Context, kind, dsn string) (storage.Backend, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "sqlite":
		if dsn == "" {
			dsn = "harrier.db"
		}
		return sqlite.New(dsn)
	case "json":
		if dsn == "" {
			dsn = "harrier.jsonl"
		}
		return jsonbackend.New(dsn)
	case "csv":
		if dsn == "" {
			dsn = "harrier.csv"
		}
		return csvbackend.New(dsn)
	case "postgres":
		if dsn == "" {
			dsn = os.Getenv("HARRIER_PG_DSN")
		}
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend requires -dsn or HARRIER_PG_DSN")
		}
		return postgres.New(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func sessionContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		tcancel()
		cancel()
	}
}

func writeJSON(w *os.File, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
