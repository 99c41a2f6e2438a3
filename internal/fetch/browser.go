package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthScript neutralizes the automation markers a page script can probe
// for: the webdriver flag, an empty plugin list, and a missing language
// list. It runs before any document script on every navigation.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', {
	get: () => [{ name: 'Chrome PDF Viewer' }, { name: 'Chromium PDF Viewer' }, { name: 'Native Client' }],
});
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
window.chrome = window.chrome || { runtime: {} };
`

// captchaSelector matches the CAPTCHA-shaped elements a challenge page
// typically carries.
const captchaSelector = `#captcha-form, form[action*="sorry"], iframe[src*="recaptcha"], #recaptcha`

// RenderConfig configures the rendering strategy.
type RenderConfig struct {
	// Timeout bounds one full render, navigation and waits included.
	// Default 60s.
	Timeout time.Duration
	// Headful disables headless mode, for debugging.
	Headful bool
	// ProxyURL routes the browser through an upstream proxy.
	ProxyURL string
	// Rand overrides the random source, primarily for tests.
	Rand *rand.Rand
}

// RenderStrategy is the full-render fetcher: it drives a browser through an
// isolated page context, applies the attempt's identity and the
// anti-fingerprinting overrides, waits for the page to settle, and attempts
// at most one interaction with a CAPTCHA element before giving up on the
// page. The page context is released on every exit path.
type RenderStrategy struct {
	cfg RenderConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRenderStrategy creates the rendering strategy with defaults filled in.
func NewRenderStrategy(cfg RenderConfig) *RenderStrategy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RenderStrategy{cfg: cfg, rng: rng}
}

// Name identifies the strategy in result records and metrics.
func (s *RenderStrategy) Name() string { return "browser" }

// Fetch renders the attempt's result page and returns the settled document.
func (s *RenderStrategy) Fetch(ctx context.Context, a *Attempt) (*RawResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !s.cfg.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(a.Identity.UserAgent),
	)
	if s.cfg.ProxyURL != "" {
		opts = append(opts, chromedp.Flag("proxy-server", s.cfg.ProxyURL))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// The deferred cancels release the page context on success, block,
	// error, and caller cancellation alike.
	pageCtx, cancelPage := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelPage()

	// Capture the status code of the main document response.
	var docStatus atomic.Int64
	chromedp.ListenTarget(pageCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok && resp.Type == network.ResourceTypeDocument {
			docStatus.CompareAndSwap(0, resp.Response.Status)
		}
	})

	headers := make(map[string]interface{})
	for key, vals := range a.Identity.Headers {
		// The browser owns its own User-Agent and connection handling.
		if key == "User-Agent" || key == "Accept-Encoding" || key == "Connection" {
			continue
		}
		if len(vals) > 0 {
			headers[key] = vals[0]
		}
	}

	s.mu.Lock()
	target := SearchURL(a, s.rng)
	settle := time.Duration(s.rng.Intn(1500)+500) * time.Millisecond
	s.mu.Unlock()

	start := time.Now()

	var html string
	err := chromedp.Run(pageCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers(headers)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Let late XHR-driven content land before reading the DOM.
		chromedp.Sleep(settle),
		chromedp.ActionFunc(s.captchaNudge),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch: render failed: %w", err)
	}

	status := int(docStatus.Load())
	if status == 0 {
		status = 200
	}

	return &RawResult{
		StatusCode: status,
		Body:       html,
		FinalURL:   target,
		Duration:   time.Since(start),
	}, nil
}

// captchaNudge checks for a CAPTCHA-shaped element and, if present, makes
// exactly one bounded interaction with it. If the element survives the
// nudge the page is left for the block detector to reject; looping on a
// challenge is never worth it.
func (s *RenderStrategy) captchaNudge(ctx context.Context) error {
	var present bool
	check := fmt.Sprintf("document.querySelector(%q) !== null", captchaSelector)
	if err := chromedp.Evaluate(check, &present).Do(ctx); err != nil || !present {
		return nil
	}

	clickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Best effort; a failed click changes nothing about the outcome.
	_ = chromedp.Click(captchaSelector, chromedp.ByQuery).Do(clickCtx)

	s.mu.Lock()
	wait := time.Duration(s.rng.Intn(1000)+1000) * time.Millisecond
	s.mu.Unlock()
	return chromedp.Sleep(wait).Do(ctx)
}
