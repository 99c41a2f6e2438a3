package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/harrier/internal/fingerprint"
	"github.com/FranksOps/harrier/pkg/httpclient"
	"github.com/FranksOps/harrier/pkg/proxy"
	"github.com/FranksOps/harrier/pkg/ratelimit"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// HTTPConfig configures the lightweight strategy.
type HTTPConfig struct {
	Timeout      time.Duration // per-request bound, default 30s
	MaxRedirects int           // default 5
	UseCookieJar bool
	// Proxies is the pluggable egress rotation; nil means direct.
	Proxies *proxy.Pool
	// Limiter is an optional deployment-level rate limiter applied before
	// every request.
	Limiter *ratelimit.Limiter
	// PlainTLS disables uTLS fingerprinting and uses the standard Go
	// TLS stack (needed against httptest servers).
	PlainTLS bool
	// Rand overrides the random source, primarily for tests.
	Rand *rand.Rand
}

// HTTPStrategy is the lightweight fetcher: a single plain request carrying
// the attempt's identity headers, over a transport whose TLS fingerprint
// matches the identity's browser family. It does not execute scripts; the
// document is taken as delivered. On a transport failure the request is
// retried once as a POST, a distinct second attempt some frontends treat
// differently.
type HTTPStrategy struct {
	cfg HTTPConfig

	mu      sync.Mutex
	clients map[fingerprint.Profile]*httpclient.Client
	rng     *rand.Rand
}

// NewHTTPStrategy creates the lightweight strategy with defaults filled in.
func NewHTTPStrategy(cfg HTTPConfig) *HTTPStrategy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 5
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &HTTPStrategy{
		cfg:     cfg,
		clients: make(map[fingerprint.Profile]*httpclient.Client),
		rng:     rng,
	}
}

// Name identifies the strategy in result records and metrics.
func (s *HTTPStrategy) Name() string { return "http" }

// Fetch executes the attempt. A served response of any status is returned
// as a RawResult; only transport failures (after the POST fallback) come
// back as an error.
func (s *HTTPStrategy) Fetch(ctx context.Context, a *Attempt) (*RawResult, error) {
	if s.cfg.Limiter != nil {
		if err := s.cfg.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetch: rate limiter: %w", err)
		}
	}

	profile := fingerprint.ProfileForUserAgent(a.Identity.UserAgent)
	if s.cfg.PlainTLS {
		profile = fingerprint.ProfileGo
	}
	client, err := s.clientFor(profile)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	target := SearchURL(a, s.rng)
	s.mu.Unlock()

	var activeProxy *url.URL
	if s.cfg.Proxies != nil {
		activeProxy = s.cfg.Proxies.Next()
	}

	start := time.Now()
	resp, err := s.do(ctx, client, http.MethodGet, target, a, activeProxy)
	if err != nil {
		// Distinct fallback attempt: same parameters as a POST form.
		resp, err = s.doPost(ctx, client, a, activeProxy)
	}
	if err != nil {
		if activeProxy != nil {
			_ = s.cfg.Proxies.MarkFailure(activeProxy)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = s.cfg.Proxies.MarkSuccess(activeProxy)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	return &RawResult{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		FinalURL:   resp.Request.URL.String(),
		Duration:   time.Since(start),
	}, nil
}

func (s *HTTPStrategy) do(ctx context.Context, client *httpclient.Client, method, target string, a *Attempt, activeProxy *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	s.applyHeaders(req, a)

	if activeProxy != nil {
		req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
	}
	return client.Do(req.Context(), req)
}

func (s *HTTPStrategy) doPost(ctx context.Context, client *httpclient.Client, a *Attempt, activeProxy *url.URL) (*http.Response, error) {
	form := url.Values{}
	form.Set("q", a.Query)
	form.Set("num", fmt.Sprintf("%d", max(a.Num, 10)))
	if a.Start > 0 {
		form.Set("start", fmt.Sprintf("%d", a.Start))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Identity.EntryDomain+"/search", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("fetch: build fallback request: %w", err)
	}
	s.applyHeaders(req, a)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if activeProxy != nil {
		req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
	}
	return client.Do(req.Context(), req)
}

func (s *HTTPStrategy) applyHeaders(req *http.Request, a *Attempt) {
	for key, vals := range a.Identity.Headers {
		// Setting Accept-Encoding by hand disables the transport's
		// transparent gzip handling; let it negotiate.
		if key == "Accept-Encoding" {
			continue
		}
		for _, v := range vals {
			req.Header.Set(key, v)
		}
	}
	if a.Referer != "" {
		req.Header.Set("Referer", a.Referer)
	}
}

// clientFor returns a cached client whose transport carries the TLS
// fingerprint of the given profile, creating it on first use. Caching per
// profile keeps connection pooling while the identity rotates browsers.
func (s *HTTPStrategy) clientFor(profile fingerprint.Profile) (*httpclient.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[profile]; ok {
		return c, nil
	}

	// Transport.Proxy is consulted per request; reading the proxy URL from
	// the request context allows per-request proxy rotation without
	// rebuilding the transport.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if val := req.Context().Value(proxyKey); val != nil {
			if u, ok := val.(*url.URL); ok {
				return u, nil
			}
		}
		return nil, nil
	}

	transport, err := fingerprint.Transport(profile, proxyFunc)
	if err != nil {
		return nil, fmt.Errorf("fetch: setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      s.cfg.Timeout,
		MaxRedirects: s.cfg.MaxRedirects,
		UseCookieJar: s.cfg.UseCookieJar,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: create client: %w", err)
	}

	s.clients[profile] = client
	return client, nil
}
