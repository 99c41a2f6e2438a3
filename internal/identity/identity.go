package identity

import (
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/FranksOps/harrier/pkg/useragent"
)

// DefaultEntryDomains lists regional mirrors of the search engine used as
// rotating entry points.
var DefaultEntryDomains = []string{
	"https://www.google.com",
	"https://www.google.co.uk",
	"https://www.google.co.in",
	"https://www.google.ca",
	"https://www.google.com.au",
}

// DefaultLanguages is a small curated pool of Accept-Language values.
var DefaultLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.8,en-US;q=0.7",
	"en-US,en;q=0.8,fr;q=0.5",
	"en-CA,en;q=0.9,fr-CA;q=0.8",
	"en-US,en;q=0.9,es;q=0.4",
}

// Identity is the full fingerprint presented for one fetch attempt: a
// User-Agent, a header set internally consistent with it, and the entry
// domain to contact. Identities are generated fresh per attempt and carry
// no state beyond it.
type Identity struct {
	UserAgent   string
	Headers     http.Header
	EntryDomain string
}

// Config defines the pools a Provider draws from. Empty pools fall back to
// the package defaults.
type Config struct {
	UserAgents []string
	Domains    []string
	Languages  []string
	// Rand overrides the random source, primarily for tests.
	Rand *rand.Rand
	// Now overrides the clock used for the consent cookie, for tests.
	Now func() time.Time
}

// Provider mints rotating identities. Safe for concurrent use.
type Provider struct {
	uas       *useragent.Pool
	domains   []string
	languages []string
	now       func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvider creates a Provider. Pools are filled with defaults when
// empty, so a Provider can never run dry.
func NewProvider(cfg Config) *Provider {
	domains := cfg.Domains
	if len(domains) == 0 {
		domains = DefaultEntryDomains
	}
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Provider{
		uas:       useragent.NewPool(cfg.UserAgents),
		domains:   append([]string(nil), domains...),
		languages: append([]string(nil), languages...),
		now:       now,
		rng:       rng,
	}
}

// EntryDomains returns the entry domains this Provider rotates over.
// Consumers that filter the engine's own hosts out of harvested links use
// this as the authoritative list.
func (p *Provider) EntryDomains() []string {
	out := make([]string, len(p.domains))
	copy(out, p.domains)
	return out
}

// Next mints a fresh Identity. When the pool allows it, the User-Agent
// differs from previousUA so consecutive attempts do not repeat a
// fingerprint.
func (p *Provider) Next(previousUA string) Identity {
	ua := p.uas.GetRandomExcluding(previousUA)

	p.mu.Lock()
	domain := p.domains[p.rng.Intn(len(p.domains))]
	lang := p.languages[p.rng.Intn(len(p.languages))]
	consent := p.consentCookie()
	dnt := p.pick("1", "0")
	cache := p.pick("max-age=0", "no-cache")
	conn := p.pick("keep-alive", "close")
	p.mu.Unlock()

	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", lang)
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Connection", conn)
	h.Set("Cookie", consent)
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("DNT", dnt)
	h.Set("Cache-Control", cache)

	// Client hints must agree with the User-Agent; a platform or browser
	// mismatch is a stronger signal than no hints at all.
	if platform := useragent.Platform(ua); platform != "" {
		h.Set("sec-ch-ua-platform", fmt.Sprintf("%q", platform))
		if platform == "Android" || platform == "iOS" {
			h.Set("sec-ch-ua-mobile", "?1")
		}
	}
	if name, major := useragent.Browser(ua); name != "" {
		switch name {
		case "Google Chrome", "Microsoft Edge":
			h.Set("sec-ch-ua", fmt.Sprintf("%q;v=%q, \"Chromium\";v=%q", name, major, major))
		default:
			h.Set("sec-ch-ua", fmt.Sprintf("%q;v=%q", name, major))
		}
	}

	return Identity{
		UserAgent:   ua,
		Headers:     h,
		EntryDomain: domain,
	}
}

// consentCookie synthesizes a well-formed cookie-consent value keyed to the
// current date so it looks session-appropriate rather than replayed.
// Caller must hold p.mu.
func (p *Provider) consentCookie() string {
	t := p.now()
	stamp := fmt.Sprintf("%d%02d%02d", t.Year(), int(t.Month()), t.Day())
	return fmt.Sprintf("CONSENT=YES+cb.%s-%d-p0.en+FX+%d", stamp, p.rng.Intn(20)+1, p.rng.Intn(900)+100)
}

// pick returns one of the candidates at random. Caller must hold p.mu.
func (p *Provider) pick(candidates ...string) string {
	return candidates[p.rng.Intn(len(candidates))]
}
