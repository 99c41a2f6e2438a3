// Package results accumulates unique records across pages and strategies.
package results

import (
	"net/url"
	"strings"

	"github.com/FranksOps/harrier/internal/extract"
	"github.com/FranksOps/harrier/internal/serp"
)

// Set is the ordered collection of accepted results for one query
// execution. Insertion order is discovery order; accepted records are
// immutable and capped at the execution's result limit. A Set is owned by
// exactly one execution and is not safe for concurrent use.
type Set struct {
	limit   int
	seen    map[string]struct{}
	records []serp.Result
}

// NewSet creates a Set capped at limit records.
func NewSet(limit int) *Set {
	return &Set{
		limit: limit,
		seen:  make(map[string]struct{}),
	}
}

// Accept filters candidates in order and returns how many were accepted.
// A candidate is rejected when its normalized link is already present, when
// title or link is empty, or when the link lacks an http(s) scheme.
// Accepted records get their position reassigned to the final rank in the
// set (1-based), not the rank on their source page. Once the set is full,
// remaining candidates are dropped without error.
func (s *Set) Accept(candidates []extract.Candidate, source string) int {
	accepted := 0
	for _, c := range candidates {
		if len(s.records) >= s.limit {
			break
		}
		key, ok := normalizeLink(c.Link)
		if !ok || c.Title == "" {
			continue
		}
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.records = append(s.records, serp.Result{
			Title:    c.Title,
			Link:     c.Link,
			Snippet:  c.Snippet,
			Position: len(s.records) + 1,
			Source:   source,
		})
		accepted++
	}
	return accepted
}

// Len returns the number of accepted records.
func (s *Set) Len() int {
	return len(s.records)
}

// Full reports whether the set has reached its limit.
func (s *Set) Full() bool {
	return len(s.records) >= s.limit
}

// Records returns the accepted results in discovery order.
func (s *Set) Records() []serp.Result {
	out := make([]serp.Result, len(s.records))
	copy(out, s.records)
	return out
}

// normalizeLink produces the dedup key for a link: scheme and host
// lowercased, fragment dropped, trailing slash on a bare path removed.
// ok is false for unparseable links or non-http(s) schemes.
func normalizeLink(link string) (key string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
	}
	return u.String(), true
}

// DomainSet accumulates distinct second-level domains for competitor
// discovery, capped and with exclusions.
type DomainSet struct {
	cap      int
	excluded []string
	seen     map[string]struct{}
	order    []string
}

// NewDomainSet creates a DomainSet capped at cap domains. Domains matching
// any exclusion (equal to it or a subdomain of it) are never accepted.
func NewDomainSet(cap int, excluded ...string) *DomainSet {
	cleaned := make([]string, 0, len(excluded))
	for _, e := range excluded {
		if d := CanonicalDomain(e); d != "" {
			cleaned = append(cleaned, d)
		}
	}
	return &DomainSet{
		cap:      cap,
		excluded: cleaned,
		seen:     make(map[string]struct{}),
	}
}

// AddLink extracts the domain from a URL and adds it, returning true if it
// was accepted.
func (d *DomainSet) AddLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return d.Add(u.Hostname())
}

// Add adds a domain, returning true if it was accepted.
func (d *DomainSet) Add(host string) bool {
	if len(d.order) >= d.cap {
		return false
	}
	domain := CanonicalDomain(host)
	if domain == "" {
		return false
	}
	for _, e := range d.excluded {
		if domain == e || strings.HasSuffix(domain, "."+e) {
			return false
		}
	}
	if _, dup := d.seen[domain]; dup {
		return false
	}
	d.seen[domain] = struct{}{}
	d.order = append(d.order, domain)
	return true
}

// Full reports whether the set reached its cap.
func (d *DomainSet) Full() bool {
	return len(d.order) >= d.cap
}

// Domains returns the accepted domains in discovery order.
func (d *DomainSet) Domains() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// CanonicalDomain lowercases a hostname and strips a leading "www.".
func CanonicalDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" || !strings.Contains(host, ".") {
		return ""
	}
	return host
}
