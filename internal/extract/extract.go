// Package extract turns fetched result pages into candidate records. The
// extractor is a collaborator of the acquisition engine: it must tolerate
// malformed or partial markup by returning nothing rather than failing.
package extract

// Candidate is an unvalidated, unranked record parsed from a result page.
// Candidates become results only after the dedup/merge engine accepts them.
type Candidate struct {
	Title   string
	Link    string
	Snippet string
}

// Extractor parses a rendered page into candidates and pagination signals.
type Extractor interface {
	// Extract returns zero or more candidates in page order.
	Extract(html string) []Candidate
	// HasNextPage reports whether the page carries a next-page affordance.
	HasNextPage(html string) bool
	// Links returns all absolute outbound link URLs on the page, used by
	// competitor discovery.
	Links(html, baseURL string) []string
}
