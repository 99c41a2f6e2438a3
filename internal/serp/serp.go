package serp

import "context"

// Result is one accepted search result. Position is the final rank within
// the result set, not the rank on the page the result came from. Source
// names the fetch strategy that produced the page.
type Result struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
	Source   string `json:"source"`
}

// Query is an immutable description of one search execution.
type Query struct {
	Text   string
	Limit  int
	Locale string
}

// Provider abstracts a search engine that can return ranked results for a
// query and discover competitor domains for a subject domain.
// Implementations may use scraping, official APIs, or other mechanisms.
type Provider interface {
	// Search returns at most limit results for the query. Partial results
	// are a valid outcome; Search degrades rather than fails.
	Search(ctx context.Context, query string, limit int) ([]Result, error)

	// FindSimilar returns distinct second-level domains of likely
	// competitors of the subject domain.
	FindSimilar(ctx context.Context, domain string) ([]string, error)
}
