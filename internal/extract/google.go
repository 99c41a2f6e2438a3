package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selector lists for Google's result markup. Google rotates class names
// between layout experiments, so each role matches several generations of
// markup at once.
const (
	resultSelector   = "div.g, .Gx5Zad, .tF2Cxc, .yuRUbf, div[data-hveid]"
	snippetSelector  = ".VwiC3b, .lEBKkf, div[data-snc], .st"
	nextPageSelector = "a#pnnext, a.pn"
)

// Google parses Google result pages. The zero value is ready to use.
type Google struct{}

var _ Extractor = Google{}

// Extract returns the organic results found on the page, in page order.
// Containers without a title or link are skipped; broken markup yields an
// empty slice.
func (Google) Extract(html string) []Candidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var out []Candidate
	seen := make(map[string]struct{})

	doc.Find(resultSelector).Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find("h3").First().Text())
		link, _ := sel.Find("a[href]").First().Attr("href")
		link = strings.TrimSpace(link)
		if title == "" || link == "" {
			return
		}

		// Result containers nest; the same hit would otherwise appear once
		// per matching wrapper.
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}

		snippet := strings.TrimSpace(sel.Find(snippetSelector).First().Text())
		out = append(out, Candidate{Title: title, Link: link, Snippet: snippet})
	})

	return out
}

// HasNextPage reports whether the page links to a further result page.
func (Google) HasNextPage(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(nextPageSelector).Length() > 0
}

// Links returns every absolute http(s) link on the page, resolving
// relative hrefs against baseURL. Order follows document order with
// duplicates removed.
func (Google) Links(html, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var base *url.URL
	if baseURL != "" {
		base, _ = url.Parse(baseURL)
	}

	var out []string
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		abs := u.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})

	return out
}
