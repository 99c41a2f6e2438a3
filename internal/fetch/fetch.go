package fetch

import (
	"context"
	"math/rand"
	"net/url"
	"strconv"
	"time"

	"github.com/FranksOps/harrier/internal/identity"
)

// Attempt describes one network/render operation against the search
// engine: the query, the pagination offset, and the identity to present.
// Attempts are created by the orchestrator, consumed by a strategy, and
// discarded after classification.
type Attempt struct {
	Query    string
	Start    int // result offset (page_number * page size)
	Num      int // results requested per page
	Locale   string
	Identity identity.Identity
	Referer  string
}

// RawResult carries a strategy's raw output in the one shape the block
// detector accepts: a status code and the document text.
type RawResult struct {
	StatusCode int
	Body       string
	FinalURL   string
	Duration   time.Duration
}

// Strategy is the capability contract shared by the lightweight and
// rendering fetchers. A transport-level failure is returned as an error;
// any served response, blocked or not, comes back as a RawResult for the
// block detector to judge.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, a *Attempt) (*RawResult, error)
}

// SearchURL builds the result-page URL for an attempt: entry domain +
// /search with q/start/num/hl/gl, plus probabilistically chosen
// filter/pws/nfpr parameters for fingerprint diversity. rng may be nil to
// skip the probabilistic parameters.
func SearchURL(a *Attempt, rng *rand.Rand) string {
	params := url.Values{}
	params.Set("q", a.Query)
	if a.Start > 0 {
		params.Set("start", strconv.Itoa(a.Start))
	}
	num := a.Num
	if num <= 0 {
		num = 10
	}
	params.Set("num", strconv.Itoa(num))

	hl := a.Locale
	if hl == "" {
		hl = "en"
	}
	params.Set("hl", hl)
	params.Set("gl", "us")

	if rng != nil {
		if rng.Float64() > 0.5 {
			params.Set("filter", "0")
		}
		if rng.Float64() > 0.5 {
			params.Set("pws", "0")
		}
		if rng.Float64() > 0.7 {
			params.Set("nfpr", "1")
		}
	}

	return a.Identity.EntryDomain + "/search?" + params.Encode()
}
