// Package paginate decides whether a query execution advances to the next
// result page.
package paginate

// PageSize is the fixed number of results requested per page.
const PageSize = 10

// MaxPages bounds the worst-case cost of one query execution regardless of
// the requested limit.
const MaxPages = 20

// Cursor tracks the position within one query execution's result pages.
// It is mutated only through Controller.Advance and increases
// monotonically.
type Cursor struct {
	Page   int // zero-based page number
	Offset int // result offset passed to the search engine
}

// Decision is the controller's verdict for one page boundary.
type Decision int

const (
	// Continue means advance the cursor and fetch the next page.
	Continue Decision = iota
	// Stop means the execution has all the pages it is going to get.
	Stop
)

// Controller is the pagination state machine for one query execution.
type Controller struct {
	limit    int
	maxPages int
}

// NewController creates a Controller for a query limited to limit results.
// The page cap derives from the limit but never exceeds MaxPages.
func NewController(limit int) *Controller {
	pages := (limit + PageSize - 1) / PageSize
	if pages < 1 {
		pages = 1
	}
	if pages > MaxPages {
		pages = MaxPages
	}
	return &Controller{limit: limit, maxPages: pages}
}

// MaxPages returns the effective page cap for this execution.
func (c *Controller) MaxPages() int {
	return c.maxPages
}

// AdvanceOrStop inspects the just-processed page and either advances the
// cursor to the next page or stops. An empty page signals the end of the
// result set no matter what the page otherwise advertises.
func (c *Controller) AdvanceOrStop(cur *Cursor, pageResultCount int, hasNextPage bool, resultsSoFar int) Decision {
	if resultsSoFar >= c.limit {
		return Stop
	}
	if pageResultCount == 0 {
		return Stop
	}
	if !hasNextPage {
		return Stop
	}
	if cur.Page+1 >= c.maxPages {
		return Stop
	}

	cur.Page++
	cur.Offset += PageSize
	return Continue
}

// Skip advances past a page that yielded nothing usable, such as one lost
// to a fetch failure. It applies only the page-cap rule; the other stop
// conditions need page content to judge, which a skipped page does not
// have.
func (c *Controller) Skip(cur *Cursor) Decision {
	if cur.Page+1 >= c.maxPages {
		return Stop
	}
	cur.Page++
	cur.Offset += PageSize
	return Continue
}
