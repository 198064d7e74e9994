package source

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/gavelhound/sourcing-cli/internal/model"
	"github.com/gavelhound/sourcing-cli/internal/resilience"
)

// ListingQuery narrows a listing search to one vehicle family.
type ListingQuery struct {
	Make    string
	Model   string
	YearMin int
	YearMax int
}

// ListingSource searches live inventory for candidate listings.
type ListingSource interface {
	Search(ctx context.Context, q ListingQuery) ([]model.Listing, error)
}

// ListingOption configures the listing client.
type ListingOption func(*listingClient)

// WithListingHTTPClient sets a custom *http.Client.
func WithListingHTTPClient(hc *http.Client) ListingOption {
	return func(c *listingClient) { c.t.http = hc }
}

// WithListingRateLimit overrides the requests-per-second limit.
func WithListingRateLimit(rps float64, burst int) ListingOption {
	return func(c *listingClient) { c.t.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithListingRetry overrides the retry policy.
func WithListingRetry(cfg resilience.RetryConfig) ListingOption {
	return func(c *listingClient) { c.t.retry = cfg }
}

// WithListingBreaker overrides the circuit breaker config.
func WithListingBreaker(cfg resilience.CircuitBreakerConfig) ListingOption {
	return func(c *listingClient) { c.breaker = resilience.NewCircuitBreaker(cfg) }
}

// WithListingPageSize overrides the page size used when paginating.
func WithListingPageSize(n int) ListingOption {
	return func(c *listingClient) { c.pageSize = n }
}

type listingClient struct {
	baseURL  string
	pageSize int
	t        transport
	breaker  *resilience.CircuitBreaker
}

// NewListingClient creates a listing source client. Repeated failures open a
// circuit breaker so a dead source sheds load instead of stalling every scan.
func NewListingClient(baseURL, apiKey string, opts ...ListingOption) ListingSource {
	c := &listingClient{
		baseURL:  baseURL,
		pageSize: 50,
		t: transport{
			http:    defaultHTTPClient(),
			limiter: rate.NewLimiter(rate.Limit(5), 10),
			retry:   resilience.DefaultRetryConfig(),
			apiKey:  apiKey,
		},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.t.retry.OnRetry == nil {
		c.t.retry.OnRetry = resilience.RetryLogger("listing_source", "search")
	}
	return c
}

type listingPage struct {
	Data  []model.Listing `json:"data"`
	Total int             `json:"total"`
}

// Search walks every result page and merges repeat sightings of the same
// listing key, so a vehicle seen on multiple pages (or rerun auctions) comes
// back as one listing with its pass-in history intact.
func (c *listingClient) Search(ctx context.Context, q ListingQuery) ([]model.Listing, error) {
	byKey := make(map[string]*model.Listing)
	var order []string

	for page := 1; ; page++ {
		batch, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]model.Listing, error) {
			return c.searchPage(ctx, q, page)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "source: search %s %s page %d", q.Make, q.Model, page)
		}

		for _, l := range batch {
			l := l
			key := l.Key()
			if prev, ok := byKey[key]; ok {
				prev.MergeSighting(l)
				continue
			}
			byKey[key] = &l
			order = append(order, key)
		}

		if len(batch) < c.pageSize {
			break
		}
	}

	out := make([]model.Listing, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out, nil
}

func (c *listingClient) searchPage(ctx context.Context, q ListingQuery, page int) ([]model.Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/listings", nil)
	if err != nil {
		return nil, eris.Wrap(err, "source: create listing request")
	}

	params := req.URL.Query()
	params.Set("make", q.Make)
	params.Set("model", q.Model)
	if q.YearMin > 0 {
		params.Set("year_min", strconv.Itoa(q.YearMin))
	}
	if q.YearMax > 0 {
		params.Set("year_max", strconv.Itoa(q.YearMax))
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(c.pageSize))
	req.URL.RawQuery = params.Encode()
	c.t.authorize(req)

	var out listingPage
	if err := c.t.getJSON(req, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
