package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/gavelhound/sourcing-cli/internal/cache"
	"github.com/gavelhound/sourcing-cli/internal/model"
	"github.com/gavelhound/sourcing-cli/internal/resilience"
)

// FingerprintSource reads proven vehicle shapes from the fingerprint store.
// The engine never writes fingerprints.
type FingerprintSource interface {
	Fingerprint(ctx context.Context, id string) (*model.Fingerprint, error)
	ListFingerprints(ctx context.Context, page, pageSize int) ([]model.Fingerprint, error)
}

// FingerprintOption configures the fingerprint client.
type FingerprintOption func(*fingerprintClient)

// WithFingerprintHTTPClient sets a custom *http.Client.
func WithFingerprintHTTPClient(hc *http.Client) FingerprintOption {
	return func(c *fingerprintClient) { c.t.http = hc }
}

// WithFingerprintRateLimit overrides the requests-per-second limit.
func WithFingerprintRateLimit(rps float64, burst int) FingerprintOption {
	return func(c *fingerprintClient) { c.t.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithFingerprintRetry overrides the retry policy.
func WithFingerprintRetry(cfg resilience.RetryConfig) FingerprintOption {
	return func(c *fingerprintClient) { c.t.retry = cfg }
}

type fingerprintClient struct {
	baseURL string
	t       transport
}

// NewFingerprintClient creates a fingerprint store client.
func NewFingerprintClient(baseURL, apiKey string, opts ...FingerprintOption) FingerprintSource {
	c := &fingerprintClient{
		baseURL: baseURL,
		t: transport{
			http:    defaultHTTPClient(),
			limiter: rate.NewLimiter(rate.Limit(10), 20),
			retry:   resilience.DefaultRetryConfig(),
			apiKey:  apiKey,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.t.retry.OnRetry == nil {
		c.t.retry.OnRetry = resilience.RetryLogger("fingerprint_store", "get")
	}
	return c
}

func (c *fingerprintClient) Fingerprint(ctx context.Context, id string) (*model.Fingerprint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fingerprints/"+id, nil)
	if err != nil {
		return nil, eris.Wrap(err, "source: create fingerprint request")
	}
	c.t.authorize(req)

	var fp model.Fingerprint
	if err := c.t.getJSON(req, &fp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("source: get fingerprint %s", id))
	}
	return &fp, nil
}

type fingerprintPage struct {
	Data  []model.Fingerprint `json:"data"`
	Total int                 `json:"total"`
}

func (c *fingerprintClient) ListFingerprints(ctx context.Context, page, pageSize int) ([]model.Fingerprint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fingerprints", nil)
	if err != nil {
		return nil, eris.Wrap(err, "source: create fingerprint list request")
	}
	q := req.URL.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	req.URL.RawQuery = q.Encode()
	c.t.authorize(req)

	var out fingerprintPage
	if err := c.t.getJSON(req, &out); err != nil {
		return nil, eris.Wrap(err, "source: list fingerprints")
	}
	return out.Data, nil
}

// CachedFingerprints wraps a FingerprintSource with a read-through TTL cache.
// Fingerprints change rarely relative to scan frequency; cache hits save the
// round trip on every hunt.
type CachedFingerprints struct {
	inner FingerprintSource
	cache *cache.Fingerprints
}

// NewCachedFingerprints wraps inner with the given cache.
func NewCachedFingerprints(inner FingerprintSource, c *cache.Fingerprints) *CachedFingerprints {
	return &CachedFingerprints{inner: inner, cache: c}
}

func (c *CachedFingerprints) Fingerprint(ctx context.Context, id string) (*model.Fingerprint, error) {
	if fp, ok := c.cache.Get(id); ok {
		return &fp, nil
	}
	fp, err := c.inner.Fingerprint(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Put(*fp)
	return fp, nil
}

func (c *CachedFingerprints) ListFingerprints(ctx context.Context, page, pageSize int) ([]model.Fingerprint, error) {
	// List reads bypass the cache; they are seeding operations, not hot path.
	return c.inner.ListFingerprints(ctx, page, pageSize)
}
