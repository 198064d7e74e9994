// Package source holds HTTP clients for the engine's two external
// collaborators: the fingerprint store (read-only historical shapes) and the
// listing source (live marketplace/auction inventory).
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/gavelhound/sourcing-cli/internal/resilience"
)

// APIError is returned when a source responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("source: HTTP %d: %s", e.StatusCode, e.Body)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// transport bundles what every source call needs: the HTTP client, a per-host
// rate limiter and a retry policy.
type transport struct {
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	apiKey  string
}

// getJSON performs a rate-limited GET with retries, decoding JSON into out.
// Transient HTTP statuses (429, 5xx) are wrapped so the retry policy fires.
func (t *transport) getJSON(req *http.Request, out any) error {
	return resilience.Do(req.Context(), t.retry, func(ctx context.Context) error {
		if err := t.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "source: rate limit wait")
		}

		resp, err := t.http.Do(req.Clone(ctx))
		if err != nil {
			return eris.Wrap(err, "source: execute request")
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "source: read response body")
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(apiErr, resp.StatusCode)
			}
			return apiErr
		}

		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrap(err, "source: decode response")
		}
		return nil
	})
}

func (t *transport) authorize(req *http.Request) {
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
}
