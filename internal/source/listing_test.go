package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhound/sourcing-cli/internal/model"
	"github.com/gavelhound/sourcing-cli/internal/resilience"
)

func TestListingClient_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/listings", r.URL.Path)
		assert.Equal(t, "Toyota", r.URL.Query().Get("make"))
		assert.Equal(t, "HiLux", r.URL.Query().Get("model"))
		assert.Equal(t, "2018", r.URL.Query().Get("year_min"))
		assert.Equal(t, "2", r.URL.Query().Get("page_size"))

		page := r.URL.Query().Get("page")
		switch page {
		case "1":
			json.NewEncoder(w).Encode(listingPage{Data: []model.Listing{
				{Source: "pickles", ExternalID: "a"},
				{Source: "pickles", ExternalID: "b"},
			}, Total: 3})
		case "2":
			json.NewEncoder(w).Encode(listingPage{Data: []model.Listing{
				{Source: "pickles", ExternalID: "c"},
			}, Total: 3})
		default:
			t.Errorf("unexpected page %s", page)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewListingClient(srv.URL, "test-key", WithListingPageSize(2))
	got, err := c.Search(context.Background(), ListingQuery{Make: "Toyota", Model: "HiLux", YearMin: 2018})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "pickles:a", got[0].Key())
	assert.Equal(t, "pickles:c", got[2].Key())
}

func TestListingClient_MergesRepeatSightings(t *testing.T) {
	firstAuction := time.Date(2026, 8, 10, 11, 0, 0, 0, time.UTC)
	secondAuction := time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			json.NewEncoder(w).Encode(listingPage{Data: []model.Listing{
				{Source: "manheim", ExternalID: "x", Status: model.ListingStatusPassedIn, AuctionAt: &firstAuction},
				{Source: "manheim", ExternalID: "x", Status: model.ListingStatusPassedIn, AuctionAt: &firstAuction},
			}})
		case "2":
			json.NewEncoder(w).Encode(listingPage{Data: []model.Listing{
				{Source: "manheim", ExternalID: "x", Status: model.ListingStatusPassedIn, AuctionAt: &secondAuction},
			}})
		}
	}))
	t.Cleanup(srv.Close)

	c := NewListingClient(srv.URL, "test-key", WithListingPageSize(2))
	got, err := c.Search(context.Background(), ListingQuery{Make: "Toyota", Model: "HiLux"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	// First sighting set the auction; the duplicate at the same datetime does
	// not count, the new datetime does.
	assert.Equal(t, 1, got[0].PassedInCount)
	assert.True(t, got[0].AuctionAt.Equal(secondAuction))
}

func TestListingClient_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewListingClient(srv.URL, "test-key",
		WithListingRetry(fastRetry(1)),
		WithListingBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}),
	)

	_, err := c.Search(context.Background(), ListingQuery{Make: "Ford", Model: "Ranger"})
	require.Error(t, err)
	_, err = c.Search(context.Background(), ListingQuery{Make: "Ford", Model: "Ranger"})
	require.Error(t, err)

	// Third call is rejected without touching the source.
	_, err = c.Search(context.Background(), ListingQuery{Make: "Ford", Model: "Ranger"})
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
}
