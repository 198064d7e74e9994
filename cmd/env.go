package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/gavelhound/sourcing-cli/internal/cache"
	"github.com/gavelhound/sourcing-cli/internal/ledger"
	"github.com/gavelhound/sourcing-cli/internal/notify"
	"github.com/gavelhound/sourcing-cli/internal/resilience"
	"github.com/gavelhound/sourcing-cli/internal/scan"
	"github.com/gavelhound/sourcing-cli/internal/source"
	"github.com/gavelhound/sourcing-cli/internal/trim"
)

func initStore(ctx context.Context) (ledger.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return ledger.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return ledger.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initFingerprints() (source.FingerprintSource, error) {
	sc := cfg.Sources.Fingerprints
	if sc.BaseURL == "" {
		return nil, eris.New("sources.fingerprints.base_url is required (SOURCING_SOURCES_FINGERPRINTS_BASE_URL)")
	}
	client := source.NewFingerprintClient(sc.BaseURL, sc.Key,
		source.WithFingerprintRateLimit(sc.RPS, sc.Burst),
		source.WithFingerprintRetry(resilience.FromRetryConfig(sc.RetryMaxAttempts, sc.RetryBackoffMs, 0, 0, -1)),
	)
	fpCache := cache.NewFingerprints(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	return source.NewCachedFingerprints(client, fpCache), nil
}

func initListings() (source.ListingSource, error) {
	sc := cfg.Sources.Listings
	if sc.BaseURL == "" {
		return nil, eris.New("sources.listings.base_url is required (SOURCING_SOURCES_LISTINGS_BASE_URL)")
	}
	return source.NewListingClient(sc.BaseURL, sc.Key,
		source.WithListingRateLimit(sc.RPS, sc.Burst),
		source.WithListingPageSize(sc.PageSize),
		source.WithListingRetry(resilience.FromRetryConfig(sc.RetryMaxAttempts, sc.RetryBackoffMs, 0, 0, -1)),
		source.WithListingBreaker(resilience.FromCircuitConfig(sc.BreakerFailures, sc.BreakerResetSecs)),
	), nil
}

func loadTrims() (*trim.Table, error) {
	if cfg.Ladder.Path == "" {
		return trim.DefaultTable(), nil
	}
	f, err := os.Open(cfg.Ladder.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "open ladder file %s", cfg.Ladder.Path)
	}
	defer f.Close() //nolint:errcheck
	return trim.LoadTable(f)
}

func initOrchestrator(store ledger.Store) (*scan.Orchestrator, error) {
	fingerprints, err := initFingerprints()
	if err != nil {
		return nil, err
	}
	listings, err := initListings()
	if err != nil {
		return nil, err
	}
	trims, err := loadTrims()
	if err != nil {
		return nil, err
	}

	return scan.New(cfg.Scan, cfg.Scoring, cfg.Decision, scan.Deps{
		Store:        store,
		Fingerprints: fingerprints,
		Listings:     listings,
		Sink:         notify.NewWebhookSink(cfg.Alerts.WebhookURL),
		Trims:        trims,
	})
}
