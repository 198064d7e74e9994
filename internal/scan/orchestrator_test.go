package scan

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhound/sourcing-cli/internal/decision"
	"github.com/gavelhound/sourcing-cli/internal/ledger"
	"github.com/gavelhound/sourcing-cli/internal/model"
	"github.com/gavelhound/sourcing-cli/internal/scorer"
	"github.com/gavelhound/sourcing-cli/internal/source"
)

// Anchored to the real clock because alert rows are stamped by the store;
// cool-down checks compare stored timestamps against orchestrator time.
var testNow = time.Now().UTC()

// --- source stubs ---

type stubFingerprints struct {
	fp  *model.Fingerprint
	err error
}

func (s stubFingerprints) Fingerprint(ctx context.Context, id string) (*model.Fingerprint, error) {
	if s.err != nil {
		return nil, s.err
	}
	fp := *s.fp
	fp.ID = id
	return &fp, nil
}

func (s stubFingerprints) ListFingerprints(ctx context.Context, page, pageSize int) ([]model.Fingerprint, error) {
	return nil, nil
}

type stubListings struct {
	listings []model.Listing
	err      error
}

func (s stubListings) Search(ctx context.Context, q source.ListingQuery) ([]model.Listing, error) {
	return s.listings, s.err
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (r *recordingSink) Notify(ctx context.Context, alert model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

// flakyStore fails the first UpsertMatch and then delegates.
type flakyStore struct {
	ledger.Store
	failures atomic.Int32
}

func (f *flakyStore) UpsertMatch(ctx context.Context, m *model.Match) (*model.Match, error) {
	if f.failures.Add(1) == 1 {
		return nil, eris.New("ledger: connection reset by peer")
	}
	return f.Store.UpsertMatch(ctx, m)
}

// --- fixtures ---

func provenHilux() model.Fingerprint {
	return model.Fingerprint{
		Make: "Toyota", Model: "HiLux", Variant: "SR5",
		YearMin: 2018, YearMax: 2021,
		ReferenceKm: 70000, BuyPrice: 38000, SellPrice: 45000,
		SampleCount: 12,
	}
}

func strongCandidate(id string) model.Listing {
	km := 76000
	price := 36000.0
	return model.Listing{
		ID: id, Source: "pickles", ExternalID: id,
		SourceClass: model.SourceAuction,
		Make:        "Toyota", Model: "HiLux", Variant: "SR5 4x4", Year: 2019,
		Km: &km, AskingPrice: &price,
		URL:         "https://example.com/" + id,
		FirstSeenAt: testNow.Add(-48 * time.Hour),
	}
}

func newTestStore(t *testing.T) ledger.Store {
	t.Helper()
	store, err := ledger.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func seedHunt(t *testing.T, store ledger.Store) model.Hunt {
	t.Helper()
	_, err := store.SeedHunts(context.Background(), []model.Hunt{
		{FingerprintID: "fp-1", Priority: 5, Interval: time.Hour},
	})
	require.NoError(t, err)
	due, err := store.ListDueHunts(context.Background(), testNow, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	return due[0]
}

func newOrchestrator(t *testing.T, store ledger.Store, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Store == nil {
		deps.Store = store
	}
	o, err := New(DefaultConfig(), scorer.DefaultWeights(), decision.DefaultThresholds(), deps)
	require.NoError(t, err)
	return o.WithClock(func() time.Time { return testNow })
}

func TestRun_EndToEnd(t *testing.T) {
	store := newTestStore(t)
	seedHunt(t, store)

	fp := provenHilux()
	sink := &recordingSink{}
	o := newOrchestrator(t, store, Deps{
		Fingerprints: stubFingerprints{fp: &fp},
		Listings:     stubListings{listings: []model.Listing{strongCandidate("lst-1")}},
		Sink:         sink,
	})

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.HuntsClaimed)
	assert.Equal(t, 1, report.ScansOK)
	assert.Equal(t, 0, report.ScansFailed)
	assert.Equal(t, 1, report.CandidatesChecked)
	assert.Equal(t, 1, report.MatchesFound)
	assert.Equal(t, 1, report.AlertsEmitted)

	matches, err := store.ListMatches(context.Background(), ledger.MatchFilter{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, model.DecisionBuy, matches[0].Decision)
	assert.Equal(t, model.ConfidenceHigh, matches[0].Confidence)
	require.NotNil(t, matches[0].GapAbs)
	assert.InDelta(t, 9000, *matches[0].GapAbs, 0.001)
	assert.NotEmpty(t, matches[0].Reasons)

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, model.AlertBuy, sink.alerts[0].Type)
	assert.Contains(t, sink.alerts[0].Payload.Vehicle, "Toyota HiLux")

	// The hunt is no longer due.
	due, err := store.ListDueHunts(context.Background(), testNow.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRun_RescanDedupesMatchAndAlert(t *testing.T) {
	store := newTestStore(t)
	seedHunt(t, store)

	fp := provenHilux()
	sink := &recordingSink{}
	o := newOrchestrator(t, store, Deps{
		Fingerprints: stubFingerprints{fp: &fp},
		Listings:     stubListings{listings: []model.Listing{strongCandidate("lst-1")}},
		Sink:         sink,
	})

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	// Second batch two hours later: the hunt is due again, the listing is
	// still live. One match row, revision bumped, no second alert inside the
	// cool-down window.
	later := testNow.Add(2 * time.Hour)
	o.WithClock(func() time.Time { return later })
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.MatchesFound)
	assert.Equal(t, 0, report.AlertsEmitted)

	matches, err := store.ListMatches(context.Background(), ledger.MatchFilter{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 2, matches[0].Revision)

	alerts, err := store.ListAlerts(context.Background(), ledger.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Len(t, sink.alerts, 1)
}

func TestRun_CollaboratorFailureMarksScanError(t *testing.T) {
	store := newTestStore(t)
	hunt := seedHunt(t, store)

	fp := provenHilux()
	o := newOrchestrator(t, store, Deps{
		Fingerprints: stubFingerprints{fp: &fp},
		Listings:     stubListings{err: eris.New("source: HTTP 502: bad gateway")},
	})

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ScansFailed)
	assert.Equal(t, 0, report.ScansOK)

	// The hunt was not marked scanned, so it stays due.
	due, err := store.ListDueHunts(context.Background(), testNow.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, hunt.ID, due[0].ID)
}

func TestRun_PersistenceRetriedOnce(t *testing.T) {
	store := newTestStore(t)
	seedHunt(t, store)

	fp := provenHilux()
	flaky := &flakyStore{Store: store}
	o := newOrchestrator(t, store, Deps{
		Store:        flaky,
		Fingerprints: stubFingerprints{fp: &fp},
		Listings:     stubListings{listings: []model.Listing{strongCandidate("lst-1")}},
	})

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.MatchesFound)
	assert.Equal(t, int32(2), flaky.failures.Load())
}

func TestRun_StaleCandidatesSkipped(t *testing.T) {
	store := newTestStore(t)
	seedHunt(t, store)

	stale := strongCandidate("lst-old")
	stale.FirstSeenAt = testNow.Add(-30 * 24 * time.Hour)

	fp := provenHilux()
	o := newOrchestrator(t, store, Deps{
		Fingerprints: stubFingerprints{fp: &fp},
		Listings:     stubListings{listings: []model.Listing{stale, strongCandidate("lst-1")}},
	})

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.CandidatesChecked)
	assert.Equal(t, 1, report.MatchesFound)
}

func TestRun_TimeBudgetYieldsPartialScan(t *testing.T) {
	store := newTestStore(t)
	seedHunt(t, store)

	var candidates []model.Listing
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		candidates = append(candidates, strongCandidate("lst-"+id))
	}

	fp := provenHilux()
	cfg := DefaultConfig()
	cfg.TimeBudget = 3 * time.Minute
	cfg.Concurrency = 1
	o, err := New(cfg, scorer.DefaultWeights(), decision.DefaultThresholds(), Deps{
		Store:        store,
		Fingerprints: stubFingerprints{fp: &fp},
		Listings:     stubListings{listings: candidates},
	})
	require.NoError(t, err)

	// Each clock read advances one minute, so the budget expires mid-batch.
	var ticks atomic.Int64
	o.WithClock(func() time.Time {
		return testNow.Add(time.Duration(ticks.Add(1)) * time.Minute)
	})

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ScansOK, "partial scans still complete ok")
	assert.Equal(t, 1, report.ScansPartial)
	assert.Less(t, report.CandidatesChecked, len(candidates))
	assert.Greater(t, report.MatchesFound, 0)
}

func TestNew_RejectsMisconfiguration(t *testing.T) {
	store := newTestStore(t)
	fp := provenHilux()
	deps := Deps{
		Store:        store,
		Fingerprints: stubFingerprints{fp: &fp},
		Listings:     stubListings{},
	}

	badWeights := scorer.DefaultWeights()
	badWeights.MakeModel = 0
	_, err := New(DefaultConfig(), badWeights, decision.DefaultThresholds(), deps)
	require.Error(t, err)

	badThresholds := decision.DefaultThresholds()
	badThresholds.WatchScore = badThresholds.BuyScore + 1
	_, err = New(DefaultConfig(), scorer.DefaultWeights(), badThresholds, deps)
	require.Error(t, err)

	_, err = New(DefaultConfig(), scorer.DefaultWeights(), decision.DefaultThresholds(), Deps{Store: store})
	require.Error(t, err)
}
