// Package scan orchestrates one engine pass: claim due hunts, fetch each
// fingerprint, page through candidate listings, score and decide, persist
// matches and emit alerts through the ledger's cool-down gate.
package scan

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gavelhound/sourcing-cli/internal/decision"
	"github.com/gavelhound/sourcing-cli/internal/ledger"
	"github.com/gavelhound/sourcing-cli/internal/model"
	"github.com/gavelhound/sourcing-cli/internal/notify"
	"github.com/gavelhound/sourcing-cli/internal/resilience"
	"github.com/gavelhound/sourcing-cli/internal/scorer"
	"github.com/gavelhound/sourcing-cli/internal/source"
	"github.com/gavelhound/sourcing-cli/internal/trim"
)

// Config controls batch shape and pacing.
type Config struct {
	BatchSize     int           `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency"`
	TimeBudget    time.Duration `yaml:"time_budget" mapstructure:"time_budget"`
	AlertCoolDown time.Duration `yaml:"alert_cool_down" mapstructure:"alert_cool_down"`
}

// DefaultConfig returns the batch defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     20,
		Concurrency:   8,
		TimeBudget:    5 * time.Minute,
		AlertCoolDown: 24 * time.Hour,
	}
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Store        ledger.Store
	Fingerprints source.FingerprintSource
	Listings     source.ListingSource
	Sink         notify.Sink
	Trims        *trim.Table
}

// Orchestrator runs scan batches.
type Orchestrator struct {
	cfg        Config
	deps       Deps
	scorer     *scorer.Scorer
	policy     *decision.Policy
	thresholds decision.Thresholds
	nowFunc    func() time.Time
}

// New validates the scoring and decision configuration up front; a
// misconfigured engine must abort before claiming any hunts.
func New(cfg Config, weights scorer.Weights, thresholds decision.Thresholds, deps Deps) (*Orchestrator, error) {
	if err := weights.Validate(); err != nil {
		return nil, eris.Wrap(err, "scan: invalid scoring weights")
	}
	if err := thresholds.Validate(); err != nil {
		return nil, eris.Wrap(err, "scan: invalid decision thresholds")
	}
	if deps.Store == nil || deps.Fingerprints == nil || deps.Listings == nil {
		return nil, eris.New("scan: store, fingerprint source and listing source are required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.AlertCoolDown <= 0 {
		cfg.AlertCoolDown = DefaultConfig().AlertCoolDown
	}
	if deps.Sink == nil {
		deps.Sink = notify.NewWebhookSink("")
	}

	return &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		scorer:     scorer.New(deps.Trims, weights),
		policy:     decision.NewPolicy(thresholds),
		thresholds: thresholds,
		nowFunc:    time.Now,
	}, nil
}

// WithClock overrides the orchestrator's clock. Test hook.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.nowFunc = now
	return o
}

// BatchReport summarizes one Run invocation.
type BatchReport struct {
	HuntsClaimed      int
	ScansOK           int
	ScansFailed       int
	ScansPartial      int
	CandidatesChecked int
	MatchesFound      int
	AlertsEmitted     int
}

// Run claims up to BatchSize due hunts and scans each. A collaborator
// failure on one hunt marks that scan errored and moves on; the hunt stays
// due for the next batch.
func (o *Orchestrator) Run(ctx context.Context) (BatchReport, error) {
	var report BatchReport

	now := o.nowFunc()
	hunts, err := o.deps.Store.ListDueHunts(ctx, now, o.cfg.BatchSize)
	if err != nil {
		return report, eris.Wrap(err, "scan: claim due hunts")
	}
	report.HuntsClaimed = len(hunts)

	deadline := now.Add(o.cfg.TimeBudget)
	for _, hunt := range hunts {
		if ctx.Err() != nil {
			break
		}
		counts, partial, huntErr := o.runHunt(ctx, hunt, deadline)
		report.CandidatesChecked += counts.CandidatesChecked
		report.MatchesFound += counts.MatchesFound
		report.AlertsEmitted += counts.AlertsEmitted
		if huntErr != nil {
			report.ScansFailed++
			zap.L().Error("scan: hunt failed",
				zap.String("hunt_id", hunt.ID),
				zap.String("fingerprint_id", hunt.FingerprintID),
				zap.Error(huntErr),
			)
			continue
		}
		report.ScansOK++
		if partial {
			report.ScansPartial++
		}
	}

	zap.L().Info("scan: batch complete",
		zap.Int("hunts", report.HuntsClaimed),
		zap.Int("ok", report.ScansOK),
		zap.Int("failed", report.ScansFailed),
		zap.Int("partial", report.ScansPartial),
		zap.Int("candidates", report.CandidatesChecked),
		zap.Int("matches", report.MatchesFound),
		zap.Int("alerts", report.AlertsEmitted),
	)
	return report, nil
}

// runHunt scans one hunt. Per-candidate errors are collected, not fatal; a
// collaborator failure (fingerprint fetch, listing search) fails the scan.
func (o *Orchestrator) runHunt(ctx context.Context, hunt model.Hunt, deadline time.Time) (ledger.ScanCounts, bool, error) {
	var counts ledger.ScanCounts

	scanRow, err := o.deps.Store.CreateScan(ctx, hunt.ID)
	if err != nil {
		return counts, false, eris.Wrap(err, "create scan")
	}

	fail := func(cause error) (ledger.ScanCounts, bool, error) {
		if failErr := o.deps.Store.FailScan(ctx, scanRow.ID, cause.Error()); failErr != nil {
			zap.L().Warn("scan: fail-scan bookkeeping failed", zap.Error(failErr))
		}
		return counts, false, cause
	}

	fp, err := o.deps.Fingerprints.Fingerprint(ctx, hunt.FingerprintID)
	if err != nil {
		return fail(eris.Wrap(err, "fetch fingerprint"))
	}

	candidates, err := o.deps.Listings.Search(ctx, source.ListingQuery{
		Make:    fp.Make,
		Model:   fp.Model,
		YearMin: fp.YearMin,
		YearMax: fp.YearMax,
	})
	if err != nil {
		return fail(eris.Wrap(err, "search listings"))
	}

	now := o.nowFunc()
	var mu sync.Mutex
	var failures []resilience.ItemFailure
	partial := false

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for _, candidate := range candidates {
		// Listings older than the watch ceiling can never produce an
		// actionable tier; skip them before spending a slot.
		if candidate.Age(now) > o.thresholds.WatchMaxAge {
			continue
		}

		// Soft budget: stop starting new candidates, let in-flight finish.
		if o.nowFunc().After(deadline) {
			partial = true
			break
		}

		candidate := candidate
		g.Go(func() error {
			matched, alerted, itemErr := o.processCandidate(gCtx, *fp, candidate, now)

			mu.Lock()
			defer mu.Unlock()
			counts.CandidatesChecked++
			if itemErr != nil {
				failures = append(failures, resilience.NewItemFailure(candidate.ID, "persist", itemErr, o.nowFunc()))
				return nil
			}
			if matched {
				counts.MatchesFound++
			}
			if alerted {
				counts.AlertsEmitted++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fail(err)
	}

	for _, f := range failures {
		zap.L().Warn("scan: candidate failed",
			zap.String("hunt_id", hunt.ID),
			zap.String("listing_id", f.ItemID),
			zap.String("error_type", f.ErrorType),
			zap.String("error", f.Error),
		)
	}

	if err := o.deps.Store.CompleteScan(ctx, scanRow.ID, counts, partial); err != nil {
		return fail(eris.Wrap(err, "complete scan"))
	}
	if err := o.deps.Store.MarkHuntScanned(ctx, hunt.ID, o.nowFunc()); err != nil {
		return counts, partial, eris.Wrap(err, "mark hunt scanned")
	}
	return counts, partial, nil
}

// processCandidate scores, decides, persists and alerts for one listing.
func (o *Orchestrator) processCandidate(ctx context.Context, fp model.Fingerprint, l model.Listing, now time.Time) (matched, alerted bool, err error) {
	score, reasons := o.scorer.Score(fp, l)
	outcome := o.policy.Decide(fp, l, score, now)

	match := &model.Match{
		FingerprintID: fp.ID,
		ListingID:     l.ID,
		Score:         score,
		Confidence:    outcome.Confidence,
		Decision:      outcome.Decision,
		GapAbs:        outcome.GapAbs,
		GapPct:        outcome.GapPct,
		Reasons:       reasons,
	}

	// Persistence gets one retry; the upsert is idempotent per pair.
	persistRetry := resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: 100 * time.Millisecond,
		ShouldRetry:    func(error) bool { return true },
	}
	saved, err := resilience.DoVal(ctx, persistRetry, func(ctx context.Context) (*model.Match, error) {
		return o.deps.Store.UpsertMatch(ctx, match)
	})
	if err != nil {
		return false, false, eris.Wrap(err, "persist match")
	}
	matched = true

	alertType, ok := model.AlertTypeFor(outcome.Decision)
	if !ok {
		return matched, false, nil
	}

	since := now.Add(-o.cfg.AlertCoolDown)
	recent, err := o.deps.Store.RecentAlertExists(ctx, fp.ID, l.ID, alertType, since)
	if err != nil {
		return matched, false, eris.Wrap(err, "alert cool-down check")
	}
	if recent {
		return matched, false, nil
	}

	alert := &model.Alert{
		MatchID:       saved.ID,
		FingerprintID: fp.ID,
		ListingID:     l.ID,
		Type:          alertType,
		Payload: model.AlertPayload{
			Vehicle:     vehicleLine(l),
			Score:       score,
			Decision:    string(outcome.Decision),
			GapAbs:      outcome.GapAbs,
			GapPct:      outcome.GapPct,
			AskingPrice: l.AskingPrice,
			ListingURL:  l.URL,
		},
	}
	if err := o.deps.Store.CreateAlert(ctx, alert); err != nil {
		return matched, false, eris.Wrap(err, "create alert")
	}

	// Webhook delivery is best effort; the alert row is the durable record.
	if notifyErr := o.deps.Sink.Notify(ctx, *alert); notifyErr != nil {
		zap.L().Warn("scan: alert notification failed",
			zap.String("alert_id", alert.ID),
			zap.Error(notifyErr),
		)
	}
	return matched, true, nil
}

func vehicleLine(l model.Listing) string {
	parts := []string{fmt.Sprintf("%d", l.Year), l.Make, l.Model}
	if l.Variant != "" {
		parts = append(parts, l.Variant)
	}
	return strings.Join(parts, " ")
}
