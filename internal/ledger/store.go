// Package ledger owns the engine's stateful records: matches, alerts, hunts
// and scans. It enforces both dedup layers: one open match per
// (fingerprint, listing) pair, one alert per type per pair per cool-down.
package ledger

import (
	"context"
	"time"

	"github.com/gavelhound/sourcing-cli/internal/model"
)

// MatchFilter narrows ListMatches.
type MatchFilter struct {
	FingerprintID string
	Decision      model.DecisionTier
	Limit         int
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Unacknowledged bool
	Type           model.AlertType
	Limit          int
}

// ScanCounts carries a completed scan's outcome statistics.
type ScanCounts struct {
	CandidatesChecked int
	MatchesFound      int
	AlertsEmitted     int
}

// Store is the persistence interface for the matching engine's owned state.
// Match identity is the (fingerprint, listing) pair, not the scan event:
// UpsertMatch updates in place and bumps the revision when the pair has been
// scored before. The upsert is a per-key compare-and-swap at the database
// level, so overlapping scans cannot create duplicate rows.
type Store interface {
	// Matches
	UpsertMatch(ctx context.Context, m *model.Match) (*model.Match, error)
	ListMatches(ctx context.Context, f MatchFilter) ([]model.Match, error)

	// Alerts
	RecentAlertExists(ctx context.Context, fingerprintID, listingID string, typ model.AlertType, since time.Time) (bool, error)
	CreateAlert(ctx context.Context, a *model.Alert) error
	AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error
	ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error)

	// Hunts
	SeedHunts(ctx context.Context, hunts []model.Hunt) (int64, error)
	ListDueHunts(ctx context.Context, now time.Time, limit int) ([]model.Hunt, error)
	MarkHuntScanned(ctx context.Context, huntID string, at time.Time) error

	// Scans
	CreateScan(ctx context.Context, huntID string) (*model.Scan, error)
	CompleteScan(ctx context.Context, scanID string, counts ScanCounts, partial bool) error
	FailScan(ctx context.Context, scanID string, reason string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
