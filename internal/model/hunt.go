package model

import "time"

// ScanStatus tracks a scan's lifecycle.
type ScanStatus string

const (
	ScanStatusPending ScanStatus = "pending"
	ScanStatusRunning ScanStatus = "running"
	ScanStatusOK      ScanStatus = "ok"
	ScanStatusError   ScanStatus = "error"
)

// Hunt is the engine-owned scan subscription for one fingerprint: how often
// to look for it, at what priority, and when it was last scanned.
type Hunt struct {
	ID            string        `json:"id"`
	FingerprintID string        `json:"fingerprint_id"`
	Priority      int           `json:"priority"`
	Interval      time.Duration `json:"interval"`
	LastScannedAt *time.Time    `json:"last_scanned_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Due reports whether the hunt should be scanned: never scanned, or last
// scanned longer than its interval ago.
func (h Hunt) Due(now time.Time) bool {
	if h.LastScannedAt == nil {
		return true
	}
	return now.Sub(*h.LastScannedAt) >= h.Interval
}

// Scan is one orchestrator pass over a single hunt.
type Scan struct {
	ID                string     `json:"id"`
	HuntID            string     `json:"hunt_id"`
	Status            ScanStatus `json:"status"`
	CandidatesChecked int        `json:"candidates_checked"`
	MatchesFound      int        `json:"matches_found"`
	AlertsEmitted     int        `json:"alerts_emitted"`
	Partial           bool       `json:"partial"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}
