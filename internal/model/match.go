package model

import "time"

// DecisionTier is the engine's recommended action for a (fingerprint,
// listing) pair.
type DecisionTier string

const (
	DecisionBuy        DecisionTier = "buy"
	DecisionWatch      DecisionTier = "watch"
	DecisionIgnore     DecisionTier = "ignore"
	DecisionNoEvidence DecisionTier = "no_evidence"
)

// Confidence labels how strongly the score supports the match, independent
// of the decision tier.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Factor names a scoring contribution. The set is closed; tests assert on
// individual factors rather than string-matching free text.
type Factor string

const (
	FactorMakeModel    Factor = "make_model"
	FactorTrim         Factor = "trim"
	FactorOdometer     Factor = "odometer"
	FactorPriceTarget  Factor = "price_target"
	FactorPriceCeiling Factor = "price_ceiling"
	FactorYear         Factor = "year"
	FactorDrivetrain   Factor = "drivetrain"
	FactorFuel         Factor = "fuel"
	FactorTransmission Factor = "transmission"
	FactorSourceTier   Factor = "source_tier"
)

// Reason is one entry in a match's audit trail: which factor fired, what it
// contributed, and a human-readable justification.
type Reason struct {
	Factor Factor  `json:"factor"`
	Points float64 `json:"points"`
	Note   string  `json:"note"`
}

// Match is the engine's output for one (fingerprint, listing) pair. At most
// one open match exists per pair; re-scoring updates in place and bumps
// Revision.
type Match struct {
	ID            string       `json:"id"`
	FingerprintID string       `json:"fingerprint_id"`
	ListingID     string       `json:"listing_id"`
	Score         float64      `json:"score"`
	Confidence    Confidence   `json:"confidence"`
	Decision      DecisionTier `json:"decision"`
	GapAbs        *float64     `json:"gap_abs,omitempty"`
	GapPct        *float64     `json:"gap_pct,omitempty"`
	Reasons       []Reason     `json:"reasons"`
	Revision      int          `json:"revision"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// AlertType distinguishes buy-now interrupts from watch notices.
type AlertType string

const (
	AlertBuy   AlertType = "buy"
	AlertWatch AlertType = "watch"
)

// Alert is a rate-limited, human-facing notification derived from a match.
// Mutated only to set acknowledgement; never auto-deleted.
type Alert struct {
	ID             string       `json:"id"`
	MatchID        string       `json:"match_id"`
	FingerprintID  string       `json:"fingerprint_id"`
	ListingID      string       `json:"listing_id"`
	Type           AlertType    `json:"type"`
	Payload        AlertPayload `json:"payload"`
	AcknowledgedAt *time.Time   `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// AlertPayload is the snapshot sent to the notification sink.
type AlertPayload struct {
	Vehicle     string   `json:"vehicle"`
	Score       float64  `json:"score"`
	Decision    string   `json:"decision"`
	GapAbs      *float64 `json:"gap_abs,omitempty"`
	GapPct      *float64 `json:"gap_pct,omitempty"`
	AskingPrice *float64 `json:"asking_price,omitempty"`
	ListingURL  string   `json:"listing_url,omitempty"`
}

// AlertTypeFor maps a decision tier to its alert type. Only BUY and WATCH
// produce alerts.
func AlertTypeFor(d DecisionTier) (AlertType, bool) {
	switch d {
	case DecisionBuy:
		return AlertBuy, true
	case DecisionWatch:
		return AlertWatch, true
	default:
		return "", false
	}
}
