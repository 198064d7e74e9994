package model

import (
	"strings"
	"time"
)

// SourceClass groups listing origins by trust tier.
type SourceClass string

const (
	SourceAuction     SourceClass = "auction"
	SourceClassifieds SourceClass = "classifieds"
	SourceDealer      SourceClass = "dealer_direct"
)

// ListingStatus tracks a listing's lifecycle on its source.
type ListingStatus string

const (
	ListingStatusLive     ListingStatus = "live"
	ListingStatusPassedIn ListingStatus = "passed_in"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusDelisted ListingStatus = "delisted"
)

// Fingerprint is a proven, repeatable vehicle shape derived from historical
// buy/sell outcomes. The engine reads fingerprints; it never writes them.
type Fingerprint struct {
	ID            string  `json:"id"`
	Make          string  `json:"make"`
	Model         string  `json:"model"`
	Variant       string  `json:"variant,omitempty"`
	Body          string  `json:"body,omitempty"`
	Fuel          string  `json:"fuel,omitempty"`
	Transmission  string  `json:"transmission,omitempty"`
	Drivetrain    string  `json:"drivetrain,omitempty"`
	YearMin       int     `json:"year_min"`
	YearMax       int     `json:"year_max"`
	ReferenceKm   int     `json:"reference_km"`
	BuyPrice      float64 `json:"buy_price"`
	SellPrice     float64 `json:"sell_price"`
	SampleCount   int     `json:"sample_count"`
	PlatformClass string  `json:"platform_class,omitempty"`
	TrimClass     string  `json:"trim_class,omitempty"`
}

// Proven reports whether the fingerprint has enough historical outcomes to
// back a decision. Below three samples the shape is anecdote, not evidence.
func (f Fingerprint) Proven() bool {
	return f.SampleCount >= 3
}

// ExitValue returns the resolvable historical exit price, or false when the
// fingerprint carries no usable sell-side evidence.
func (f Fingerprint) ExitValue() (float64, bool) {
	if !f.Proven() || f.SellPrice <= 0 {
		return 0, false
	}
	return f.SellPrice, true
}

// TargetBuy is the price at which the shape has repeatedly been bought and
// resold at a margin.
func (f Fingerprint) TargetBuy() float64 {
	return f.BuyPrice
}

// Listing is a live marketplace/auction entry under consideration.
// Identity is (Source, ExternalID); re-sightings merge in place.
type Listing struct {
	ID           string        `json:"id"`
	Source       string        `json:"source"`
	SourceClass  SourceClass   `json:"source_class"`
	ExternalID   string        `json:"external_id"`
	URL          string        `json:"url,omitempty"`
	Make         string        `json:"make"`
	Model        string        `json:"model"`
	Variant      string        `json:"variant,omitempty"`
	Year         int           `json:"year"`
	Km           *int          `json:"km,omitempty"`
	AskingPrice  *float64      `json:"asking_price,omitempty"`
	Location     string        `json:"location,omitempty"`
	State        string        `json:"state,omitempty"`
	Drivetrain   string        `json:"drivetrain,omitempty"`
	Fuel         string        `json:"fuel,omitempty"`
	Transmission string        `json:"transmission,omitempty"`
	Status       ListingStatus `json:"status"`
	FirstSeenAt  time.Time     `json:"first_seen_at"`
	LastSeenAt   time.Time     `json:"last_seen_at"`

	// Auction rerun tracking. PassedInCount increments once per distinct
	// auction datetime at which the vehicle passed in.
	AuctionAt     *time.Time `json:"auction_at,omitempty"`
	PassedInCount int        `json:"passed_in_count"`
}

// Key returns the stable identity of the listing on its source.
func (l Listing) Key() string {
	return l.Source + ":" + l.ExternalID
}

// Age returns how long the listing has been live as of now.
func (l Listing) Age(now time.Time) time.Duration {
	if l.FirstSeenAt.IsZero() {
		return 0
	}
	return now.Sub(l.FirstSeenAt)
}

// MergeSighting folds a fresh crawl of the same listing into the prior state.
// Price, km and status update in place. A PASSED_IN sighting at a new auction
// datetime increments PassedInCount; re-reporting the same auction does not.
func (l *Listing) MergeSighting(fresh Listing) {
	if fresh.AskingPrice != nil {
		l.AskingPrice = fresh.AskingPrice
	}
	if fresh.Km != nil {
		l.Km = fresh.Km
	}
	if fresh.Status != "" {
		l.Status = fresh.Status
	}
	if !fresh.LastSeenAt.IsZero() {
		l.LastSeenAt = fresh.LastSeenAt
	}
	if fresh.Status == ListingStatusPassedIn && fresh.AuctionAt != nil {
		if l.AuctionAt == nil || !fresh.AuctionAt.Equal(*l.AuctionAt) {
			l.PassedInCount++
		}
	}
	if fresh.AuctionAt != nil {
		l.AuctionAt = fresh.AuctionAt
	}
}

// SameFamily reports whether two make/model pairs name the same vehicle
// family after case and whitespace normalization.
func SameFamily(makeA, modelA, makeB, modelB string) bool {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(makeA) == norm(makeB) && norm(modelA) == norm(modelB)
}
