// Package decision classifies scored (fingerprint, listing) pairs into
// BUY / WATCH / IGNORE / NO_EVIDENCE tiers.
package decision

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/gavelhound/sourcing-cli/internal/model"
)

// Thresholds holds the decision gates. BUY gates are conjunctive (all must
// hold); WATCH's gap gate is disjunctive (either floor clears it).
type Thresholds struct {
	BuyScore   float64       `yaml:"buy_score" mapstructure:"buy_score"`
	WatchScore float64       `yaml:"watch_score" mapstructure:"watch_score"`
	BuyMaxAge  time.Duration `yaml:"buy_max_age" mapstructure:"buy_max_age"`
	// WatchMaxAge is deliberately looser: stale buy signals are often
	// already sold or expired, stale watch signals are still worth eyes.
	WatchMaxAge time.Duration `yaml:"watch_max_age" mapstructure:"watch_max_age"`
	BuyGapAbs   float64       `yaml:"buy_gap_abs" mapstructure:"buy_gap_abs"`
	BuyGapPct   float64       `yaml:"buy_gap_pct" mapstructure:"buy_gap_pct"`
	WatchGapAbs float64       `yaml:"watch_gap_abs" mapstructure:"watch_gap_abs"`
	WatchGapPct float64       `yaml:"watch_gap_pct" mapstructure:"watch_gap_pct"`

	ConfidenceHigh   float64 `yaml:"confidence_high" mapstructure:"confidence_high"`
	ConfidenceMedium float64 `yaml:"confidence_medium" mapstructure:"confidence_medium"`

	// BuyDisallowedSources can WATCH but never auto-BUY.
	BuyDisallowedSources []model.SourceClass `yaml:"buy_disallowed_sources" mapstructure:"buy_disallowed_sources"`
}

// DefaultThresholds returns the reference gates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BuyScore:             75,
		WatchScore:           55,
		BuyMaxAge:            7 * 24 * time.Hour,
		WatchMaxAge:          21 * 24 * time.Hour,
		BuyGapAbs:            4000,
		BuyGapPct:            0.10,
		WatchGapAbs:          2000,
		WatchGapPct:          0.05,
		ConfidenceHigh:       85,
		ConfidenceMedium:     65,
		BuyDisallowedSources: []model.SourceClass{model.SourceClassifieds},
	}
}

// Validate rejects threshold sets that invert the tier ordering.
func (t Thresholds) Validate() error {
	if t.BuyScore <= t.WatchScore {
		return eris.New("decision: buy_score must exceed watch_score")
	}
	if t.BuyMaxAge <= 0 || t.WatchMaxAge < t.BuyMaxAge {
		return eris.New("decision: watch_max_age must be at least buy_max_age")
	}
	if t.BuyGapAbs < t.WatchGapAbs || t.BuyGapPct < t.WatchGapPct {
		return eris.New("decision: buy gap floors must be at least watch gap floors")
	}
	if t.ConfidenceHigh <= t.ConfidenceMedium {
		return eris.New("decision: confidence_high must exceed confidence_medium")
	}
	return nil
}

// Outcome is the policy's classification of one scored pair. Gap fields are
// populated whenever evidence exists, IGNORE included, so thresholds can be
// retuned retrospectively without re-scanning.
type Outcome struct {
	Decision   model.DecisionTier
	Confidence model.Confidence
	GapAbs     *float64
	GapPct     *float64
}

// Policy applies Thresholds. Pure and stateless; safe for concurrent use.
type Policy struct {
	t Thresholds
}

// NewPolicy creates a Policy from thresholds.
func NewPolicy(t Thresholds) *Policy {
	return &Policy{t: t}
}

// Decide classifies a scored pair. Missing price or an unproven fingerprint
// yields NO_EVIDENCE; a missing odometer reading caps the tier at WATCH.
func (p *Policy) Decide(f model.Fingerprint, l model.Listing, score float64, now time.Time) Outcome {
	out := Outcome{
		Decision:   model.DecisionNoEvidence,
		Confidence: p.Confidence(score),
	}

	exit, ok := f.ExitValue()
	if !ok || l.AskingPrice == nil {
		return out
	}

	gapAbs := exit - *l.AskingPrice
	gapPct := gapAbs / exit
	out.GapAbs = &gapAbs
	out.GapPct = &gapPct

	age := l.Age(now)

	if p.buyEligible(l, score, age, gapAbs, gapPct) {
		out.Decision = model.DecisionBuy
		return out
	}

	if score >= p.t.WatchScore && age <= p.t.WatchMaxAge &&
		(gapAbs >= p.t.WatchGapAbs || gapPct >= p.t.WatchGapPct) {
		out.Decision = model.DecisionWatch
		return out
	}

	out.Decision = model.DecisionIgnore
	return out
}

func (p *Policy) buyEligible(l model.Listing, score float64, age time.Duration, gapAbs, gapPct float64) bool {
	if score < p.t.BuyScore || age > p.t.BuyMaxAge {
		return false
	}
	if gapAbs < p.t.BuyGapAbs || gapPct < p.t.BuyGapPct {
		return false
	}
	// No odometer reading means no BUY, WATCH at best.
	if l.Km == nil {
		return false
	}
	for _, sc := range p.t.BuyDisallowedSources {
		if l.SourceClass == sc {
			return false
		}
	}
	return true
}

// Confidence is a monotonic function of score alone, independent of the
// decision tier: a WATCH can be high-confidence and a BUY can be low.
func (p *Policy) Confidence(score float64) model.Confidence {
	switch {
	case score >= p.t.ConfidenceHigh:
		return model.ConfidenceHigh
	case score >= p.t.ConfidenceMedium:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
