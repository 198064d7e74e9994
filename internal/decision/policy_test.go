package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhound/sourcing-cli/internal/model"
)

var now = time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func fingerprint() model.Fingerprint {
	return model.Fingerprint{
		ID:          "fp-1",
		Make:        "Toyota",
		Model:       "HiLux",
		SellPrice:   45000,
		BuyPrice:    38000,
		SampleCount: 12,
	}
}

func listing() model.Listing {
	return model.Listing{
		ID:          "lst-1",
		SourceClass: model.SourceAuction,
		Km:          intPtr(76000),
		AskingPrice: floatPtr(36000),
		FirstSeenAt: now.Add(-48 * time.Hour),
	}
}

func TestDecide_Buy(t *testing.T) {
	p := NewPolicy(DefaultThresholds())

	out := p.Decide(fingerprint(), listing(), 89, now)

	assert.Equal(t, model.DecisionBuy, out.Decision)
	require.NotNil(t, out.GapAbs)
	require.NotNil(t, out.GapPct)
	assert.InDelta(t, 9000, *out.GapAbs, 0.001)
	assert.InDelta(t, 0.20, *out.GapPct, 0.001)
	assert.Equal(t, model.ConfidenceHigh, out.Confidence)
}

func TestDecide_NoEvidence(t *testing.T) {
	p := NewPolicy(DefaultThresholds())

	t.Run("unproven fingerprint", func(t *testing.T) {
		fp := fingerprint()
		fp.SampleCount = 2
		out := p.Decide(fp, listing(), 95, now)
		assert.Equal(t, model.DecisionNoEvidence, out.Decision)
		assert.Nil(t, out.GapAbs)
		assert.Nil(t, out.GapPct)
	})

	t.Run("no exit value", func(t *testing.T) {
		fp := fingerprint()
		fp.SellPrice = 0
		out := p.Decide(fp, listing(), 95, now)
		assert.Equal(t, model.DecisionNoEvidence, out.Decision)
	})

	t.Run("no asking price", func(t *testing.T) {
		l := listing()
		l.AskingPrice = nil
		out := p.Decide(fingerprint(), l, 95, now)
		assert.Equal(t, model.DecisionNoEvidence, out.Decision)
		assert.Nil(t, out.GapAbs)
	})
}

func TestDecide_MissingOdometerCapsAtWatch(t *testing.T) {
	p := NewPolicy(DefaultThresholds())

	l := listing()
	l.Km = nil
	l.AskingPrice = floatPtr(33000)

	out := p.Decide(fingerprint(), l, 95, now)
	assert.Equal(t, model.DecisionWatch, out.Decision)
}

func TestDecide_DisallowedSourceCapsAtWatch(t *testing.T) {
	p := NewPolicy(DefaultThresholds())

	l := listing()
	l.SourceClass = model.SourceClassifieds

	out := p.Decide(fingerprint(), l, 89, now)
	assert.Equal(t, model.DecisionWatch, out.Decision)
}

func TestDecide_StaleListingDropsTier(t *testing.T) {
	p := NewPolicy(DefaultThresholds())

	t.Run("too old for buy, still watch", func(t *testing.T) {
		l := listing()
		l.FirstSeenAt = now.Add(-10 * 24 * time.Hour)
		out := p.Decide(fingerprint(), l, 89, now)
		assert.Equal(t, model.DecisionWatch, out.Decision)
	})

	t.Run("too old for watch", func(t *testing.T) {
		l := listing()
		l.FirstSeenAt = now.Add(-30 * 24 * time.Hour)
		out := p.Decide(fingerprint(), l, 89, now)
		assert.Equal(t, model.DecisionIgnore, out.Decision)
	})
}

func TestDecide_WatchGapIsDisjunctive(t *testing.T) {
	p := NewPolicy(DefaultThresholds())
	fp := fingerprint()

	// Absolute floor met, percentage floor missed: a $200k exit with a
	// $3,000 gap is only 1.5%.
	fp.SellPrice = 200000
	fp.BuyPrice = 180000
	l := listing()
	l.AskingPrice = floatPtr(197000)

	out := p.Decide(fp, l, 60, now)
	assert.Equal(t, model.DecisionWatch, out.Decision)
}

func TestDecide_IgnoreKeepsGap(t *testing.T) {
	p := NewPolicy(DefaultThresholds())

	l := listing()
	l.AskingPrice = floatPtr(44500) // gap $500 / ~1.1%: fails both floors

	out := p.Decide(fingerprint(), l, 89, now)
	assert.Equal(t, model.DecisionIgnore, out.Decision)
	require.NotNil(t, out.GapAbs)
	assert.InDelta(t, 500, *out.GapAbs, 0.001)
	require.NotNil(t, out.GapPct)
}

func TestDecide_PriceMonotonicity(t *testing.T) {
	p := NewPolicy(DefaultThresholds())
	fp := fingerprint()

	rank := map[model.DecisionTier]int{
		model.DecisionBuy:    3,
		model.DecisionWatch:  2,
		model.DecisionIgnore: 1,
	}

	prevGap := 1e12
	prevRank := 4
	for _, ask := range []float64{34000, 38000, 41000, 43500, 44800} {
		l := listing()
		l.AskingPrice = floatPtr(ask)
		out := p.Decide(fp, l, 89, now)

		require.NotNil(t, out.GapAbs)
		assert.Less(t, *out.GapAbs, prevGap)
		prevGap = *out.GapAbs

		// Raising the asking price can only move the tier downward.
		assert.LessOrEqual(t, rank[out.Decision], prevRank)
		prevRank = rank[out.Decision]
	}
}

func TestConfidence_MonotonicInScoreOnly(t *testing.T) {
	p := NewPolicy(DefaultThresholds())

	assert.Equal(t, model.ConfidenceLow, p.Confidence(40))
	assert.Equal(t, model.ConfidenceMedium, p.Confidence(65))
	assert.Equal(t, model.ConfidenceMedium, p.Confidence(84))
	assert.Equal(t, model.ConfidenceHigh, p.Confidence(85))

	// A watch-tier outcome can still be high confidence.
	l := listing()
	l.SourceClass = model.SourceClassifieds
	out := p.Decide(fingerprint(), l, 90, now)
	assert.Equal(t, model.DecisionWatch, out.Decision)
	assert.Equal(t, model.ConfidenceHigh, out.Confidence)
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	tr := DefaultThresholds()
	tr.WatchScore = tr.BuyScore
	assert.Error(t, tr.Validate())

	tr = DefaultThresholds()
	tr.WatchMaxAge = tr.BuyMaxAge - time.Hour
	assert.Error(t, tr.Validate())

	tr = DefaultThresholds()
	tr.ConfidenceMedium = tr.ConfidenceHigh
	assert.Error(t, tr.Validate())
}
