package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelhound/sourcing-cli/internal/model"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func provenHilux() model.Fingerprint {
	return model.Fingerprint{
		ID:           "fp-1",
		Make:         "Toyota",
		Model:        "HiLux",
		Variant:      "SR5",
		TrimClass:    "SR5",
		YearMin:      2018,
		YearMax:      2021,
		ReferenceKm:  70000,
		BuyPrice:     38000,
		SellPrice:    45000,
		SampleCount:  12,
		Drivetrain:   "4x4",
		Fuel:         "Diesel",
		Transmission: "Auto",
	}
}

func hiluxListing() model.Listing {
	return model.Listing{
		ID:           "lst-1",
		Source:       "pickles",
		SourceClass:  model.SourceAuction,
		ExternalID:   "A100",
		Make:         "Toyota",
		Model:        "HiLux",
		Variant:      "SR5 Double Cab",
		Year:         2019,
		Km:           intPtr(76000),
		AskingPrice:  floatPtr(36000),
		Drivetrain:   "4x4",
		Fuel:         "Diesel",
		Transmission: "Auto",
	}
}

func reasonFor(reasons []model.Reason, f model.Factor) (model.Reason, bool) {
	for _, r := range reasons {
		if r.Factor == f {
			return r, true
		}
	}
	return model.Reason{}, false
}

func TestScore_MakeModelMismatchShortCircuits(t *testing.T) {
	s := New(nil, DefaultWeights())
	l := hiluxListing()
	l.Model = "Ranger"
	l.Make = "Ford"

	score, reasons := s.Score(provenHilux(), l)

	assert.Zero(t, score)
	// Only the short-circuit reason is recorded; no tangential factors ran.
	require.Len(t, reasons, 1)
	assert.Equal(t, model.FactorMakeModel, reasons[0].Factor)
	assert.Zero(t, reasons[0].Points)
	assert.Contains(t, reasons[0].Note, "wrong family")
}

func TestScore_FullAlignment(t *testing.T) {
	s := New(nil, DefaultWeights())

	score, reasons := s.Score(provenHilux(), hiluxListing())

	// 40 make/model + 15 trim exact + 12 km + 15 target + 5 ceiling
	// + 4 year + 3+3+3 attributes + 5 auction tier.
	assert.InDelta(t, 105, score, 0.001)

	for _, f := range []model.Factor{
		model.FactorMakeModel, model.FactorTrim, model.FactorOdometer,
		model.FactorPriceTarget, model.FactorPriceCeiling, model.FactorYear,
		model.FactorDrivetrain, model.FactorFuel, model.FactorTransmission,
		model.FactorSourceTier,
	} {
		r, ok := reasonFor(reasons, f)
		require.True(t, ok, "missing reason for %s", f)
		assert.Positive(t, r.Points, "factor %s", f)
	}
}

func TestScore_TrimUpgradeScoresLessThanExact(t *testing.T) {
	s := New(nil, DefaultWeights())

	exact, _ := s.Score(provenHilux(), hiluxListing())

	upgrade := hiluxListing()
	upgrade.Variant = "SR Dual Cab" // one rank below SR5
	upgradeScore, reasons := s.Score(provenHilux(), upgrade)

	assert.Less(t, upgradeScore, exact)
	r, ok := reasonFor(reasons, model.FactorTrim)
	require.True(t, ok)
	assert.InDelta(t, DefaultWeights().TrimUpgrade, r.Points, 0.001)
	assert.Contains(t, r.Note, "upgrade")
}

func TestScore_TrimDowngradePenalizes(t *testing.T) {
	w := DefaultWeights()
	s := New(nil, w)

	fp := provenHilux()
	fp.Variant = "SR"
	fp.TrimClass = "SR"

	l := hiluxListing() // SR5 listing against an SR fingerprint: downgrade.
	score, reasons := s.Score(fp, l)

	r, ok := reasonFor(reasons, model.FactorTrim)
	require.True(t, ok)
	assert.InDelta(t, w.TrimDowngrade, r.Points, 0.001)
	assert.Negative(t, r.Points)

	// The penalty pulls the total below the no-trim-information case.
	noTrim := hiluxListing()
	noTrim.Variant = "Double Cab"
	neutral, _ := s.Score(fp, noTrim)
	assert.Less(t, score, neutral)
}

func TestScore_UnknownTrimContributesNothing(t *testing.T) {
	s := New(nil, DefaultWeights())

	l := hiluxListing()
	l.Variant = "Double Cab Ute"
	_, reasons := s.Score(provenHilux(), l)

	r, ok := reasonFor(reasons, model.FactorTrim)
	require.True(t, ok)
	assert.Zero(t, r.Points)
	assert.Contains(t, r.Note, "cannot compare")
}

func TestScore_OdometerBandScalesWithReference(t *testing.T) {
	w := DefaultWeights()

	// 15,000 km deviation on a 70,000 km reference is within band.
	assert.Greater(t, w.OdometerTolerance(70000), 15000.0)

	// The same absolute deviation on a low reference falls outside.
	assert.Less(t, w.OdometerTolerance(40000), 15000.0)

	// Tolerance widens monotonically with the reference.
	prev := 0.0
	for _, ref := range []int{20000, 40000, 70000, 120000, 250000} {
		tol := w.OdometerTolerance(ref)
		assert.Greater(t, tol, prev)
		prev = tol
	}
}

func TestScore_OdometerOutsideBandNotNegative(t *testing.T) {
	s := New(nil, DefaultWeights())

	in := hiluxListing()
	in.Km = intPtr(82000)
	inScore, _ := s.Score(provenHilux(), in)

	out := hiluxListing()
	out.Km = intPtr(160000)
	outScore, reasons := s.Score(provenHilux(), out)

	r, ok := reasonFor(reasons, model.FactorOdometer)
	require.True(t, ok)
	assert.Zero(t, r.Points)
	assert.Contains(t, r.Note, "outside band")

	// Outside the band only withholds the bonus, it never subtracts.
	assert.InDelta(t, DefaultWeights().Odometer, inScore-outScore, 0.001)
}

func TestScore_PriceSignalsStack(t *testing.T) {
	w := DefaultWeights()
	s := New(nil, w)
	fp := provenHilux() // target buy 38,000, sell 45,000

	tests := []struct {
		name    string
		asking  float64
		wantPts float64
	}{
		{"below target, both stack", 36000, w.PriceTarget + w.PriceCeiling},
		{"between target and sell", 41000, w.PriceCeiling},
		{"at or above sell", 46000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := hiluxListing()
			l.AskingPrice = floatPtr(tt.asking)
			_, reasons := s.Score(fp, l)

			var pts float64
			if r, ok := reasonFor(reasons, model.FactorPriceTarget); ok {
				pts += r.Points
			}
			if r, ok := reasonFor(reasons, model.FactorPriceCeiling); ok {
				pts += r.Points
			}
			assert.InDelta(t, tt.wantPts, pts, 0.001)
		})
	}
}

func TestScore_MissingPriceRecordsReason(t *testing.T) {
	s := New(nil, DefaultWeights())
	l := hiluxListing()
	l.AskingPrice = nil

	_, reasons := s.Score(provenHilux(), l)
	r, ok := reasonFor(reasons, model.FactorPriceTarget)
	require.True(t, ok)
	assert.Zero(t, r.Points)
	assert.Contains(t, r.Note, "no asking price")
}

func TestScore_SourceTierOrdering(t *testing.T) {
	s := New(nil, DefaultWeights())
	fp := provenHilux()

	scoreFor := func(sc model.SourceClass) float64 {
		l := hiluxListing()
		l.SourceClass = sc
		total, _ := s.Score(fp, l)
		return total
	}

	auction := scoreFor(model.SourceAuction)
	dealer := scoreFor(model.SourceDealer)
	private := scoreFor(model.SourceClassifieds)

	assert.Greater(t, auction, dealer)
	assert.Greater(t, dealer, private)
}

func TestWeights_Validate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())

	w := DefaultWeights()
	w.MakeModel = 0
	assert.Error(t, w.Validate())

	w = DefaultWeights()
	w.TrimDowngrade = 2
	assert.Error(t, w.Validate())

	w = DefaultWeights()
	w.TrimUpgrade = w.TrimExact
	assert.Error(t, w.Validate())

	w = DefaultWeights()
	w.BandFraction = 0
	assert.Error(t, w.Validate())
}
