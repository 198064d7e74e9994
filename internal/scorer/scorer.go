package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/gavelhound/sourcing-cli/internal/model"
	"github.com/gavelhound/sourcing-cli/internal/trim"
)

// Scorer computes match scores between fingerprints and listings. It is
// pure and stateless; one instance is safe for concurrent use across any
// number of (fingerprint, listing) pairs.
type Scorer struct {
	table *trim.Table
	w     Weights
}

// New creates a Scorer. A nil table falls back to the built-in ladders.
func New(table *trim.Table, w Weights) *Scorer {
	if table == nil {
		table = trim.DefaultTable()
	}
	return &Scorer{table: table, w: w}
}

// Score returns the match score for a (fingerprint, listing) pair together
// with the full reasons trail. A make/model mismatch short-circuits to zero:
// a wrong vehicle family must never accumulate points from tangential
// attribute matches.
func (s *Scorer) Score(f model.Fingerprint, l model.Listing) (float64, []model.Reason) {
	reasons := make([]model.Reason, 0, 10)

	if !model.SameFamily(f.Make, f.Model, l.Make, l.Model) {
		reasons = append(reasons, model.Reason{
			Factor: model.FactorMakeModel,
			Points: 0,
			Note:   fmt.Sprintf("wrong family: listing %s %s vs fingerprint %s %s", l.Make, l.Model, f.Make, f.Model),
		})
		return 0, reasons
	}

	score := s.w.MakeModel
	reasons = append(reasons, model.Reason{
		Factor: model.FactorMakeModel,
		Points: s.w.MakeModel,
		Note:   fmt.Sprintf("%s %s matches", f.Make, f.Model),
	})

	score += s.trimFactor(f, l, &reasons)
	score += s.odometerFactor(f, l, &reasons)
	score += s.priceFactor(f, l, &reasons)
	score += s.attributeFactors(f, l, &reasons)
	score += s.sourceFactor(l, &reasons)

	return score, reasons
}

// trimFactor scores the trim relationship. A downgrade penalizes rather
// than merely withholding points, so it actively suppresses otherwise
// well-aligned bad matches.
func (s *Scorer) trimFactor(f model.Fingerprint, l model.Listing, reasons *[]model.Reason) float64 {
	fc := trim.Classify(s.table, f.Make, f.Model, f.Variant)
	lc := trim.Classify(s.table, l.Make, l.Model, l.Variant)

	fingerprintTrim := f.TrimClass
	if fingerprintTrim == "" {
		fingerprintTrim = fc.TrimLabel
	}

	if lc.TrimLabel == trim.TrimUnknown || fingerprintTrim == trim.TrimUnknown {
		*reasons = append(*reasons, model.Reason{
			Factor: model.FactorTrim,
			Points: 0,
			Note:   "trim unknown on one side, cannot compare",
		})
		return 0
	}

	switch s.table.Allowed(lc.PlatformClass, lc.TrimLabel, fingerprintTrim) {
	case trim.RelationExact:
		*reasons = append(*reasons, model.Reason{
			Factor: model.FactorTrim,
			Points: s.w.TrimExact,
			Note:   fmt.Sprintf("trim %s exact match", lc.TrimLabel),
		})
		return s.w.TrimExact
	case trim.RelationUpgrade:
		*reasons = append(*reasons, model.Reason{
			Factor: model.FactorTrim,
			Points: s.w.TrimUpgrade,
			Note:   fmt.Sprintf("listing %s one rank below proven %s, upgrade play", lc.TrimLabel, fingerprintTrim),
		})
		return s.w.TrimUpgrade
	default:
		*reasons = append(*reasons, model.Reason{
			Factor: model.FactorTrim,
			Points: s.w.TrimDowngrade,
			Note:   fmt.Sprintf("listing %s does not ladder up to %s", lc.TrimLabel, fingerprintTrim),
		})
		return s.w.TrimDowngrade
	}
}

// odometerFactor awards points inside the reference-scaled tolerance band.
// Outside the band contributes nothing: mileage alone should not kill an
// otherwise strong match, it should just not help it.
func (s *Scorer) odometerFactor(f model.Fingerprint, l model.Listing, reasons *[]model.Reason) float64 {
	if l.Km == nil {
		*reasons = append(*reasons, model.Reason{
			Factor: model.FactorOdometer,
			Points: 0,
			Note:   "no odometer reading on listing",
		})
		return 0
	}
	if f.ReferenceKm <= 0 {
		*reasons = append(*reasons, model.Reason{
			Factor: model.FactorOdometer,
			Points: 0,
			Note:   "fingerprint has no reference odometer",
		})
		return 0
	}

	tolerance := s.w.OdometerTolerance(f.ReferenceKm)
	deviation := math.Abs(float64(*l.Km - f.ReferenceKm))
	if deviation <= tolerance {
		*reasons = append(*reasons, model.Reason{
			Factor: model.FactorOdometer,
			Points: s.w.Odometer,
			Note:   fmt.Sprintf("%d km within %.0f km of reference %d km", *l.Km, tolerance, f.ReferenceKm),
		})
		return s.w.Odometer
	}

	*reasons = append(*reasons, model.Reason{
		Factor: model.FactorOdometer,
		Points: 0,
		Note:   fmt.Sprintf("%d km outside band (reference %d km, tolerance %.0f km)", *l.Km, f.ReferenceKm, tolerance),
	})
	return 0
}

// priceFactor stacks two independent signals: asking at or below the target
// buy price, and asking below the historical sell price.
func (s *Scorer) priceFactor(f model.Fingerprint, l model.Listing, reasons *[]model.Reason) float64 {
	if l.AskingPrice == nil {
		*reasons = append(*reasons, model.Reason{
			Factor: model.FactorPriceTarget,
			Points: 0,
			Note:   "no asking price on listing",
		})
		return 0
	}

	var pts float64
	ask := *l.AskingPrice

	if target := f.TargetBuy(); target > 0 && ask <= target {
		pts += s.w.PriceTarget
		*reasons = append(*reasons, model.Reason{
			Factor: model.FactorPriceTarget,
			Points: s.w.PriceTarget,
			Note:   fmt.Sprintf("asking $%.0f at or below target buy $%.0f", ask, target),
		})
	}
	if f.SellPrice > 0 && ask < f.SellPrice {
		pts += s.w.PriceCeiling
		*reasons = append(*reasons, model.Reason{
			Factor: model.FactorPriceCeiling,
			Points: s.w.PriceCeiling,
			Note:   fmt.Sprintf("asking $%.0f below historical sell $%.0f", ask, f.SellPrice),
		})
	}
	return pts
}

// attributeFactors adds small increments for year window, drivetrain, fuel
// and transmission matches. None of these can salvage a mismatched family.
func (s *Scorer) attributeFactors(f model.Fingerprint, l model.Listing, reasons *[]model.Reason) float64 {
	var pts float64

	yearMax := f.YearMax
	if yearMax == 0 {
		yearMax = f.YearMin
	}
	if l.Year > 0 && f.YearMin > 0 && l.Year >= f.YearMin && l.Year <= yearMax {
		pts += s.w.Year
		*reasons = append(*reasons, model.Reason{
			Factor: model.FactorYear,
			Points: s.w.Year,
			Note:   fmt.Sprintf("year %d within %d-%d", l.Year, f.YearMin, yearMax),
		})
	}

	type attr struct {
		factor   model.Factor
		weight   float64
		fp, list string
	}
	for _, a := range []attr{
		{model.FactorDrivetrain, s.w.Drivetrain, f.Drivetrain, l.Drivetrain},
		{model.FactorFuel, s.w.Fuel, f.Fuel, l.Fuel},
		{model.FactorTransmission, s.w.Transmission, f.Transmission, l.Transmission},
	} {
		if a.fp != "" && a.list != "" && strings.EqualFold(a.fp, a.list) {
			pts += a.weight
			*reasons = append(*reasons, model.Reason{
				Factor: a.factor,
				Points: a.weight,
				Note:   fmt.Sprintf("%s matches", a.list),
			})
		}
	}
	return pts
}

// sourceFactor adds the provenance trust bonus for the listing source tier.
func (s *Scorer) sourceFactor(l model.Listing, reasons *[]model.Reason) float64 {
	bonus, ok := s.w.SourceTier[l.SourceClass]
	if !ok || bonus == 0 {
		return 0
	}
	*reasons = append(*reasons, model.Reason{
		Factor: model.FactorSourceTier,
		Points: bonus,
		Note:   fmt.Sprintf("source tier %s", l.SourceClass),
	})
	return bonus
}
