// Package scorer implements weighted multi-factor scoring of live listings
// against proven vehicle fingerprints.
package scorer

import (
	"github.com/rotisserie/eris"

	"github.com/gavelhound/sourcing-cli/internal/model"
)

// Weights calibrates the scorer's factor contributions. Absolute values are
// tunable per caller; the relative ordering (make/model dominant, trim next,
// then odometer/price, then small attribute increments) must be preserved.
type Weights struct {
	MakeModel     float64 `yaml:"make_model" mapstructure:"make_model"`
	TrimExact     float64 `yaml:"trim_exact" mapstructure:"trim_exact"`
	TrimUpgrade   float64 `yaml:"trim_upgrade" mapstructure:"trim_upgrade"`
	TrimDowngrade float64 `yaml:"trim_downgrade" mapstructure:"trim_downgrade"`
	Odometer      float64 `yaml:"odometer" mapstructure:"odometer"`
	PriceTarget   float64 `yaml:"price_target" mapstructure:"price_target"`
	PriceCeiling  float64 `yaml:"price_ceiling" mapstructure:"price_ceiling"`
	Year          float64 `yaml:"year" mapstructure:"year"`
	Drivetrain    float64 `yaml:"drivetrain" mapstructure:"drivetrain"`
	Fuel          float64 `yaml:"fuel" mapstructure:"fuel"`
	Transmission  float64 `yaml:"transmission" mapstructure:"transmission"`

	// Odometer tolerance = ReferenceKm*BandFraction + BandFloorKm. The band
	// widens with the reference: 15,000 km off a 200,000 km car is noise,
	// the same deviation off a 40,000 km car is not.
	BandFraction float64 `yaml:"band_fraction" mapstructure:"band_fraction"`
	BandFloorKm  float64 `yaml:"band_floor_km" mapstructure:"band_floor_km"`

	// SourceTier is a fixed trust bonus per listing source class.
	SourceTier map[model.SourceClass]float64 `yaml:"source_tier" mapstructure:"source_tier"`
}

// DefaultWeights returns the reference calibration.
func DefaultWeights() Weights {
	return Weights{
		MakeModel:     40,
		TrimExact:     15,
		TrimUpgrade:   8,
		TrimDowngrade: -10,
		Odometer:      12,
		PriceTarget:   15,
		PriceCeiling:  5,
		Year:          4,
		Drivetrain:    3,
		Fuel:          3,
		Transmission:  3,
		BandFraction:  0.15,
		BandFloorKm:   5000,
		SourceTier: map[model.SourceClass]float64{
			model.SourceAuction:     5,
			model.SourceDealer:      3,
			model.SourceClassifieds: 0,
		},
	}
}

// Validate rejects calibrations that would make scoring meaningless.
// A validation failure is fatal configuration, not an input-quality issue.
func (w Weights) Validate() error {
	if w.MakeModel <= 0 {
		return eris.New("scorer: make_model weight must be positive")
	}
	if w.TrimExact <= w.TrimUpgrade {
		return eris.New("scorer: trim_exact must outweigh trim_upgrade")
	}
	if w.TrimDowngrade >= 0 {
		return eris.New("scorer: trim_downgrade must be negative")
	}
	if w.BandFraction <= 0 || w.BandFloorKm < 0 {
		return eris.New("scorer: odometer band must be positive")
	}
	return nil
}

// OdometerTolerance returns the absolute km tolerance for a reference
// odometer reading. Widens monotonically as the reference increases.
func (w Weights) OdometerTolerance(referenceKm int) float64 {
	return float64(referenceKm)*w.BandFraction + w.BandFloorKm
}
