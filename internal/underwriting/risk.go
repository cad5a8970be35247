// ABOUTME: Advisory labels derived from underwriting facts (risk tier, bonus-malus band).
// ABOUTME: Labels never change a price; the quote engine owns all pricing.

package underwriting

// RiskTier is a non-numeric label for a claims profile.
type RiskTier string

const (
	RiskGood             RiskTier = "good_profile"
	RiskStandardWithLoad RiskTier = "standard_with_loading"
	RiskAggravated       RiskTier = "aggravated"
)

// BonusMalusBand is a coarse label for a bonus-malus coefficient.
type BonusMalusBand string

const (
	BandExcellent BonusMalusBand = "excellent"
	BandGood      BonusMalusBand = "good"
	BandStandard  BonusMalusBand = "standard"
	BandMalus     BonusMalusBand = "malus"
)

// BandFor returns the band of a coefficient.
func BandFor(bonusMalus float64) BonusMalusBand {
	switch {
	case bonusMalus <= 0.7:
		return BandExcellent
	case bonusMalus <= 1.0:
		return BandGood
	case bonusMalus <= 1.5:
		return BandStandard
	default:
		return BandMalus
	}
}
