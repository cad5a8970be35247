// ABOUTME: Premium computation for indicative tier quotes and the final quote.
// ABOUTME: Pure pricing functions; only the reference and issue date read the clock.

package quote

import (
	"fmt"
	"math"
	"time"

	"github.com/2389/matdevis-gateway/internal/underwriting"
)

// indicativeRate is the share of catalog value used as the indicative base.
const indicativeRate = 0.04

// indicativeMultipliers scale the indicative base per tier.
var indicativeMultipliers = map[underwriting.Formula]float64{
	underwriting.FormulaCivilLiability: 0.50,
	underwriting.FormulaThirdParty:     0.75,
	underwriting.FormulaThirdPartyPlus: 0.90,
	underwriting.FormulaComprehensive:  1.20,
}

// baseRates are the final-quote rates on catalog value per tier.
var baseRates = map[underwriting.Formula]float64{
	underwriting.FormulaCivilLiability: 0.02,
	underwriting.FormulaThirdParty:     0.03,
	underwriting.FormulaThirdPartyPlus: 0.036,
	underwriting.FormulaComprehensive:  0.048,
}

// Claims loading factors by at-fault claim count.
const (
	LoadingOneClaim  = 1.15
	LoadingTwoClaims = 1.35
)

// Flat option fees, in euros per year.
const (
	FeeDriverProtection   = 45
	FeeRoadsideAssistance = 35
	FeeReplacementVehicle = 60
)

// ReferencePrefix starts every quote reference.
const ReferencePrefix = "MAT-"

// IndicativeResult holds the four tier estimates for a vehicle.
type IndicativeResult struct {
	VehicleAge int                          `json:"age_vehicule"`
	Quotes     []underwriting.FormulaQuote `json:"formules"`
}

// FinalRequest carries every fact the final quote needs.
type FinalRequest struct {
	Vehicle    underwriting.Vehicle
	Subscriber underwriting.SubscriberProfile
	Claims     underwriting.ClaimsHistory
	Formula    underwriting.Formula
	Options    underwriting.Options
}

// Engine prices quotes. The zero value uses the wall clock.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an engine reading time from now. A nil now uses time.Now.
func NewEngine(now func() time.Time) *Engine {
	return &Engine{now: now}
}

func (e *Engine) clock() time.Time {
	if e == nil || e.now == nil {
		return time.Now()
	}
	return e.now()
}

// Indicative returns the annual and monthly estimate of every tier.
// Vehicle age is reported but does not affect the price.
func (e *Engine) Indicative(bonusMalus, catalogValue float64, modelYear int) IndicativeResult {
	base := catalogValue * indicativeRate * bonusMalus

	quotes := make([]underwriting.FormulaQuote, 0, len(underwriting.Formulas))
	for _, f := range underwriting.Formulas {
		annual := round(base * indicativeMultipliers[f])
		quotes = append(quotes, underwriting.FormulaQuote{
			Formula: f,
			Annual:  annual,
			Monthly: round(float64(annual) / 12),
		})
	}

	return IndicativeResult{
		VehicleAge: e.clock().Year() - modelYear,
		Quotes:     quotes,
	}
}

// Finalize prices the selected formula with claims loading and option fees.
// An unknown formula prices at the comprehensive rate; callers validate first.
func (e *Engine) Finalize(req FinalRequest) underwriting.FinalQuote {
	rate, ok := baseRates[req.Formula]
	if !ok {
		rate = baseRates[underwriting.FormulaComprehensive]
	}

	loading := ClaimsLoading(req.Claims.AtFault)
	premium := req.Vehicle.CatalogValue * rate * req.Subscriber.BonusMalus * loading
	premium += OptionFees(req.Options)

	issued := e.clock()
	return underwriting.FinalQuote{
		Reference:     Reference(issued),
		IssuedAt:      issued,
		ValidUntil:    issued.Add(underwriting.QuoteValidity),
		Formula:       req.Formula,
		Options:       req.Options,
		ClaimsLoading: loading,
		RiskTier:      RiskTier(req.Claims),
		Annual:        round(premium),
		Monthly:       round(premium / 12),
	}
}

// ClaimsLoading returns the multiplicative loading for an at-fault claim count.
func ClaimsLoading(atFault int) float64 {
	switch {
	case atFault >= 2:
		return LoadingTwoClaims
	case atFault == 1:
		return LoadingOneClaim
	default:
		return 1
	}
}

// OptionFees sums the flat fees of the enabled options.
func OptionFees(o underwriting.Options) float64 {
	var fees float64
	if o.DriverProtection {
		fees += FeeDriverProtection
	}
	if o.RoadsideAssistance {
		fees += FeeRoadsideAssistance
	}
	if o.ReplacementVehicle {
		fees += FeeReplacementVehicle
	}
	return fees
}

// RiskTier labels a claims history. It is advisory and never affects price.
func RiskTier(c underwriting.ClaimsHistory) underwriting.RiskTier {
	switch {
	case c.AtFault >= 2 || c.LicenseSuspended || c.SubstanceRelated:
		return underwriting.RiskAggravated
	case c.AtFault == 1:
		return underwriting.RiskStandardWithLoad
	default:
		return underwriting.RiskGood
	}
}

// Reference builds a short quote code from the last eight digits of the
// millisecond timestamp. Collisions are possible and harmless.
func Reference(t time.Time) string {
	ms := fmt.Sprintf("%08d", t.UnixMilli())
	return ReferencePrefix + ms[len(ms)-8:]
}

// maxAmount is the top of the int range, exactly representable as a float64.
const maxAmount = float64(math.MaxInt >> 11 << 11)

// round rounds half away from zero, saturating at maxAmount. Amounts are
// never negative here.
func round(v float64) int {
	r := math.Round(v)
	if !(r < maxAmount) {
		return int(maxAmount)
	}
	return int(r)
}
