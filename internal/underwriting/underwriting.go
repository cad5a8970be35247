// ABOUTME: Underwriting facts exchanged between quote steps: vehicle, subscriber, claims.
// ABOUTME: Pure value types with validation; nothing here is ever stored server-side.

package underwriting

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInput is returned when a fact violates its declared constraints.
var ErrInvalidInput = errors.New("invalid input")

// Bonus-malus coefficient bounds.
const (
	BonusMalusMin = 0.5
	BonusMalusMax = 3.5
)

// MaxCatalogValue caps vehicle values so every premium fits in an int.
const MaxCatalogValue = 1e9

// QuoteValidity is how long a final quote is advertised as valid. Advisory only.
const QuoteValidity = 30 * 24 * time.Hour

// Fuel is the vehicle fuel type.
type Fuel string

const (
	FuelPetrol   Fuel = "Essence"
	FuelDiesel   Fuel = "Diesel"
	FuelElectric Fuel = "Électrique"
	FuelHybrid   Fuel = "Hybride"
	FuelLPG      Fuel = "GPL"
)

// Fuels lists accepted fuel values in display order.
var Fuels = []Fuel{FuelPetrol, FuelDiesel, FuelElectric, FuelHybrid, FuelLPG}

// Usage is the main use of the vehicle.
type Usage string

const (
	UsageCommute      Usage = "Trajet domicile-travail"
	UsagePrivate      Usage = "Usage privé"
	UsageProfessional Usage = "Usage professionnel"
	UsageRounds       Usage = "Tournées"
)

// Usages lists accepted usage values.
var Usages = []Usage{UsageCommute, UsagePrivate, UsageProfessional, UsageRounds}

// Parking is where the vehicle is usually parked.
type Parking string

const (
	ParkingPrivateGarage Parking = "Garage privé"
	ParkingShared        Parking = "Parking collectif"
	ParkingStreet        Parking = "Rue"
)

// Parkings lists accepted parking values.
var Parkings = []Parking{ParkingPrivateGarage, ParkingShared, ParkingStreet}

// Formula is a coverage tier.
type Formula string

const (
	FormulaCivilLiability Formula = "Responsabilité Civile"
	FormulaThirdParty     Formula = "Tiers"
	FormulaThirdPartyPlus Formula = "Tiers Plus"
	FormulaComprehensive  Formula = "Tous Risques"
)

// Formulas lists the tiers from least to most coverage.
var Formulas = []Formula{FormulaCivilLiability, FormulaThirdParty, FormulaThirdPartyPlus, FormulaComprehensive}

// Vehicle describes the insured vehicle.
type Vehicle struct {
	Make         string  `json:"marque"`
	Model        string  `json:"modele"`
	Version      string  `json:"version,omitempty"`
	Year         int     `json:"annee"`
	Fuel         Fuel    `json:"carburant"`
	CatalogValue float64 `json:"valeur_catalogue"`
}

// Validate checks the vehicle fields.
func (v Vehicle) Validate() error {
	if v.Make == "" {
		return fmt.Errorf("%w: marque is required", ErrInvalidInput)
	}
	if v.Model == "" {
		return fmt.Errorf("%w: modele is required", ErrInvalidInput)
	}
	if v.Year <= 0 {
		return fmt.Errorf("%w: annee must be positive", ErrInvalidInput)
	}
	if !oneOf(v.Fuel, Fuels) {
		return fmt.Errorf("%w: carburant %q is not supported", ErrInvalidInput, v.Fuel)
	}
	return ValidateCatalogValue("valeur_catalogue", v.CatalogValue)
}

// SubscriberProfile holds the policyholder facts.
type SubscriberProfile struct {
	BirthDate       string  `json:"date_naissance"`
	LicenseDate     string  `json:"date_permis"`
	BonusMalus      float64 `json:"bonus_malus"`
	YearsInsured    int     `json:"annees_assurance"`
	Usage           Usage   `json:"usage"`
	Parking         Parking `json:"stationnement"`
	SecondaryDriver bool    `json:"conducteur_secondaire"`
}

// Validate checks the subscriber fields.
func (s SubscriberProfile) Validate() error {
	if s.BirthDate == "" {
		return fmt.Errorf("%w: date_naissance is required", ErrInvalidInput)
	}
	if s.LicenseDate == "" {
		return fmt.Errorf("%w: date_permis is required", ErrInvalidInput)
	}
	if err := ValidateBonusMalus(s.BonusMalus); err != nil {
		return err
	}
	if s.YearsInsured < 0 {
		return fmt.Errorf("%w: annees_assurance must not be negative", ErrInvalidInput)
	}
	if !oneOf(s.Usage, Usages) {
		return fmt.Errorf("%w: usage %q is not supported", ErrInvalidInput, s.Usage)
	}
	if !oneOf(s.Parking, Parkings) {
		return fmt.Errorf("%w: stationnement %q is not supported", ErrInvalidInput, s.Parking)
	}
	return nil
}

// ClaimsHistory summarises the last three years of claims.
type ClaimsHistory struct {
	AtFault          int  `json:"nb_sinistres_responsable"`
	NotAtFault       int  `json:"nb_sinistres_non_responsable"`
	GlassBreakage    int  `json:"nb_bris_glace"`
	TheftFire        int  `json:"nb_vol_incendie"`
	LicenseSuspended bool `json:"retrait_permis"`
	SubstanceRelated bool `json:"alcool_drogue"`
}

// Validate checks that every count is non-negative.
func (c ClaimsHistory) Validate() error {
	counts := []struct {
		name  string
		value int
	}{
		{"nb_sinistres_responsable", c.AtFault},
		{"nb_sinistres_non_responsable", c.NotAtFault},
		{"nb_bris_glace", c.GlassBreakage},
		{"nb_vol_incendie", c.TheftFire},
	}
	for _, n := range counts {
		if n.value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, n.name)
		}
	}
	return nil
}

// Options are the optional add-ons of a final quote.
type Options struct {
	DriverProtection   bool `json:"protection_conducteur"`
	RoadsideAssistance bool `json:"assistance_0km"`
	ReplacementVehicle bool `json:"vehicule_remplacement"`
}

// FormulaQuote is an indicative premium for one tier.
type FormulaQuote struct {
	Formula Formula `json:"formule"`
	Annual  int     `json:"prime_annuelle"`
	Monthly int     `json:"prime_mensuelle"`
}

// FinalQuote is the priced outcome of the last step.
type FinalQuote struct {
	Reference     string    `json:"reference"`
	IssuedAt      time.Time `json:"date"`
	ValidUntil    time.Time `json:"valable_jusqu_au"`
	Formula       Formula   `json:"formule"`
	Options       Options   `json:"options"`
	ClaimsLoading float64   `json:"majoration_sinistres"`
	RiskTier      RiskTier  `json:"profil_risque"`
	Annual        int       `json:"prime_annuelle"`
	Monthly       int       `json:"prime_mensuelle"`
}

// ValidateFormula checks that f names a known tier.
func ValidateFormula(f Formula) error {
	if !oneOf(f, Formulas) {
		return fmt.Errorf("%w: formule %q is not supported", ErrInvalidInput, f)
	}
	return nil
}

// ValidateBonusMalus checks the coefficient bounds.
func ValidateBonusMalus(b float64) error {
	if b < BonusMalusMin || b > BonusMalusMax {
		return fmt.Errorf("%w: bonus_malus %.2f outside [%.1f, %.1f]", ErrInvalidInput, b, BonusMalusMin, BonusMalusMax)
	}
	return nil
}

// ValidateCatalogValue checks that a vehicle value named field is in [0, MaxCatalogValue].
func ValidateCatalogValue(field string, v float64) error {
	if v < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, field)
	}
	if !(v <= MaxCatalogValue) {
		return fmt.Errorf("%w: %s must not exceed %.0f", ErrInvalidInput, field, MaxCatalogValue)
	}
	return nil
}

func oneOf[T comparable](v T, allowed []T) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
