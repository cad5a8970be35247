// ABOUTME: The six quote steps exposed as tools: vehicle, subscriber, claims, formulas, final quote.
// ABOUTME: Every tool is computed from its own arguments; nothing carries over between calls.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/matdevis-gateway/internal/compose"
	"github.com/2389/matdevis-gateway/internal/quote"
	"github.com/2389/matdevis-gateway/internal/underwriting"
)

// Tool names
const (
	ToolVehicleByPlate = "matdevis_vehicule_immat"
	ToolVehicleManual  = "matdevis_vehicule_manuel"
	ToolSubscriber     = "matdevis_souscripteur"
	ToolClaims         = "matdevis_sinistralite"
	ToolFormulas       = "matdevis_formules"
	ToolFinalQuote     = "matdevis_devis_final"
)

// Deps are the collaborators of the quote tools.
type Deps struct {
	Engine   *quote.Engine
	Composer *compose.Composer
	Plates   underwriting.PlateResolver
}

// QuoteTools returns the quote workflow tools in step order.
func QuoteTools(d Deps) ([]*Tool, error) {
	if d.Engine == nil || d.Composer == nil {
		return nil, errors.New("engine and composer are required")
	}
	if d.Plates == nil {
		d.Plates = underwriting.SimulatedRegistry{}
	}
	h := &quoteHandlers{deps: d}

	return []*Tool{
		{
			Name:        ToolVehicleByPlate,
			Description: "Identifier le véhicule par sa plaque d'immatriculation",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"immatriculation":{"type":"string","description":"Plaque d'immatriculation ex: AB-123-CD"}},"required":["immatriculation"]}`),
			Handler:     h.VehicleByPlate,
		},
		{
			Name:        ToolVehicleManual,
			Description: "Identifier le véhicule manuellement si l'immatriculation est inconnue",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"marque":{"type":"string","description":"Marque du véhicule ex: Peugeot"},"modele":{"type":"string","description":"Modèle ex: 208"},"version":{"type":"string","description":"Version ex: 1.2 PureTech 100ch Allure"},"annee":{"type":"integer","description":"Année de mise en circulation ex: 2020"},"carburant":{"type":"string","enum":["Essence","Diesel","Électrique","Hybride","GPL"],"description":"Type de carburant"},"valeur_catalogue":{"type":"number","minimum":0,"maximum":1000000000,"description":"Valeur catalogue en euros ex: 22000"}},"required":["marque","modele","version","annee","carburant","valeur_catalogue"]}`),
			Handler:     h.VehicleManual,
		},
		{
			Name:        ToolSubscriber,
			Description: "Collecter les informations du souscripteur : permis, bonus-malus, usage du véhicule",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"date_naissance":{"type":"string","description":"Date de naissance JJ/MM/AAAA"},"date_permis":{"type":"string","description":"Date d'obtention du permis JJ/MM/AAAA"},"bonus_malus":{"type":"number","minimum":0.5,"maximum":3.5,"description":"Coefficient bonus-malus actuel ex: 0.85 pour un bon conducteur, 1.00 de base"},"annees_assurance":{"type":"integer","minimum":0,"description":"Nombre d'années d'assurance continue"},"usage":{"type":"string","enum":["Trajet domicile-travail","Usage privé","Usage professionnel","Tournées"],"description":"Usage principal du véhicule"},"stationnement":{"type":"string","enum":["Garage privé","Parking collectif","Rue"],"description":"Type de stationnement habituel"},"conducteur_secondaire":{"type":"boolean","description":"Y a-t-il un conducteur secondaire ? true ou false"}},"required":["date_naissance","date_permis","bonus_malus","annees_assurance","usage","stationnement","conducteur_secondaire"]}`),
			Handler:     h.Subscriber,
		},
		{
			Name:        ToolClaims,
			Description: "Collecter l'historique de sinistres des 3 dernières années",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"nb_sinistres_responsable":{"type":"integer","minimum":0,"description":"Nombre de sinistres responsables sur 3 ans"},"nb_sinistres_non_responsable":{"type":"integer","minimum":0,"description":"Nombre de sinistres non responsables sur 3 ans"},"nb_bris_glace":{"type":"integer","minimum":0,"description":"Nombre de bris de glace sur 3 ans"},"nb_vol_incendie":{"type":"integer","minimum":0,"description":"Nombre de vols ou incendies sur 3 ans"},"retrait_permis":{"type":"boolean","description":"Retrait ou suspension de permis dans les 3 ans ? true/false"},"alcool_drogue":{"type":"boolean","description":"Sinistre sous alcool ou stupéfiants ? true/false"}},"required":["nb_sinistres_responsable","nb_sinistres_non_responsable","nb_bris_glace","nb_vol_incendie","retrait_permis","alcool_drogue"]}`),
			Handler:     h.Claims,
		},
		{
			Name:        ToolFormulas,
			Description: "Présenter les formules d'assurance auto disponibles",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"bonus_malus":{"type":"number","minimum":0.5,"maximum":3.5,"description":"Coefficient bonus-malus du souscripteur"},"valeur_vehicule":{"type":"number","minimum":0,"maximum":1000000000,"description":"Valeur catalogue du véhicule en euros"},"annee_vehicule":{"type":"integer","description":"Année du véhicule"}},"required":["bonus_malus","valeur_vehicule","annee_vehicule"]}`),
			Handler:     h.Formulas,
		},
		{
			Name:        ToolFinalQuote,
			Description: "Générer le devis final complet avec récapitulatif de toutes les informations",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"marque":{"type":"string","description":"Marque du véhicule"},"modele":{"type":"string","description":"Modèle du véhicule"},"version":{"type":"string","description":"Version du véhicule"},"annee":{"type":"integer","description":"Année du véhicule"},"carburant":{"type":"string","description":"Type de carburant"},"valeur_catalogue":{"type":"number","minimum":0,"maximum":1000000000,"description":"Valeur catalogue en euros"},"date_naissance":{"type":"string","description":"Date de naissance"},"date_permis":{"type":"string","description":"Date du permis"},"bonus_malus":{"type":"number","minimum":0.5,"maximum":3.5,"description":"Coefficient bonus-malus"},"usage":{"type":"string","description":"Usage du véhicule"},"stationnement":{"type":"string","description":"Type de stationnement habituel"},"nb_sinistres":{"type":"integer","minimum":0,"description":"Nombre de sinistres responsables sur 3 ans"},"retrait_permis":{"type":"boolean","description":"Retrait ou suspension de permis dans les 3 ans"},"alcool_drogue":{"type":"boolean","description":"Sinistre sous alcool ou stupéfiants"},"formule":{"type":"string","enum":["Responsabilité Civile","Tiers","Tiers Plus","Tous Risques"],"description":"Formule d'assurance choisie"},"protection_conducteur":{"type":"boolean","description":"Option protection conducteur ? true/false"},"assistance_0km":{"type":"boolean","description":"Option assistance 0km ? true/false"},"vehicule_remplacement":{"type":"boolean","description":"Option véhicule de remplacement ? true/false"}},"required":["marque","modele","annee","carburant","valeur_catalogue","date_naissance","date_permis","bonus_malus","usage","nb_sinistres","formule","protection_conducteur","assistance_0km","vehicule_remplacement"]}`),
			Handler:     h.FinalQuote,
		},
	}, nil
}

type quoteHandlers struct {
	deps Deps
}

// VehicleByPlate identifies the vehicle registered under a plate.
func (h *quoteHandlers) VehicleByPlate(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Plate string `json:"immatriculation"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return Result{}, err
	}
	v, err := h.deps.Plates.Resolve(ctx, in.Plate)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: h.deps.Composer.PlateVehicle(in.Plate, v), Structured: v}, nil
}

// VehicleManual echoes a vehicle described by hand.
func (h *quoteHandlers) VehicleManual(_ context.Context, args json.RawMessage) (Result, error) {
	var v underwriting.Vehicle
	if err := decodeArgs(args, &v); err != nil {
		return Result{}, err
	}
	if err := v.Validate(); err != nil {
		return Result{}, err
	}
	return Result{Text: h.deps.Composer.ManualVehicle(v), Structured: v}, nil
}

// Subscriber echoes the policyholder profile with its bonus-malus band.
func (h *quoteHandlers) Subscriber(_ context.Context, args json.RawMessage) (Result, error) {
	var s underwriting.SubscriberProfile
	if err := decodeArgs(args, &s); err != nil {
		return Result{}, err
	}
	if err := s.Validate(); err != nil {
		return Result{}, err
	}
	out := struct {
		underwriting.SubscriberProfile
		Band underwriting.BonusMalusBand `json:"categorie_bonus_malus"`
	}{s, underwriting.BandFor(s.BonusMalus)}
	return Result{Text: h.deps.Composer.Subscriber(s), Structured: out}, nil
}

// Claims echoes the claims history with its risk tier.
func (h *quoteHandlers) Claims(_ context.Context, args json.RawMessage) (Result, error) {
	var c underwriting.ClaimsHistory
	if err := decodeArgs(args, &c); err != nil {
		return Result{}, err
	}
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	tier := quote.RiskTier(c)
	out := struct {
		underwriting.ClaimsHistory
		RiskTier underwriting.RiskTier `json:"profil_risque"`
	}{c, tier}
	return Result{Text: h.deps.Composer.Claims(c, tier), Structured: out}, nil
}

// Formulas lists the indicative price of every tier.
func (h *quoteHandlers) Formulas(_ context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		BonusMalus   float64 `json:"bonus_malus"`
		VehicleValue float64 `json:"valeur_vehicule"`
		VehicleYear  int     `json:"annee_vehicule"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return Result{}, err
	}
	if err := underwriting.ValidateBonusMalus(in.BonusMalus); err != nil {
		return Result{}, err
	}
	if err := underwriting.ValidateCatalogValue("valeur_vehicule", in.VehicleValue); err != nil {
		return Result{}, err
	}
	if in.VehicleYear <= 0 {
		return Result{}, fmt.Errorf("%w: annee_vehicule must be positive", underwriting.ErrInvalidInput)
	}

	res := h.deps.Engine.Indicative(in.BonusMalus, in.VehicleValue, in.VehicleYear)
	return Result{Text: h.deps.Composer.Formulas(res), Structured: res}, nil
}

// finalArgs are the facts restated by the caller for the final quote.
type finalArgs struct {
	Make             string               `json:"marque"`
	Model            string               `json:"modele"`
	Version          string               `json:"version"`
	Year             int                  `json:"annee"`
	Fuel             underwriting.Fuel    `json:"carburant"`
	CatalogValue     float64              `json:"valeur_catalogue"`
	BirthDate        string               `json:"date_naissance"`
	LicenseDate      string               `json:"date_permis"`
	BonusMalus       float64              `json:"bonus_malus"`
	Usage            underwriting.Usage   `json:"usage"`
	Parking          underwriting.Parking `json:"stationnement"`
	AtFault          int                  `json:"nb_sinistres"`
	LicenseSuspended bool                 `json:"retrait_permis"`
	SubstanceRelated bool                 `json:"alcool_drogue"`
	Formula          underwriting.Formula `json:"formule"`
	underwriting.Options
}

func (a finalArgs) request() (quote.FinalRequest, error) {
	if a.Make == "" || a.Model == "" {
		return quote.FinalRequest{}, fmt.Errorf("%w: marque and modele are required", underwriting.ErrInvalidInput)
	}
	if a.Year <= 0 {
		return quote.FinalRequest{}, fmt.Errorf("%w: annee must be positive", underwriting.ErrInvalidInput)
	}
	if err := underwriting.ValidateCatalogValue("valeur_catalogue", a.CatalogValue); err != nil {
		return quote.FinalRequest{}, err
	}
	if a.AtFault < 0 {
		return quote.FinalRequest{}, fmt.Errorf("%w: nb_sinistres must not be negative", underwriting.ErrInvalidInput)
	}
	if err := underwriting.ValidateBonusMalus(a.BonusMalus); err != nil {
		return quote.FinalRequest{}, err
	}
	if err := underwriting.ValidateFormula(a.Formula); err != nil {
		return quote.FinalRequest{}, err
	}

	return quote.FinalRequest{
		Vehicle: underwriting.Vehicle{
			Make: a.Make, Model: a.Model, Version: a.Version,
			Year: a.Year, Fuel: a.Fuel, CatalogValue: a.CatalogValue,
		},
		Subscriber: underwriting.SubscriberProfile{
			BirthDate: a.BirthDate, LicenseDate: a.LicenseDate,
			BonusMalus: a.BonusMalus, Usage: a.Usage, Parking: a.Parking,
		},
		Claims: underwriting.ClaimsHistory{
			AtFault:          a.AtFault,
			LicenseSuspended: a.LicenseSuspended,
			SubstanceRelated: a.SubstanceRelated,
		},
		Formula: a.Formula,
		Options: a.Options,
	}, nil
}

// FinalQuote prices the chosen formula and prints the full summary.
func (h *quoteHandlers) FinalQuote(_ context.Context, args json.RawMessage) (Result, error) {
	var in finalArgs
	if err := decodeArgs(args, &in); err != nil {
		return Result{}, err
	}
	req, err := in.request()
	if err != nil {
		return Result{}, err
	}

	q := h.deps.Engine.Finalize(req)
	return Result{Text: h.deps.Composer.FinalQuote(req, q), Structured: q}, nil
}
