// ABOUTME: Human-readable French replies for each quote step.
// ABOUTME: Builds markdown text; optionally renders it to HTML with goldmark.

package compose

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/matdevis-gateway/internal/quote"
	"github.com/2389/matdevis-gateway/internal/underwriting"
)

// Format selects the reply markup.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

const separator = "━━━━━━━━━━━━━━━━━━━━━━━━"

// Composer renders replies. The zero value writes markdown in local time.
type Composer struct {
	format   Format
	location *time.Location
	logger   *slog.Logger
}

// New returns a composer. An empty format means markdown; a nil location means time.Local.
func New(format Format, location *time.Location, logger *slog.Logger) (*Composer, error) {
	switch format {
	case "":
		format = FormatMarkdown
	case FormatMarkdown, FormatHTML:
	default:
		return nil, fmt.Errorf("unknown presentation format %q", format)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{format: format, location: location, logger: logger}, nil
}

// PlateVehicle confirms the vehicle found for a plate.
func (c *Composer) PlateVehicle(plate string, v underwriting.Vehicle) string {
	var b strings.Builder
	b.WriteString("🚗 **MatDevis — Identification véhicule**\n\n")
	fmt.Fprintf(&b, "Plaque saisie : **%s**\n\n", underwriting.NormalizePlate(plate))
	b.WriteString("✅ Véhicule identifié (simulation) :\n")
	fmt.Fprintf(&b, "• Marque : %s\n", v.Make)
	fmt.Fprintf(&b, "• Modèle : %s\n", v.Model)
	fmt.Fprintf(&b, "• Version : %s\n", v.Version)
	fmt.Fprintf(&b, "• Année : %d\n", v.Year)
	fmt.Fprintf(&b, "• Carburant : %s\n", v.Fuel)
	fmt.Fprintf(&b, "• Valeur catalogue : %s €\n\n", Number(v.CatalogValue))
	b.WriteString("➡️ Véhicule confirmé ? Je passe à la collecte de vos informations personnelles.\n")
	b.WriteString(nextStep("souscripteur", "pour continuer"))
	return c.render(b.String())
}

// ManualVehicle confirms a vehicle entered by hand.
func (c *Composer) ManualVehicle(v underwriting.Vehicle) string {
	var b strings.Builder
	b.WriteString("🚗 **MatDevis — Véhicule enregistré**\n\n")
	fmt.Fprintf(&b, "• Marque : **%s**\n", v.Make)
	fmt.Fprintf(&b, "• Modèle : **%s**\n", v.Model)
	fmt.Fprintf(&b, "• Version : **%s**\n", v.Version)
	fmt.Fprintf(&b, "• Année : **%d**\n", v.Year)
	fmt.Fprintf(&b, "• Carburant : **%s**\n", v.Fuel)
	fmt.Fprintf(&b, "• Valeur catalogue : **%s €**\n\n", Number(v.CatalogValue))
	b.WriteString("✅ Véhicule enregistré avec succès.\n\n")
	b.WriteString("➡️ Étape suivante : vos informations personnelles.\n")
	b.WriteString(nextStep("souscripteur", "pour continuer"))
	return c.render(b.String())
}

var bandLabels = map[underwriting.BonusMalusBand]string{
	underwriting.BandExcellent: "🏆 Excellent",
	underwriting.BandGood:      "✅ Bon conducteur",
	underwriting.BandStandard:  "⚠️ Conducteur standard",
	underwriting.BandMalus:     "🔴 Malussé",
}

// Subscriber summarises the policyholder profile.
func (c *Composer) Subscriber(s underwriting.SubscriberProfile) string {
	var b strings.Builder
	b.WriteString("👤 **MatDevis — Profil souscripteur enregistré**\n\n")
	fmt.Fprintf(&b, "• Date de naissance : **%s**\n", s.BirthDate)
	fmt.Fprintf(&b, "• Date permis : **%s**\n", s.LicenseDate)
	fmt.Fprintf(&b, "• Bonus-malus : **%s** %s\n", Coefficient(s.BonusMalus), bandLabels[underwriting.BandFor(s.BonusMalus)])
	fmt.Fprintf(&b, "• Ancienneté assurance : **%d ans**\n", s.YearsInsured)
	fmt.Fprintf(&b, "• Usage : **%s**\n", s.Usage)
	fmt.Fprintf(&b, "• Stationnement : **%s**\n", s.Parking)
	fmt.Fprintf(&b, "• Conducteur secondaire : **%s**\n\n", yesNo(s.SecondaryDriver))
	b.WriteString("➡️ Étape suivante : votre historique de sinistres.\n")
	b.WriteString(nextStep("sinistralite", "pour continuer"))
	return c.render(b.String())
}

var riskLabels = map[underwriting.RiskTier]string{
	underwriting.RiskAggravated:       "🔴 Profil aggravé — tarification majorée applicable",
	underwriting.RiskStandardWithLoad: "🟡 Profil standard — légère majoration",
	underwriting.RiskGood:             "🟢 Bon profil — aucune majoration",
}

// Claims summarises the claims history and its risk tier.
func (c *Composer) Claims(h underwriting.ClaimsHistory, tier underwriting.RiskTier) string {
	suspended, substance := "Non", "Non"
	if h.LicenseSuspended {
		suspended = "Oui ⚠️"
	}
	if h.SubstanceRelated {
		substance = "Oui 🔴"
	}

	var b strings.Builder
	b.WriteString("📋 **MatDevis — Historique sinistres enregistré**\n\n")
	fmt.Fprintf(&b, "• Sinistres responsables : **%d**\n", h.AtFault)
	fmt.Fprintf(&b, "• Sinistres non responsables : **%d**\n", h.NotAtFault)
	fmt.Fprintf(&b, "• Bris de glace : **%d**\n", h.GlassBreakage)
	fmt.Fprintf(&b, "• Vol / Incendie : **%d**\n", h.TheftFire)
	fmt.Fprintf(&b, "• Retrait de permis : **%s**\n", suspended)
	fmt.Fprintf(&b, "• Sinistre alcool/drogue : **%s**\n\n", substance)
	fmt.Fprintf(&b, "%s\n\n", riskLabels[tier])
	b.WriteString("➡️ Étape suivante : choisir votre formule d'assurance.\n")
	b.WriteString(nextStep("formules", "pour voir les offres disponibles"))
	return c.render(b.String())
}

// formulaCard is the fixed marketing text of one tier.
type formulaCard struct {
	title string
	lines []string
}

var formulaCards = map[underwriting.Formula]formulaCard{
	underwriting.FormulaCivilLiability: {
		title: "**1️⃣ Formule RESPONSABILITÉ CIVILE**",
		lines: []string{
			"Garanties : RC seule (obligatoire)",
			"✅ Dommages causés aux tiers",
			"❌ Pas de protection de votre véhicule",
		},
	},
	underwriting.FormulaThirdParty: {
		title: "**2️⃣ Formule TIERS**",
		lines: []string{
			"Garanties : RC + Vol + Incendie + Bris de glace",
			"✅ Protection vol et incendie incluse",
			"❌ Dommages collision non couverts",
		},
	},
	underwriting.FormulaThirdPartyPlus: {
		title: "**3️⃣ Formule TIERS PLUS**",
		lines: []string{
			"Garanties : Tiers + Dommages collision toutes causes",
			"✅ Collision, tentative de vol, catastrophes naturelles",
			"❌ Franchise de 300 €",
		},
	},
	underwriting.FormulaComprehensive: {
		title: "**4️⃣ Formule TOUS RISQUES** ⭐ Recommandée",
		lines: []string{
			"Garanties : Toutes causes + Assistance 0 km + Protection conducteur",
			"✅ Couverture maximale, franchise réduite",
			"✅ Véhicule de remplacement inclus",
		},
	},
}

// Formulas presents the four tiers with their indicative prices.
func (c *Composer) Formulas(res quote.IndicativeResult) string {
	var b strings.Builder
	b.WriteString("🛡️ **MatDevis — Formules disponibles**\n\n")
	fmt.Fprintf(&b, "Basé sur votre profil et votre véhicule (%d ans d'âge) :\n\n", res.VehicleAge)
	for _, q := range res.Quotes {
		card := formulaCards[q.Formula]
		b.WriteString(separator + "\n")
		b.WriteString(card.title + "\n")
		for _, l := range card.lines {
			fmt.Fprintf(&b, "• %s\n", l)
		}
		fmt.Fprintf(&b, "• 💶 Estimation : **%d €/an** (%d €/mois)\n\n", q.Annual, q.Monthly)
	}
	b.WriteString(separator + "\n\n")
	b.WriteString("➡️ Quelle formule vous intéresse ?\n")
	b.WriteString(nextStep("devis_final", "en précisant votre choix"))
	return c.render(b.String())
}

// FinalQuote prints the full quote summary.
func (c *Composer) FinalQuote(req quote.FinalRequest, q underwriting.FinalQuote) string {
	v, s := req.Vehicle, req.Subscriber

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("╔══════════════════════════════════════╗\n")
	b.WriteString("║     🚗 DEVIS ASSURANCE AUTOMOBILE    ║\n")
	b.WriteString("║           MatDevis Agent IA          ║\n")
	b.WriteString("╚══════════════════════════════════════╝\n\n")
	fmt.Fprintf(&b, "📌 Référence : **%s**\n", q.Reference)
	fmt.Fprintf(&b, "📅 Date : **%s**\n\n", Date(c.local(q.IssuedAt)))

	b.WriteString("━━━ 🚗 VÉHICULE ━━━━━━━━━━━━━━━━━━━━━\n")
	model := v.Model
	if v.Version != "" {
		model += " " + v.Version
	}
	fmt.Fprintf(&b, "• %s %s — %d — %s\n", v.Make, model, v.Year, v.Fuel)
	fmt.Fprintf(&b, "• Valeur catalogue : %s €\n\n", Number(v.CatalogValue))

	b.WriteString("━━━ 👤 SOUSCRIPTEUR ━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "• Né(e) le : %s\n", s.BirthDate)
	fmt.Fprintf(&b, "• Permis obtenu le : %s\n", s.LicenseDate)
	fmt.Fprintf(&b, "• Bonus-malus : %s %s\n", Coefficient(s.BonusMalus), bonusMark(s.BonusMalus))
	fmt.Fprintf(&b, "• Usage : %s\n\n", s.Usage)

	b.WriteString("━━━ 📋 SINISTRALITÉ ━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "• Sinistres responsables (3 ans) : %d\n", req.Claims.AtFault)
	fmt.Fprintf(&b, "• Impact tarif : %s\n", loadingLabel(req.Claims.AtFault))
	fmt.Fprintf(&b, "• %s\n\n", riskLabels[q.RiskTier])

	b.WriteString("━━━ 🛡️ FORMULE CHOISIE ━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "• **%s**\n", q.Formula)
	fmt.Fprintf(&b, "• Protection conducteur : %s\n", optionLabel(q.Options.DriverProtection, quote.FeeDriverProtection, "Incluse", "souscrite"))
	fmt.Fprintf(&b, "• Assistance 0km : %s\n", optionLabel(q.Options.RoadsideAssistance, quote.FeeRoadsideAssistance, "Incluse", "souscrite"))
	fmt.Fprintf(&b, "• Véhicule de remplacement : %s\n\n", optionLabel(q.Options.ReplacementVehicle, quote.FeeReplacementVehicle, "Inclus", "souscrit"))

	b.WriteString("━━━ 💶 TARIFICATION ━━━━━━━━━━━━━━━━━\n")
	b.WriteString("┌─────────────────────────────────────┐\n")
	fmt.Fprintf(&b, "│  Prime annuelle :  **%d €/an**       │\n", q.Annual)
	fmt.Fprintf(&b, "│  Prime mensuelle : **%d €/mois**     │\n", q.Monthly)
	b.WriteString("└─────────────────────────────────────┘\n\n")

	fmt.Fprintf(&b, "✅ Ce devis est valable **30 jours** (jusqu'au %s).\n", Date(c.local(q.ValidUntil)))
	b.WriteString("📞 Pour souscrire, contactez votre conseiller\n")
	fmt.Fprintf(&b, "    en mentionnant la réf. **%s**\n\n", q.Reference)
	b.WriteString("_Devis généré par MatDevis Agent IA — Non contractuel_")
	return c.render(b.String())
}

// Failure explains a rejected tool call.
func (c *Composer) Failure(err error) string {
	return c.render(fmt.Sprintf("⚠️ **MatDevis — Données invalides**\n\n%s", err))
}

func nextStep(tool, purpose string) string {
	return fmt.Sprintf("Appelez **@MatDevis** avec l'outil *%s* %s.", tool, purpose)
}

func bonusMark(b float64) string {
	switch {
	case b <= 0.8:
		return "🏆"
	case b <= 1:
		return "✅"
	default:
		return "⚠️"
	}
}

func loadingLabel(atFault int) string {
	switch {
	case atFault <= 0:
		return "Aucun ✅"
	case atFault == 1:
		return "+15% ⚠️"
	default:
		return "+35% 🔴"
	}
}

func optionLabel(on bool, fee int, included, subscribed string) string {
	if on {
		return fmt.Sprintf("✅ %s (+%d€)", included, fee)
	}
	return "❌ Non " + subscribed
}

func (c *Composer) local(t time.Time) time.Time {
	if c == nil || c.location == nil {
		return t.Local()
	}
	return t.In(c.location)
}

// render returns markdown unchanged, or HTML when configured. A conversion
// failure falls back to the markdown text.
func (c *Composer) render(md string) string {
	if c == nil || c.format != FormatHTML {
		return md
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		c.logger.Error("failed to convert markdown", "error", err)
		return md
	}
	return buf.String()
}
