// ABOUTME: Offline final quote command running the same engine as the gateway
// ABOUTME: Accepts formula names or short slugs and prints text or the JSON payload

package main

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/matdevis-gateway/internal/compose"
	"github.com/2389/matdevis-gateway/internal/quote"
	"github.com/2389/matdevis-gateway/internal/underwriting"
)

// formulaSlugs are the command-line spellings of each tier.
var formulaSlugs = map[string]underwriting.Formula{
	"rc":           underwriting.FormulaCivilLiability,
	"tiers":        underwriting.FormulaThirdParty,
	"tiers-plus":   underwriting.FormulaThirdPartyPlus,
	"tous-risques": underwriting.FormulaComprehensive,
}

func parseFormula(s string) (underwriting.Formula, error) {
	s = strings.TrimSpace(s)
	if f, ok := formulaSlugs[strings.ToLower(s)]; ok {
		return f, nil
	}
	for _, f := range underwriting.Formulas {
		if strings.EqualFold(string(f), s) {
			return f, nil
		}
	}
	return "", underwriting.ValidateFormula(underwriting.Formula(s))
}

type quoteFlags struct {
	formula    string
	value      float64
	bonusMalus float64
	claims     int
	options    underwriting.Options
	asJSON     bool
}

func (f quoteFlags) request() (quote.FinalRequest, error) {
	formula, err := parseFormula(f.formula)
	if err != nil {
		return quote.FinalRequest{}, err
	}
	if err := underwriting.ValidateCatalogValue("--value", f.value); err != nil {
		return quote.FinalRequest{}, err
	}
	if err := underwriting.ValidateBonusMalus(f.bonusMalus); err != nil {
		return quote.FinalRequest{}, err
	}
	claims := underwriting.ClaimsHistory{AtFault: f.claims}
	if err := claims.Validate(); err != nil {
		return quote.FinalRequest{}, err
	}

	return quote.FinalRequest{
		Vehicle:    underwriting.Vehicle{CatalogValue: f.value},
		Subscriber: underwriting.SubscriberProfile{BonusMalus: f.bonusMalus},
		Claims:     claims,
		Formula:    formula,
		Options:    f.options,
	}, nil
}

func newQuoteCmd() *cobra.Command {
	var f quoteFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute a final premium offline",
		Example: `  matdevis quote --formula tous-risques --value 18500 --bonus-malus 0.85 \
    --driver-protection --assistance --replacement`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			q := quote.NewEngine(time.Now).Finalize(req)
			if f.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(q)
			}
			printQuote(cmd.OutOrStdout(), q)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.formula, "formula", "", "rc, tiers, tiers-plus, tous-risques (or the full tier name)")
	cmd.Flags().Float64Var(&f.value, "value", 0, "vehicle catalog value in euros")
	cmd.Flags().Float64Var(&f.bonusMalus, "bonus-malus", 1.0, "bonus-malus coefficient (0.50 to 3.50)")
	cmd.Flags().IntVar(&f.claims, "claims", 0, "at-fault claims in the last three years")
	cmd.Flags().BoolVar(&f.options.DriverProtection, "driver-protection", false, "add driver protection")
	cmd.Flags().BoolVar(&f.options.RoadsideAssistance, "assistance", false, "add 0 km roadside assistance")
	cmd.Flags().BoolVar(&f.options.ReplacementVehicle, "replacement", false, "add a replacement vehicle")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the quote as JSON")
	_ = cmd.MarkFlagRequired("formula")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func printQuote(out io.Writer, q underwriting.FinalQuote) {
	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	_, _ = bold.Fprintf(out, "%s  %s\n", q.Reference, q.Formula)
	_, _ = green.Fprintf(out, "  %s € / an   %s € / mois\n",
		compose.Number(float64(q.Annual)), compose.Number(float64(q.Monthly)))
	_, _ = gray.Fprintf(out, "  majoration sinistres x%s, profil %s\n", compose.Coefficient(q.ClaimsLoading), q.RiskTier)
	_, _ = gray.Fprintf(out, "  valable jusqu'au %s\n", compose.Date(q.ValidUntil))
}
