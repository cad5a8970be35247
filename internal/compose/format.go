// ABOUTME: French display formatting for numbers, coefficients and dates.
// ABOUTME: Mirrors the fr-FR locale: narrow no-break space grouping, comma decimals.

package compose

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// groupSeparator is the fr-FR thousands separator (U+202F). Older CLDR
// tables group French with U+00A0, which is normalised to it.
const groupSeparator = "\u202f"

var french = message.NewPrinter(language.French)

// Number formats v like the fr-FR locale with at most three decimals.
func Number(v float64) string {
	s := french.Sprintf("%v", number.Decimal(v, number.MaxFractionDigits(3)))
	return strings.ReplaceAll(s, "\u00a0", groupSeparator)
}

// Coefficient prints a bonus-malus value in its shortest form (1, 0.85).
func Coefficient(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Date formats t as JJ/MM/AAAA.
func Date(t time.Time) string {
	return t.Format("02/01/2006")
}

func yesNo(b bool) string {
	if b {
		return "Oui"
	}
	return "Non"
}
