// Package classify derives structured financial/clinical metadata from the
// free text of mirrored calendar events. Classification is a pure function
// over normalized text; the pattern tables below are ordered and their
// order is part of the contract (first match wins).
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
	"golang.org/x/text/unicode/norm"

	"citasync/internal/core"
)

// Category labels and stage label written into classified events.
const (
	CategoryTreatment = "tratamiento_subcutaneo"
	CategoryExam      = "examen"
	StageMaintenance  = "mantenimiento"
)

type categoryRule struct {
	category string
	pattern  *regexp.Regexp
}

// categoryRules are checked in slice order: treatment keywords take
// precedence over exam keywords when both appear in the same event.
var categoryRules = []categoryRule{
	{CategoryTreatment, regexp.MustCompile(`(?i)vacuna|inyecci[oó]n|subcut[aá]ne|aplicaci[oó]n|dosis`)},
	{CategoryExam, regexp.MustCompile(`(?i)examen|an[aá]lisis|laboratorio|radiograf[ií]a|ecograf[ií]a|estudio`)},
}

// dosagePatterns are checked in slice order; the first unit that matches
// wins. Submatch 1 is the numeric part, submatch 2 the unit as written.
var dosagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)([0-9]+(?:[.,][0-9]+)?)\s*(ml)\b`),
	regexp.MustCompile(`(?i)([0-9]+(?:[.,][0-9]+)?)\s*(cc)\b`),
	regexp.MustCompile(`(?i)([0-9]+(?:[.,][0-9]+)?)\s*(mg)\b`),
}

var (
	parenGroupRe  = regexp.MustCompile(`\(([^)]*)\)`)
	nonDigitRe    = regexp.MustCompile(`[^0-9]`)
	paidKeywordRe = regexp.MustCompile(`(?i)pagad|pag[oó]\b|abonad`)
	paidAmountRe  = regexp.MustCompile(`(?i)pag(?:ado|[oó])\s*:?\s*\$?\s*([0-9][0-9.,]*)`)
	attendedRe    = regexp.MustCompile(`(?i)asisti[oó]|lleg[oó]\b|\bvino\b|acudi[oó]|\bpresente\b`)
	maintenanceRe = regexp.MustCompile(`(?i)mantenimiento|refuerzo|seguimiento`)
)

// Amounts quoted in clinic notes like "(15)" mean 15,000: parsed values
// below this bound are expressed in thousands.
const thousandsBound = 1000

// dosagePrinter formats dosage numbers with Spanish decimal rules.
var dosagePrinter = message.NewPrinter(language.Spanish)

// Normalize returns the NFC-normalized, trimmed form of s.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Classify derives metadata from an event's summary and description.
// Every field of the result is optional; nil means no heuristic matched.
func Classify(summary, description string) core.Classification {
	text := Normalize(summary + "\n" + description)

	var c core.Classification
	c.Dosage = extractDosage(text)
	c.Category = classifyCategory(text, c.Dosage != nil)
	c.AmountExpected, c.AmountPaid = extractAmounts(text)
	if c.AmountPaid != nil && c.AmountExpected == nil {
		v := *c.AmountPaid
		c.AmountExpected = &v
	}
	if attendedRe.MatchString(text) {
		yes := true
		c.Attended = &yes
	}
	if maintenanceRe.MatchString(text) {
		stage := StageMaintenance
		c.TreatmentStage = &stage
	}
	return c
}

// classifyCategory applies the ordered keyword rules. An extracted dosage
// implies a treatment event even without explicit treatment keywords.
func classifyCategory(text string, hasDosage bool) *string {
	for _, rule := range categoryRules {
		if rule.pattern.MatchString(text) {
			category := rule.category
			return &category
		}
	}
	if hasDosage {
		category := CategoryTreatment
		return &category
	}
	return nil
}

// extractAmounts scans parenthesized groups first, then a bare
// "pagado <n>" outside parentheses. The first non-paid group sets the
// expected amount; paid groups set the paid amount and seed the expected
// amount when it is still unset.
func extractAmounts(text string) (expected, paid *int64) {
	for _, m := range parenGroupRe.FindAllStringSubmatch(text, -1) {
		group := m[1]
		v, ok := parseAmount(group)
		if !ok {
			continue
		}
		if paidKeywordRe.MatchString(group) {
			pv := v
			paid = &pv
			if expected == nil {
				ev := v
				expected = &ev
			}
		} else if expected == nil {
			ev := v
			expected = &ev
		}
	}

	outside := parenGroupRe.ReplaceAllString(text, " ")
	if m := paidAmountRe.FindStringSubmatch(outside); m != nil {
		if v, ok := parseAmount(m[1]); ok {
			pv := v
			paid = &pv
			if expected == nil {
				ev := v
				expected = &ev
			}
		}
	}
	return expected, paid
}

func parseAmount(s string) (int64, bool) {
	digits := nonDigitRe.ReplaceAllString(s, "")
	if digits == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	if v > 0 && v < thousandsBound {
		v *= thousandsBound
	}
	return v, true
}

// extractDosage returns the first matching unit pattern, with the numeric
// part reformatted under Spanish decimal rules (at most 2 decimals, no
// trailing zeros) and re-joined with the unit as written.
func extractDosage(text string) *string {
	for _, p := range dosagePatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := strings.ReplaceAll(m[1], ",", ".")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		formatted := dosagePrinter.Sprint(number.Decimal(v, number.MaxFractionDigits(2)))
		dosage := formatted + " " + strings.ToLower(m[2])
		return &dosage
	}
	return nil
}
