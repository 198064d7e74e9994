// Package trim normalizes free-text make/model/badge strings into platform
// classes and ranked trim labels.
package trim

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Classification is the normalized identity of a vehicle's text fields.
type Classification struct {
	// PlatformClass collapses make+model into a coarse family sharing
	// demand/resale behavior, e.g. "toyota:prado".
	PlatformClass string
	// TrimLabel is the extracted ladder trim, or TrimUnknown.
	TrimLabel string
	// Display is a human-readable rendering for alert payloads.
	Display string
}

var titleCaser = cases.Title(language.English)

// modelAliases folds model spellings that name the same platform family.
var modelAliases = map[string]string{
	"landcruiser prado":  "prado",
	"land cruiser prado": "prado",
	"land cruiser":       "landcruiser",
	"hi-lux":             "hilux",
}

// Classify maps free-text make/model/badge into a platform class and trim
// label. Generation and series codes ("150", "300 series", "mk2") are
// stripped so that text variants of one family land in one class.
func Classify(table *Table, mk, mdl, badge string) Classification {
	family := modelFamily(mdl)
	class := normalizeWord(mk) + ":" + family

	label := TrimUnknown
	if badge != "" {
		label = table.ExtractTrim(class, badge)
	}

	display := strings.TrimSpace(titleCaser.String(normalizeWord(mk) + " " + family))
	if label != TrimUnknown {
		display += " " + label
	}

	return Classification{
		PlatformClass: class,
		TrimLabel:     label,
		Display:       display,
	}
}

// modelFamily strips generation markers from a model string and folds
// known aliases.
func modelFamily(mdl string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(mdl)))

	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if isGenerationToken(f) {
			continue
		}
		kept = append(kept, f)
	}
	family := strings.Join(kept, " ")
	if alias, ok := modelAliases[family]; ok {
		family = alias
	}
	return strings.ReplaceAll(family, " ", "")
}

// isGenerationToken reports series/generation noise: pure digits ("150",
// "300"), digit+letter series codes ("79r"), "series", and "mkN".
func isGenerationToken(tok string) bool {
	if tok == "series" {
		return true
	}
	if strings.HasPrefix(tok, "mk") && len(tok) > 2 && allDigits(tok[2:]) {
		return true
	}
	hasDigit := false
	for _, r := range tok {
		if unicode.IsDigit(r) {
			hasDigit = true
		} else if !unicode.IsLetter(r) {
			return false
		}
	}
	return hasDigit && allDigits(tok[:digitPrefixLen(tok)]) && digitPrefixLen(tok) > 0
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

func digitPrefixLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsDigit(r) {
			break
		}
		n++
	}
	return n
}

func normalizeWord(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "")
}
