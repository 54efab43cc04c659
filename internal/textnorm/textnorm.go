// Package textnorm normalizes free text for matching: FAQ keys, project
// names and manager commands.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CaseFold trims s and applies full Unicode case folding.
func CaseFold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Simplify case-folds s and strips diacritics, so "Negociación" and
// "negociacion" compare equal.
func Simplify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return CaseFold(out)
}

// Compact case-folds s and removes all whitespace.
func Compact(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, CaseFold(s))
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Title upper-cases the first rune of each word.
func Title(s string) string {
	return cases.Title(language.Spanish).String(strings.ToLower(s))
}
