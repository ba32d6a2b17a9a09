package model

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const minQueryRunes = 2

var lowerRU = cases.Lower(language.Russian)

// NormalizeQuery trims and lowercases a search keyword and rejects input
// that cannot be a catalog query: fewer than two characters, or digits
// only (that is an article number, not a keyword).
func NormalizeQuery(raw string) (string, error) {
	q := strings.Join(strings.Fields(raw), " ")
	q = lowerRU.String(q)

	if utf8.RuneCountInString(q) < minQueryRunes {
		return "", &ValidationError{Field: "query", Reason: "must be at least 2 characters"}
	}
	if isDigits(q) {
		return "", &ValidationError{Field: "query", Reason: "looks like an article number, expected a search keyword"}
	}
	return q, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
