package index

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "of": true, "is": true,
	"it": true, "and": true, "or": true, "with": true, "from": true,
	"by": true, "this": true, "that": true, "as": true, "be": true,
}

// BuildFTSQuery preprocesses a natural language query for FTS5.
// Splits on whitespace, removes stopwords and words < 3 chars, trims punctuation,
// quotes each remaining term and joins them with " OR ".
func BuildFTSQuery(query string) string {
	words := strings.Fields(query)
	var filtered []string
	seen := make(map[string]bool)
	for _, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		if len([]rune(trimmed)) < 3 {
			continue
		}
		lower := strings.ToLower(trimmed)
		if stopwords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		filtered = append(filtered, quoteTerm(trimmed))
	}
	return strings.Join(filtered, " OR ")
}

// quoteTerm wraps a term as an FTS5 string so operators and punctuation
// inside it (store.go, NOT, a-b) are matched literally.
func quoteTerm(t string) string {
	return `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
}
