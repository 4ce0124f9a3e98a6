package index

import (
	"strings"
	"unicode"
)

// Tokenize splits a record body into lowercase keyword terms. A term is a
// maximal run of letters and digits; everything else is a separator.
func Tokenize(body string) []string {
	var (
		terms []string
		sb    strings.Builder
	)
	flush := func() {
		if sb.Len() > 0 {
			terms = append(terms, sb.String())
			sb.Reset()
		}
	}
	for _, r := range body {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return terms
}
