package hunt

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeAnswer canonicalises an answer for comparison: NFC form, Unicode
// case folding, all whitespace removed.
func NormalizeAnswer(s string) string {
	folded := cases.Fold().String(norm.NFC.String(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, folded)
}

// Grade reports whether submitted matches canonical. Matching ignores case
// and whitespace and nothing else: "Paris" matches " paris ", "Pariss" does
// not. There is no edit-distance tolerance.
func Grade(submitted, canonical string) bool {
	return NormalizeAnswer(submitted) == NormalizeAnswer(canonical)
}
