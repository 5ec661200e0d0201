package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeHeader canonicalizes a header or alias for comparison.
// Width variants are folded (NFKC), case is folded, and every run of
// whitespace, underscores, hyphens, and dots becomes a single space.
// Leading and trailing separators are dropped.
//
//	"  Serial_No. " -> "serial no"
//	"ORDER-ID"      -> "order id"
func NormalizeHeader(h string) string {
	h = norm.NFKC.String(h)
	h = cases.Fold().String(h)

	var b strings.Builder
	b.Grow(len(h))
	pending := false
	for _, r := range h {
		if isHeaderSeparator(r) {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte(' ')
			pending = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isHeaderSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == '_' || r == '-' || r == '.'
}
