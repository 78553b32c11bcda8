package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LineIDSeparator replaces every run of characters outside [a-z0-9]
const LineIDSeparator = '-'

// NormalizeLineID derives the URL-safe identifier for a line from a session
// key or display name. Accents are stripped, letters are lowercased and every
// run of other characters collapses to a single separator. The result may be
// empty.
func NormalizeLineID(raw string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		folded = strings.ToLower(raw)
	}

	var b strings.Builder
	b.Grow(len(folded))
	pending := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteRune(LineIDSeparator)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
