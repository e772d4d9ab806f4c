// Package sanitize cleans user supplied text before it enters session state.
package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var policy = bluemonday.StrictPolicy()

// maxPasses bounds how many layers of entity encoding are peeled off.
const maxPasses = 8

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// Text strips all markup from s and returns NFC-normalized plain text with
// control characters removed and surrounding whitespace trimmed. The result
// is not HTML; renderers must still escape it.
//
// Markup hidden behind entity encoding is stripped too: sanitizing repeats
// until unescaping no longer produces new markup.
func Text(s string) string {
	if s == "" {
		return ""
	}
	stripped := stripMarkup(s)
	stripped = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, stripped)
	return strings.TrimSpace(norm.NFC.String(stripped))
}

func stripMarkup(s string) string {
	for range maxPasses {
		next := html.UnescapeString(policy.Sanitize(s))
		if next == s {
			return next
		}
		s = next
	}
	return angleBrackets.Replace(s)
}

// Line is Text with every run of whitespace collapsed to one space, for
// single-line values such as names.
func Line(s string) string {
	return strings.Join(strings.Fields(Text(s)), " ")
}
