package resolver

import (
	"strings"
	"unicode"
)

// honorifics are leading tokens dropped from names before comparison.
// "s" covers the abbreviated "S." for Syed.
var honorifics = map[string]struct{}{
	"dr":   {},
	"mr":   {},
	"ms":   {},
	"mrs":  {},
	"syed": {},
	"s":    {},
}

// Normalize lowercases name, turns every character other than a-z into a
// separator, collapses whitespace and drops leading honorific tokens.
//
//	"Dr. Ayesha Khan5" -> "ayesha khan"
//	"A. Khan"          -> "a khan"
//
// Honorifics are only dropped while another token follows, and repeatedly,
// so Normalize(Normalize(x)) == Normalize(x) for every x.
func Normalize(name string) string {
	return strings.Join(tokens(name), " ")
}

func tokens(name string) []string {
	cleaned := strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if r >= 'a' && r <= 'z' {
			return r
		}
		return ' '
	}, name)

	fields := strings.Fields(cleaned)
	for len(fields) > 1 {
		if _, ok := honorifics[fields[0]]; !ok {
			break
		}
		fields = fields[1:]
	}
	return fields
}
