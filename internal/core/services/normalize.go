package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// đ has no combining decomposition, so NFD leaves it alone
var vietnameseFold = strings.NewReplacer("đ", "d", "Đ", "d")

// NormalizeText lower-cases, strips diacritics and collapses whitespace.
// "Giá  Bao Nhiêu " -> "gia bao nhieu"
func NormalizeText(s string) string {
	s = strings.ToLower(s)
	s = vietnameseFold.Replace(s)

	// transform.Chain is stateful; build one per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	return strings.Join(strings.Fields(s), " ")
}
