package pricebook

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// queryFolder strips diacritics so "Façade Trim" matches "Facade Trim".
var queryFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeQuery standardizes a free-text line-item description before
// similarity search:
//  1. Trim and lowercase
//  2. Fold diacritics
//  3. Strip punctuation that estimate text tends to carry
//  4. Collapse runs of whitespace
func NormalizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}

	q = strings.ToLower(q)

	if folded, _, err := transform.String(queryFolder, q); err == nil {
		q = folded
	}

	q = strings.NewReplacer(
		",", " ",
		".", " ",
		"(", " ",
		")", " ",
		"/", " ",
		"-", " ",
		"\"", " ",
		"'", "",
		"&", " and ",
		"#", " ",
	).Replace(q)

	q = multiSpaceRe.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}
