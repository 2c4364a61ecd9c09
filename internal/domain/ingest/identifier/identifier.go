// Package identifier validates and normalizes the standard music-industry
// identifiers (ISRC, ISWC) and work titles used as matching keys.
package identifier

import (
	"regexp"
	"strings"
)

var (
	isrcPattern = regexp.MustCompile(`^[A-Z]{2}-?[A-Z0-9]{3}-?\d{2}-?\d{5}$`)
	iswcPattern = regexp.MustCompile(`^T-?\d{9}-?\d$`)

	parentheticalPattern = regexp.MustCompile(`\([^)]*\)`)
	punctuationPattern   = regexp.MustCompile(`[^\w\s]`)
	whitespacePattern    = regexp.MustCompile(`\s+`)
)

// ValidISRC reports whether s is a well-formed ISRC (hyphens optional).
func ValidISRC(s string) bool {
	return isrcPattern.MatchString(strings.ToUpper(strings.TrimSpace(s)))
}

// ValidISWC reports whether s is a well-formed ISWC (hyphens optional).
func ValidISWC(s string) bool {
	return iswcPattern.MatchString(strings.ToUpper(strings.TrimSpace(s)))
}

// NormalizeISRC uppercases s and strips hyphens. Call only after ValidISRC.
func NormalizeISRC(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "")
}

// NormalizeISWC uppercases s and strips hyphens. Call only after ValidISWC.
func NormalizeISWC(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "")
}

// NormalizeTitle produces the canonical matching key for a work title:
// lowercase, parenthetical segments removed, punctuation removed, whitespace
// collapsed. The order (parentheticals before punctuation before whitespace)
// is load-bearing: dropping a "(feat. X)" segment after stripping punctuation
// would leave "feat x" in the key.
func NormalizeTitle(s string) string {
	t := strings.ToLower(s)
	t = parentheticalPattern.ReplaceAllString(t, "")
	t = punctuationPattern.ReplaceAllString(t, "")
	t = whitespacePattern.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}
