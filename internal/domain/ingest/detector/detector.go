// Package detector classifies an uploaded row set by originating system so the
// correct field-mapping rules apply. Detection is a two-tier heuristic: sheet or
// file name substrings first, then header-signature matching as a fallback.
package detector

import "strings"

// SheetType identifies the originating system of a statement or catalog sheet.
type SheetType string

const (
	SheetMusicBrainzWorks SheetType = "musicbrainz_works"
	SheetASCAPBMISongview SheetType = "ascap_bmi_songview"
	SheetMLCCatalog       SheetType = "mlc_catalog"
	SheetSync             SheetType = "sync"
	SheetUnknown          SheetType = "unknown"
)

// sheetTypeOrder fixes the tie-break order for both tiers. Detection must be
// deterministic: within a tier the first satisfying candidate wins.
var sheetTypeOrder = []SheetType{
	SheetMusicBrainzWorks,
	SheetASCAPBMISongview,
	SheetMLCCatalog,
	SheetSync,
}

// namePatterns maps each sheet type to the name substrings that identify it.
var namePatterns = map[SheetType][]string{
	SheetMusicBrainzWorks: {"musicbrainz"},
	SheetASCAPBMISongview: {"ascap", "bmi", "songview"},
	SheetMLCCatalog:       {"mlc"},
	SheetSync:             {"sync", "placement", "license"},
}

// headerSignatures maps each sheet type to header terms characteristic of its
// exports. A type matches when at least two of its terms appear among the
// actual column headers (case-insensitive substring match).
var headerSignatures = map[SheetType][]string{
	SheetMusicBrainzWorks: {"mbid", "disambiguation", "work type", "language"},
	SheetASCAPBMISongview: {"work title", "writer", "publisher", "share", "pro"},
	SheetMLCCatalog:       {"mlc song code", "hfa", "writer ipi", "publisher number", "mechanical"},
	SheetSync:             {"licensee", "sync fee", "media type", "usage", "territory"},
}

const headerSignatureThreshold = 2

// ParseSheetType converts an operator-supplied source string into a SheetType.
// Unrecognized values map to SheetUnknown.
func ParseSheetType(s string) SheetType {
	switch SheetType(strings.ToLower(strings.TrimSpace(s))) {
	case SheetMusicBrainzWorks, SheetASCAPBMISongview, SheetMLCCatalog, SheetSync:
		return SheetType(strings.ToLower(strings.TrimSpace(s)))
	default:
		return SheetUnknown
	}
}

// DetectSheetType classifies a sheet by its name and column headers.
// Name-based matches always take precedence over header signatures.
func DetectSheetType(sheetName string, headers []string) SheetType {
	if st, ok := detectByName(sheetName); ok {
		return st
	}
	if st, ok := detectByHeaders(headers); ok {
		return st
	}
	return SheetUnknown
}

// Confidence scores a detection for operator review: name matches are near
// certain, header matches scale with signature coverage, unknown is zero.
func Confidence(sheetName string, headers []string) float64 {
	if _, ok := detectByName(sheetName); ok {
		return 0.95
	}
	if st, ok := detectByHeaders(headers); ok {
		matched := countSignatureMatches(headerSignatures[st], headers)
		score := 0.5 + 0.1*float64(matched)
		if score > 0.9 {
			score = 0.9
		}
		return score
	}
	return 0
}

func detectByName(sheetName string) (SheetType, bool) {
	name := strings.ToLower(sheetName)
	if name == "" {
		return SheetUnknown, false
	}
	for _, st := range sheetTypeOrder {
		for _, pattern := range namePatterns[st] {
			if strings.Contains(name, pattern) {
				return st, true
			}
		}
	}
	return SheetUnknown, false
}

func detectByHeaders(headers []string) (SheetType, bool) {
	for _, st := range sheetTypeOrder {
		if countSignatureMatches(headerSignatures[st], headers) >= headerSignatureThreshold {
			return st, true
		}
	}
	return SheetUnknown, false
}

func countSignatureMatches(terms []string, headers []string) int {
	matched := 0
	for _, term := range terms {
		for _, h := range headers {
			if strings.Contains(strings.ToLower(h), term) {
				matched++
				break
			}
		}
	}
	return matched
}
