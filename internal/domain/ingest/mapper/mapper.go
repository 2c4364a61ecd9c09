// Package mapper converts source-specific column layouts into the canonical
// staging-row schema. Each canonical field is located by trying an ordered list
// of header-name candidates; saved per-tenant mapping configurations override
// the built-in defaults for recurring non-standard layouts.
package mapper

import (
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tunelodge/royaltydesk/internal/domain/ingest/detector"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/identifier"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/parser"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/repository"
)

// Canonical field names used in candidate lists, saved mapping configurations
// and unmapped-field reporting.
const (
	FieldWorkTitle  = "workTitle"
	FieldArtistName = "artistName"
	FieldISRC       = "isrc"
	FieldISWC       = "iswc"
	FieldWriters    = "writers"
	FieldPublishers = "publishers"
	FieldShare      = "share"
	FieldPRO        = "pro"
	FieldIPI        = "ipi"
)

// trackedFields are reported through Result.UnmappedFields when no row
// populates them.
var trackedFields = []string{
	FieldWorkTitle, FieldArtistName, FieldISRC, FieldISWC,
	FieldWriters, FieldPublishers, FieldShare, FieldPRO,
}

// defaultCandidates lists header-name candidates per canonical field, in
// match-preference order. Matching is case-insensitive substring.
var defaultCandidates = map[string][]string{
	FieldWorkTitle:  {"work title", "song title", "work name", "title", "work"},
	FieldArtistName: {"artist", "performer", "recording artist"},
	FieldISRC:       {"isrc"},
	FieldISWC:       {"iswc"},
	FieldWriters:    {"writers", "writer", "composer", "author"},
	FieldPublishers: {"publishers", "publisher", "publishing company"},
	FieldShare:      {"share", "ownership", "split", "percent"},
	FieldPRO:        {"pro affiliation", "pro", "society", "affiliation"},
	FieldIPI:        {"ipi/cae", "ipi", "cae"},
}

// sourceCandidates refines the defaults per source type where an export is
// known to use different header wording.
var sourceCandidates = map[detector.SheetType]map[string][]string{
	detector.SheetMusicBrainzWorks: {
		FieldWorkTitle: {"work", "title", "name"},
	},
	detector.SheetMLCCatalog: {
		FieldWriters: {"writer name", "writers", "writer"},
	},
	detector.SheetSync: {
		FieldWorkTitle: {"song", "work title", "title"},
	},
}

// extras candidate lists, keyed per source
var (
	musicBrainzExtraCandidates = map[string][]string{
		"work_mbid":      {"mbid", "work id"},
		"work_type":      {"work type", "type"},
		"language":       {"language"},
		"disambiguation": {"disambiguation"},
	}
	songviewExtraCandidates = map[string][]string{
		"registered_work_id": {"registered work id", "work id", "registration"},
		"pro_work_number":    {"work number", "pro work"},
	}
	mlcExtraCandidates = map[string][]string{
		"mlc_song_code": {"mlc song code", "mlc code"},
		"hfa_song_code": {"hfa song code", "hfa"},
	}
	syncExtraCandidates = map[string][]string{
		"licensee":   {"licensee", "client"},
		"fee":        {"sync fee", "fee", "amount"},
		"media_type": {"media type", "media"},
		"territory":  {"territory", "region"},
		"usage":      {"usage", "use type"},
	}
)

var contributorSplitter = func(r rune) bool {
	return r == ',' || r == ';' || r == '&'
}

// Result is the outcome of mapping one parsed file.
type Result struct {
	Rows []*repository.StagingRow
	// UnmappedFields lists canonical fields no row populated; non-empty means
	// the staged data needs operator review before it can be trusted.
	UnmappedFields []string
}

// MapRows converts parsed rows into staging rows for the given source.
// headers carry the original column order so candidate matching is
// deterministic. overrides, when non-nil, come from a saved mapping
// configuration and take precedence over built-in candidate lists field by
// field.
func MapRows(tenantID, jobID uuid.UUID, source detector.SheetType, headers []string, rows []parser.Row, overrides map[string][]string) *Result {
	staged := make([]*repository.StagingRow, len(rows))

	// Rows are independent at this stage, so mapping fans out across workers.
	// Each worker tracks the fields it saw locally; the sets merge after.
	workers := runtime.GOMAXPROCS(0)
	if workers > len(rows) {
		workers = len(rows)
	}
	if workers < 1 {
		workers = 1
	}

	populatedSets := make([]map[string]bool, workers)
	indices := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		populated := make(map[string]bool, len(trackedFields))
		populatedSets[w] = populated
		wg.Add(1)
		go func(populated map[string]bool) {
			defer wg.Done()
			for i := range indices {
				staged[i] = mapRow(tenantID, jobID, source, headers, rows[i], overrides, populated)
			}
		}(populated)
	}
	for i := range rows {
		indices <- i
	}
	close(indices)
	wg.Wait()

	populated := make(map[string]bool, len(trackedFields))
	for _, set := range populatedSets {
		for field := range set {
			populated[field] = true
		}
	}

	var unmapped []string
	for _, field := range trackedFields {
		if !populated[field] {
			unmapped = append(unmapped, field)
		}
	}

	return &Result{Rows: staged, UnmappedFields: unmapped}
}

// Fingerprint hashes normalized header names so a recurring layout is
// recognized even when the file name changes.
func Fingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}
	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}

func mapRow(tenantID, jobID uuid.UUID, source detector.SheetType, headers []string, row parser.Row, overrides map[string][]string, populated map[string]bool) *repository.StagingRow {
	lookup := func(field string) (string, bool) {
		value, ok := findField(headers, row, candidatesFor(source, field, overrides))
		if ok && value != "" {
			populated[field] = true
		}
		return value, ok
	}

	title, _ := lookup(FieldWorkTitle)
	artist, _ := lookup(FieldArtistName)
	pro, _ := lookup(FieldPRO)
	ipi, _ := lookup(FieldIPI)
	shareRaw, _ := lookup(FieldShare)
	writersRaw, _ := lookup(FieldWriters)
	publishersRaw, _ := lookup(FieldPublishers)

	var share *decimal.Decimal
	if shareRaw != "" {
		if d, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(shareRaw), "%")); err == nil {
			share = &d
		}
	}

	staging := &repository.StagingRow{
		ID:               uuid.New(),
		TenantID:         tenantID,
		ImportJobID:      jobID,
		SourceSheet:      source,
		WorkTitle:        title,
		ArtistName:       artist,
		NormalizedTitle:  identifier.NormalizeTitle(title),
		Writers:          splitContributors(writersRaw, "writer", pro, ipi, share),
		Publishers:       splitContributors(publishersRaw, "publisher", "", "", nil),
		CanonicalRow:     mapExtras(source, headers, row),
		ValidationStatus: repository.StatusValid,
		RawRowData:       row,
	}

	if raw, _ := lookup(FieldISRC); raw != "" {
		staging.ISRC = normalizeIdentifier(raw, identifier.ValidISRC, identifier.NormalizeISRC)
	}
	if raw, _ := lookup(FieldISWC); raw != "" {
		staging.ISWC = normalizeIdentifier(raw, identifier.ValidISWC, identifier.NormalizeISWC)
	}

	return staging
}

// normalizeIdentifier normalizes a valid identifier; an invalid one is
// preserved raw so operators can see and correct it. The validator reports the
// format error downstream.
func normalizeIdentifier(raw string, valid func(string) bool, normalize func(string) string) *string {
	if valid(raw) {
		n := normalize(raw)
		return &n
	}
	preserved := strings.TrimSpace(raw)
	return &preserved
}

func candidatesFor(source detector.SheetType, field string, overrides map[string][]string) []string {
	if overrides != nil {
		if list, ok := overrides[field]; ok && len(list) > 0 {
			return list
		}
	}
	if perSource, ok := sourceCandidates[source]; ok {
		if list, ok := perSource[field]; ok {
			return list
		}
	}
	return defaultCandidates[field]
}

// findField returns the trimmed value of the first header matching any
// candidate: candidates in preference order, headers in column order.
// Absence yields ("", false), never an error.
func findField(headers []string, row parser.Row, candidates []string) (string, bool) {
	for _, candidate := range candidates {
		for _, header := range headers {
			if strings.Contains(strings.ToLower(strings.TrimSpace(header)), candidate) {
				return strings.TrimSpace(row[header]), true
			}
		}
	}
	return "", false
}

// splitContributors breaks a multi-contributor field on , ; & delimiters.
// Share only attaches when the field names a single contributor; splitting a
// stated share across several names would be a guess.
func splitContributors(raw, role, pro, ipi string, share *decimal.Decimal) []repository.Contributor {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.FieldsFunc(raw, contributorSplitter)
	var contributors []repository.Contributor
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		c := repository.Contributor{Name: name, Role: role, PRO: pro}
		if ipi != "" {
			ipiCopy := ipi
			c.IPI = &ipiCopy
		}
		contributors = append(contributors, c)
	}

	if len(contributors) == 1 && share != nil {
		contributors[0].Share = share
	}
	return contributors
}

func mapExtras(source detector.SheetType, headers []string, row parser.Row) repository.CanonicalExtras {
	var extras repository.CanonicalExtras

	get := func(candidates []string) string {
		value, _ := findField(headers, row, candidates)
		return value
	}

	switch source {
	case detector.SheetMusicBrainzWorks:
		mb := &repository.MusicBrainzExtras{
			WorkMBID:       get(musicBrainzExtraCandidates["work_mbid"]),
			WorkType:       get(musicBrainzExtraCandidates["work_type"]),
			Language:       get(musicBrainzExtraCandidates["language"]),
			Disambiguation: get(musicBrainzExtraCandidates["disambiguation"]),
		}
		if *mb != (repository.MusicBrainzExtras{}) {
			extras.MusicBrainz = mb
		}
	case detector.SheetASCAPBMISongview:
		sv := &repository.SongviewExtras{
			RegisteredWorkID: get(songviewExtraCandidates["registered_work_id"]),
			PROWorkNumber:    get(songviewExtraCandidates["pro_work_number"]),
		}
		if *sv != (repository.SongviewExtras{}) {
			extras.Songview = sv
		}
	case detector.SheetMLCCatalog:
		mlc := &repository.MLCExtras{
			MLCSongCode: get(mlcExtraCandidates["mlc_song_code"]),
			HFASongCode: get(mlcExtraCandidates["hfa_song_code"]),
		}
		if *mlc != (repository.MLCExtras{}) {
			extras.MLC = mlc
		}
	case detector.SheetSync:
		sync := &repository.SyncExtras{
			Licensee:  get(syncExtraCandidates["licensee"]),
			MediaType: get(syncExtraCandidates["media_type"]),
			Territory: get(syncExtraCandidates["territory"]),
			Usage:     get(syncExtraCandidates["usage"]),
		}
		if feeRaw := get(syncExtraCandidates["fee"]); feeRaw != "" {
			if fee, err := decimal.NewFromString(cleanAmount(feeRaw)); err == nil {
				sync.Fee = &fee
			}
		}
		if sync.Licensee != "" || sync.MediaType != "" || sync.Territory != "" ||
			sync.Usage != "" || sync.Fee != nil {
			extras.Sync = sync
		}
	}

	return extras
}

// cleanAmount strips currency symbols and thousands separators.
func cleanAmount(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' || r == '-' {
			return r
		}
		return -1
	}, raw)
}
