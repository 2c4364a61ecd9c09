package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunelodge/royaltydesk/internal/domain/ingest/detector"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/identifier"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/repository"
)

func strPtr(s string) *string { return &s }

func stagingRow(title, artist string, source detector.SheetType, iswc *string) *repository.StagingRow {
	return &repository.StagingRow{
		SourceSheet:      source,
		WorkTitle:        title,
		ArtistName:       artist,
		NormalizedTitle:  identifier.NormalizeTitle(title),
		ISWC:             iswc,
		ValidationStatus: repository.StatusValid,
	}
}

func TestValidateRows_ValidRow(t *testing.T) {
	row := stagingRow("Hold On", "Jane Doe", detector.SheetASCAPBMISongview, nil)
	ValidateRows([]*repository.StagingRow{row})

	assert.Equal(t, repository.StatusValid, row.ValidationStatus)
	assert.Empty(t, row.ValidationErrors)
}

func TestValidateRows_MissingTitleAndIdentifiers(t *testing.T) {
	row := stagingRow("", "Jane Doe", detector.SheetASCAPBMISongview, nil)
	ValidateRows([]*repository.StagingRow{row})

	assert.Equal(t, repository.StatusError, row.ValidationStatus)
	require.NotEmpty(t, row.ValidationErrors)
}

func TestValidateRows_MissingTitleWithValidISWC(t *testing.T) {
	row := stagingRow("", "Jane Doe", detector.SheetASCAPBMISongview, strPtr("T3452468001"))
	ValidateRows([]*repository.StagingRow{row})

	assert.Equal(t, repository.StatusValid, row.ValidationStatus)
}

// A malformed identifier alone is an error message, not an error status.
func TestValidateRows_LenientMalformedIdentifier(t *testing.T) {
	row := stagingRow("Hold On", "Jane Doe", detector.SheetASCAPBMISongview, strPtr("T345246800"))
	ValidateRows([]*repository.StagingRow{row})

	assert.Equal(t, repository.StatusValid, row.ValidationStatus)
	require.Len(t, row.ValidationErrors, 1)
	assert.Contains(t, row.ValidationErrors[0], "ISWC")
}

// A malformed identifier combined with a missing title does sink the row.
func TestValidateRows_MalformedIdentifierMissingTitle(t *testing.T) {
	row := stagingRow("", "Jane Doe", detector.SheetASCAPBMISongview, strPtr("T345246800"))
	ValidateRows([]*repository.StagingRow{row})

	assert.Equal(t, repository.StatusError, row.ValidationStatus)
	assert.Len(t, row.ValidationErrors, 2)
}

func TestValidateRows_ISWCConflictSymmetry(t *testing.T) {
	a := stagingRow("Hold On", "Jane Doe", detector.SheetASCAPBMISongview, strPtr("T3452468001"))
	b := stagingRow("Hold On (Live)", "jane doe ", detector.SheetMLCCatalog, strPtr("T9876543210"))
	rows := []*repository.StagingRow{a, b}

	// normalization folds the parenthetical, so both rows share a group
	require.Equal(t, a.NormalizedTitle, identifier.NormalizeTitle(b.WorkTitle))

	ValidateRows(rows)

	for _, row := range rows {
		assert.Equal(t, repository.StatusError, row.ValidationStatus)
		require.Len(t, row.IdentifierConflicts, 1)
		conflict := row.IdentifierConflicts[0]
		assert.Equal(t, "iswc", conflict.Field)
		require.Len(t, conflict.Values, 2)
		assert.Equal(t, detector.SheetASCAPBMISongview, conflict.Values[0].Source)
		assert.Equal(t, "T3452468001", conflict.Values[0].Value)
		assert.Equal(t, detector.SheetMLCCatalog, conflict.Values[1].Source)
		assert.Equal(t, "T9876543210", conflict.Values[1].Value)
		require.NotEmpty(t, row.ValidationErrors)
	}
}

func TestValidateRows_AgreeingISWCsAreDuplicatesNotConflicts(t *testing.T) {
	a := stagingRow("Hold On", "Jane Doe", detector.SheetASCAPBMISongview, strPtr("T3452468001"))
	b := stagingRow("Hold On", "Jane Doe", detector.SheetMLCCatalog, strPtr("T3452468001"))
	ValidateRows([]*repository.StagingRow{a, b})

	assert.Equal(t, repository.StatusDuplicate, a.ValidationStatus)
	assert.Equal(t, repository.StatusDuplicate, b.ValidationStatus)
	assert.Empty(t, a.IdentifierConflicts)
	assert.Empty(t, b.IdentifierConflicts)
}

func TestValidateRows_DifferentArtistsDoNotConflict(t *testing.T) {
	a := stagingRow("Hold On", "Jane Doe", detector.SheetASCAPBMISongview, strPtr("T3452468001"))
	b := stagingRow("Hold On", "Other Band", detector.SheetMLCCatalog, strPtr("T9876543210"))
	ValidateRows([]*repository.StagingRow{a, b})

	assert.Equal(t, repository.StatusValid, a.ValidationStatus)
	assert.Equal(t, repository.StatusValid, b.ValidationStatus)
	assert.Empty(t, a.IdentifierConflicts)
}

func TestValidateRows_RowMissingISWCJoinsConflictGroup(t *testing.T) {
	a := stagingRow("Hold On", "Jane Doe", detector.SheetASCAPBMISongview, strPtr("T3452468001"))
	b := stagingRow("Hold On", "Jane Doe", detector.SheetMLCCatalog, strPtr("T9876543210"))
	c := stagingRow("Hold On", "Jane Doe", detector.SheetMusicBrainzWorks, nil)
	ValidateRows([]*repository.StagingRow{a, b, c})

	// the identifier-less row is escalated with the rest of its group
	assert.Equal(t, repository.StatusError, c.ValidationStatus)
	require.Len(t, c.IdentifierConflicts, 1)
	assert.Len(t, c.IdentifierConflicts[0].Values, 2)
}
