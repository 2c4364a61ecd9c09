// Package validator decides whether each staged row is usable and detects
// cross-row inconsistencies. Rows are mutated in place: statuses set, error
// messages and conflicts appended.
package validator

import (
	"fmt"
	"strings"

	"github.com/tunelodge/royaltydesk/internal/domain/ingest/identifier"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/repository"
)

// ValidateRows runs row-level validation then cross-row conflict detection
// over one import's staged rows.
func ValidateRows(rows []*repository.StagingRow) {
	for _, row := range rows {
		validateRow(row)
	}
	detectConflicts(rows)
}

// validateRow applies the lenient row policy: a row is an error only when its
// title is blank and it carries no usable identifier. A present but malformed
// identifier is reported without sinking the row, so operators can approve
// statements with human-fixable identifiers.
func validateRow(row *repository.StagingRow) {
	hasValidISRC := row.ISRC != nil && identifier.ValidISRC(*row.ISRC)
	hasValidISWC := row.ISWC != nil && identifier.ValidISWC(*row.ISWC)

	if row.ISRC != nil && *row.ISRC != "" && !hasValidISRC {
		row.ValidationErrors = append(row.ValidationErrors,
			fmt.Sprintf("ISRC %q does not match the expected format", *row.ISRC))
	}
	if row.ISWC != nil && *row.ISWC != "" && !hasValidISWC {
		row.ValidationErrors = append(row.ValidationErrors,
			fmt.Sprintf("ISWC %q does not match the expected format", *row.ISWC))
	}

	if strings.TrimSpace(row.WorkTitle) == "" && !hasValidISRC && !hasValidISWC {
		row.ValidationStatus = repository.StatusError
		row.ValidationErrors = append(row.ValidationErrors,
			"row has no work title and no usable ISRC or ISWC")
	}
}

// detectConflicts groups rows by (normalizedTitle, artist) and escalates every
// member of a group whose sources disagree on the ISWC. The disagreement is
// never auto-resolved: picking a winner automatically could mis-attribute
// royalties, so the whole group goes to human adjudication.
func detectConflicts(rows []*repository.StagingRow) {
	groups := make(map[string][]*repository.StagingRow)
	var order []string
	for _, row := range rows {
		key := row.NormalizedTitle + "|" + strings.ToLower(strings.TrimSpace(row.ArtistName))
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}

		values := distinctISWCs(group)
		if len(values) > 1 {
			escalateGroup(group, values)
			continue
		}

		// Same work from multiple rows with no identifier disagreement:
		// flag as duplicates for review, keeping any harder error status.
		for _, row := range group {
			if row.ValidationStatus == repository.StatusValid {
				row.ValidationStatus = repository.StatusDuplicate
			}
		}
	}
}

// distinctISWCs collects distinct non-empty ISWC claims in first-seen order.
func distinctISWCs(group []*repository.StagingRow) []repository.ConflictValue {
	seen := make(map[string]bool)
	var values []repository.ConflictValue
	for _, row := range group {
		if row.ISWC == nil || *row.ISWC == "" {
			continue
		}
		if seen[*row.ISWC] {
			continue
		}
		seen[*row.ISWC] = true
		values = append(values, repository.ConflictValue{Source: row.SourceSheet, Value: *row.ISWC})
	}
	return values
}

func escalateGroup(group []*repository.StagingRow, values []repository.ConflictValue) {
	var claims []string
	for _, v := range values {
		claims = append(claims, fmt.Sprintf("%s=%s", v.Source, v.Value))
	}
	message := fmt.Sprintf("sources disagree on ISWC for %q: %s",
		group[0].WorkTitle, strings.Join(claims, ", "))

	for _, row := range group {
		row.IdentifierConflicts = append(row.IdentifierConflicts, repository.IdentifierConflict{
			Field:   "iswc",
			Values:  values,
			Message: message,
		})
		row.ValidationStatus = repository.StatusError
		row.ValidationErrors = append(row.ValidationErrors, message)
	}
}
