// Package repository provides data access for statement-import entities.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tunelodge/royaltydesk/internal/domain/ingest/detector"
)

// ValidationStatus is the per-row outcome of validation.
type ValidationStatus string

const (
	StatusValid     ValidationStatus = "valid"
	StatusDuplicate ValidationStatus = "duplicate"
	StatusError     ValidationStatus = "error"
)

// Contributor is one writer or publisher entry on a staged row.
type Contributor struct {
	Name  string           `json:"name"`
	IPI   *string          `json:"ipi,omitempty"` // IPI/CAE number when the source carries one
	Role  string           `json:"role"`          // "writer" or "publisher"
	PRO   string           `json:"pro,omitempty"`
	Share *decimal.Decimal `json:"share,omitempty"` // ownership percentage
}

// ConflictValue records one source's claim for a disputed identifier.
type ConflictValue struct {
	Source detector.SheetType `json:"source"`
	Value  string             `json:"value"`
}

// IdentifierConflict marks a cross-row disagreement detected among rows that
// share the same normalized title and artist.
type IdentifierConflict struct {
	Field   string          `json:"field"` // e.g. "iswc"
	Values  []ConflictValue `json:"values"`
	Message string          `json:"message"`
}

// MusicBrainzExtras holds source-specific fields from MusicBrainz works exports.
type MusicBrainzExtras struct {
	WorkMBID       string `json:"work_mbid,omitempty"`
	WorkType       string `json:"work_type,omitempty"`
	Language       string `json:"language,omitempty"`
	Disambiguation string `json:"disambiguation,omitempty"`
}

// SongviewExtras holds source-specific fields from ASCAP/BMI Songview pulls.
type SongviewExtras struct {
	RegisteredWorkID string `json:"registered_work_id,omitempty"`
	PROWorkNumber    string `json:"pro_work_number,omitempty"`
}

// MLCExtras holds source-specific fields from MLC catalog exports.
type MLCExtras struct {
	MLCSongCode string `json:"mlc_song_code,omitempty"`
	HFASongCode string `json:"hfa_song_code,omitempty"`
}

// SyncExtras holds source-specific fields from sync-history sheets.
type SyncExtras struct {
	Licensee  string           `json:"licensee,omitempty"`
	Fee       *decimal.Decimal `json:"fee,omitempty"`
	MediaType string           `json:"media_type,omitempty"`
	Territory string           `json:"territory,omitempty"`
	Usage     string           `json:"usage,omitempty"`
}

// CanonicalExtras is a tagged union of per-source structured extras, with a
// generic fallback for keys no known source defines.
type CanonicalExtras struct {
	MusicBrainz *MusicBrainzExtras `json:"musicbrainz,omitempty"`
	Songview    *SongviewExtras    `json:"songview,omitempty"`
	MLC         *MLCExtras         `json:"mlc,omitempty"`
	Sync        *SyncExtras        `json:"sync,omitempty"`
	Extra       map[string]string  `json:"extra,omitempty"`
}

// IsZero reports whether no source-specific extras were captured.
func (c CanonicalExtras) IsZero() bool {
	return c.MusicBrainz == nil && c.Songview == nil && c.MLC == nil &&
		c.Sync == nil && len(c.Extra) == 0
}

// StagingRow is one parsed and normalized record awaiting operator approval.
// Rows are never deleted; a new import run supersedes the previous one.
type StagingRow struct {
	ID                  uuid.UUID            `db:"id"`
	TenantID            uuid.UUID            `db:"tenant_id"`
	ImportJobID         uuid.UUID            `db:"import_job_id"`
	SourceSheet         detector.SheetType   `db:"source_sheet"`
	WorkTitle           string               `db:"work_title"`
	ArtistName          string               `db:"artist_name"`
	ISRC                *string              `db:"isrc"`
	ISWC                *string              `db:"iswc"`
	NormalizedTitle     string               `db:"normalized_title"`
	Writers             []Contributor        `db:"writers"`
	Publishers          []Contributor        `db:"publishers"`
	CanonicalRow        CanonicalExtras      `db:"canonical_row"`
	IdentifierConflicts []IdentifierConflict `db:"identifier_conflicts"`
	ValidationStatus    ValidationStatus     `db:"validation_status"`
	ValidationErrors    []string             `db:"validation_errors"`
	RawRowData          map[string]string    `db:"raw_row_data"`
	Superseded          bool                 `db:"superseded"`
	CreatedAt           time.Time            `db:"created_at"`
}

// MappingConfig is a per-tenant, per-source override of the default
// header-candidate lists, letting operators teach the system a recurring but
// non-standard statement layout without code changes.
type MappingConfig struct {
	ID          uuid.UUID           `db:"id"`
	TenantID    *uuid.UUID          `db:"tenant_id"` // NULL = global template
	Source      detector.SheetType  `db:"source"`
	Fingerprint string              `db:"fingerprint"` // hash of normalized headers
	Overrides   map[string][]string `db:"overrides"`   // canonical field -> header candidates
	CreatedAt   time.Time           `db:"created_at"`
	UpdatedAt   time.Time           `db:"updated_at"`
}

// ImportJob tracks one statement upload through the pipeline.
type ImportJob struct {
	ID             uuid.UUID          `db:"id"`
	TenantID       uuid.UUID          `db:"tenant_id"`
	FileName       string             `db:"file_name"`
	Source         detector.SheetType `db:"source"`
	Status         string             `db:"status"` // "running", "succeeded", "failed"
	NeedsReview    bool               `db:"needs_review"`
	UnmappedFields []string           `db:"unmapped_fields"`
	ErrorMessage   *string            `db:"error_message"`
	RowsTotal      int                `db:"rows_total"`
	RowsStaged     int                `db:"rows_staged"`
	RowsFailed     int                `db:"rows_failed"`
	RequestedAt    time.Time          `db:"requested_at"`
	FinishedAt     *time.Time         `db:"finished_at"`
}

// ImportRepository defines data access for the import pipeline. All queries
// are tenant-scoped.
type ImportRepository interface {
	// Mapping configurations
	GetMappingConfig(ctx context.Context, tenantID uuid.UUID, source detector.SheetType) (*MappingConfig, error)
	GetMappingConfigByFingerprint(ctx context.Context, tenantID uuid.UUID, fingerprint string) (*MappingConfig, error)
	SaveMappingConfig(ctx context.Context, config *MappingConfig) error

	// Import jobs
	CreateImportJob(ctx context.Context, job *ImportJob) error
	GetImportJobByID(ctx context.Context, tenantID, id uuid.UUID) (*ImportJob, error)
	UpdateImportJobProgress(ctx context.Context, id uuid.UUID, rowsStaged, rowsFailed int) error
	FinishImportJob(ctx context.Context, id uuid.UUID, status string, needsReview bool, unmappedFields []string, errorMessage *string) error

	// Staging rows
	BulkInsertStagingRows(ctx context.Context, rows []*StagingRow) (int, error)
	ListStagingRowsByJob(ctx context.Context, tenantID, jobID uuid.UUID) ([]*StagingRow, error)
	SupersedeStagingRows(ctx context.Context, tenantID uuid.UUID, source detector.SheetType) error
}
