// Package service provides the statement-import orchestration logic: parse,
// detect, map, validate, stage, and approve.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tunelodge/royaltydesk/internal/domain/common"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/detector"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/mapper"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/parser"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/repository"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/validator"
	reconrepo "github.com/tunelodge/royaltydesk/internal/domain/recon/repository"
	"github.com/tunelodge/royaltydesk/pkg/observability"
)

const (
	stagingBatchSize = 500

	jobStatusRunning   = "running"
	jobStatusSucceeded = "succeeded"
	jobStatusFailed    = "failed"
)

// AllocationWriter is the slice of the reconciliation layer the import
// pipeline needs: turning approved rows into royalty allocations.
type AllocationWriter interface {
	CreateAllocations(ctx context.Context, allocations []*reconrepo.Allocation) (int, error)
}

// LookupEnqueuer queues background identifier lookups for staged rows.
type LookupEnqueuer interface {
	Enqueue(ctx context.Context, tenantID, stagingRowID uuid.UUID, title, artist string) error
}

// AnalyzeResult describes an uploaded file without staging anything, so the
// operator can confirm detection and mapping before committing.
type AnalyzeResult struct {
	SheetName      string
	DetectedSource detector.SheetType
	Confidence     float64
	Headers        []string
	RowsTotal      int
	Fingerprint    string
	MappingFound   bool
	UnmappedFields []string
}

// ProcessResult is the outcome of one staged import.
type ProcessResult struct {
	JobID          uuid.UUID
	Source         detector.SheetType
	Confidence     float64
	RowsTotal      int
	RowsStaged     int
	RowsValid      int
	RowsDuplicate  int
	RowsError      int
	NeedsReview    bool
	UnmappedFields []string
}

// ApproveResult is the outcome of approving a staged import.
type ApproveResult struct {
	AllocationsCreated int
	RowsSkipped        int
}

// ImportService orchestrates the statement import pipeline
type ImportService struct {
	repo        repository.ImportRepository
	allocations AllocationWriter
	lookups     LookupEnqueuer // optional
	logger      *slog.Logger
}

// NewImportService creates a new import service
func NewImportService(repo repository.ImportRepository, allocations AllocationWriter, logger *slog.Logger) *ImportService {
	return &ImportService{
		repo:        repo,
		allocations: allocations,
		logger:      logger,
	}
}

// SetLookupEnqueuer enables background identifier lookups for staged rows
// that arrive without an ISWC.
func (s *ImportService) SetLookupEnqueuer(lookups LookupEnqueuer) {
	s.lookups = lookups
}

// AnalyzeStatement parses and detects an uploaded file without staging rows.
func (s *ImportService) AnalyzeStatement(ctx context.Context, tenantID uuid.UUID, fileName string, content []byte) (*AnalyzeResult, error) {
	parsed, err := parser.ParseStatement(fileName, content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse statement: %w", err)
	}

	fingerprint := mapper.Fingerprint(parsed.Headers)
	config, err := s.repo.GetMappingConfigByFingerprint(ctx, tenantID, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup mapping config: %w", err)
	}

	var overrides map[string][]string
	if config != nil {
		overrides = config.Overrides
	}
	mapped := mapper.MapRows(tenantID, uuid.Nil, parsed.DetectedSource, parsed.Headers, parsed.Data, overrides)

	return &AnalyzeResult{
		SheetName:      parsed.SheetName,
		DetectedSource: parsed.DetectedSource,
		Confidence:     parsed.Confidence,
		Headers:        parsed.Headers,
		RowsTotal:      len(parsed.Data),
		Fingerprint:    fingerprint,
		MappingFound:   config != nil,
		UnmappedFields: mapped.UnmappedFields,
	}, nil
}

// ProcessStatement runs the full pipeline for one uploaded file. manualSource,
// when non-empty, overrides detection; without it an undetectable file aborts
// before anything is staged.
func (s *ImportService) ProcessStatement(ctx context.Context, tenantID uuid.UUID, fileName string, content []byte, manualSource detector.SheetType) (*ProcessResult, error) {
	start := time.Now()

	parsed, err := parser.ParseStatement(fileName, content)
	if err != nil {
		observability.ImportsTotal.WithLabelValues(string(detector.SheetUnknown), "failed").Inc()
		return nil, fmt.Errorf("failed to parse statement: %w", err)
	}

	source := parsed.DetectedSource
	if manualSource != "" && manualSource != detector.SheetUnknown {
		source = manualSource
	}

	job := &repository.ImportJob{
		TenantID:  tenantID,
		FileName:  fileName,
		Source:    source,
		Status:    jobStatusRunning,
		RowsTotal: len(parsed.Data),
	}
	if err := s.repo.CreateImportJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	if source == detector.SheetUnknown {
		s.failJob(ctx, job.ID, source, "unknown_source", common.ErrUnknownSource.Error())
		return nil, common.ErrUnknownSource
	}

	overrides, err := s.resolveOverrides(ctx, tenantID, source, parsed.Headers)
	if err != nil {
		s.failJob(ctx, job.ID, source, "failed", err.Error())
		return nil, err
	}

	mapped := mapper.MapRows(tenantID, job.ID, source, parsed.Headers, parsed.Data, overrides)
	validator.ValidateRows(mapped.Rows)

	// A fresh import replaces the previous staging set for this source.
	if err := s.repo.SupersedeStagingRows(ctx, tenantID, source); err != nil {
		s.failJob(ctx, job.ID, source, "failed", err.Error())
		return nil, fmt.Errorf("failed to supersede previous rows: %w", err)
	}

	rowsStaged := 0
	for offset := 0; offset < len(mapped.Rows); offset += stagingBatchSize {
		end := offset + stagingBatchSize
		if end > len(mapped.Rows) {
			end = len(mapped.Rows)
		}
		inserted, err := s.repo.BulkInsertStagingRows(ctx, mapped.Rows[offset:end])
		if err != nil {
			s.failJob(ctx, job.ID, source, "failed", err.Error())
			return nil, fmt.Errorf("failed to stage rows: %w", err)
		}
		rowsStaged += inserted
		if err := s.repo.UpdateImportJobProgress(ctx, job.ID, rowsStaged, 0); err != nil {
			s.logger.Warn("failed to update import job progress", "error", err)
		}
	}

	result := &ProcessResult{
		JobID:          job.ID,
		Source:         source,
		Confidence:     parsed.Confidence,
		RowsTotal:      len(parsed.Data),
		RowsStaged:     rowsStaged,
		UnmappedFields: mapped.UnmappedFields,
	}
	for _, row := range mapped.Rows {
		switch row.ValidationStatus {
		case repository.StatusValid:
			result.RowsValid++
		case repository.StatusDuplicate:
			result.RowsDuplicate++
		case repository.StatusError:
			result.RowsError++
		}
		observability.ImportRowsStaged.WithLabelValues(string(row.ValidationStatus)).Inc()
	}
	result.NeedsReview = len(mapped.UnmappedFields) > 0 || result.RowsError > 0 || result.RowsDuplicate > 0

	if s.lookups != nil {
		for _, row := range mapped.Rows {
			if row.ValidationStatus != repository.StatusValid || row.ISWC != nil || row.WorkTitle == "" {
				continue
			}
			if err := s.lookups.Enqueue(ctx, tenantID, row.ID, row.WorkTitle, row.ArtistName); err != nil {
				s.logger.Warn("failed to enqueue identifier lookup", "row_id", row.ID, "error", err)
			}
		}
	}

	if err := s.repo.FinishImportJob(ctx, job.ID, jobStatusSucceeded, result.NeedsReview, mapped.UnmappedFields, nil); err != nil {
		s.logger.Warn("failed to finish import job", "error", err)
	}

	observability.ImportsTotal.WithLabelValues(string(source), "succeeded").Inc()
	observability.ImportDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("statement staged",
		"job_id", job.ID, "source", source,
		"rows_staged", rowsStaged, "rows_error", result.RowsError,
		"needs_review", result.NeedsReview)

	return result, nil
}

// ApproveImport turns a job's staged rows into royalty allocations. Error rows
// stay behind for correction; duplicate rows are skipped so the same work is
// not allocated twice.
func (s *ImportService) ApproveImport(ctx context.Context, tenantID, jobID uuid.UUID) (*ApproveResult, error) {
	job, err := s.repo.GetImportJobByID(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	if job == nil {
		return nil, common.ErrNotFound
	}

	rows, err := s.repo.ListStagingRowsByJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staged rows: %w", err)
	}

	var allocations []*reconrepo.Allocation
	skipped := 0
	for _, row := range rows {
		if row.Superseded || row.ValidationStatus != repository.StatusValid {
			skipped++
			continue
		}
		allocations = append(allocations, allocationFromRow(row))
	}

	created, err := s.allocations.CreateAllocations(ctx, allocations)
	if err != nil {
		return nil, fmt.Errorf("failed to create allocations: %w", err)
	}

	s.logger.Info("import approved", "job_id", jobID, "allocations", created, "skipped", skipped)
	return &ApproveResult{AllocationsCreated: created, RowsSkipped: skipped}, nil
}

// SaveMapping persists operator-confirmed header overrides for a layout.
func (s *ImportService) SaveMapping(ctx context.Context, tenantID uuid.UUID, source detector.SheetType, fingerprint string, overrides map[string][]string) error {
	config := &repository.MappingConfig{
		TenantID:    &tenantID,
		Source:      source,
		Fingerprint: fingerprint,
		Overrides:   overrides,
	}
	return s.repo.SaveMappingConfig(ctx, config)
}

// GetImportJob returns one job for status polling.
func (s *ImportService) GetImportJob(ctx context.Context, tenantID, jobID uuid.UUID) (*repository.ImportJob, error) {
	job, err := s.repo.GetImportJobByID(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, common.ErrNotFound
	}
	return job, nil
}

// ListStagedRows returns a job's staged rows for operator review.
func (s *ImportService) ListStagedRows(ctx context.Context, tenantID, jobID uuid.UUID) ([]*repository.StagingRow, error) {
	return s.repo.ListStagingRowsByJob(ctx, tenantID, jobID)
}

// resolveOverrides prefers a fingerprint match over the per-source default, so
// a recurring layout beats a generic source mapping.
func (s *ImportService) resolveOverrides(ctx context.Context, tenantID uuid.UUID, source detector.SheetType, headers []string) (map[string][]string, error) {
	config, err := s.repo.GetMappingConfigByFingerprint(ctx, tenantID, mapper.Fingerprint(headers))
	if err != nil {
		return nil, fmt.Errorf("failed to lookup mapping config: %w", err)
	}
	if config == nil {
		config, err = s.repo.GetMappingConfig(ctx, tenantID, source)
		if err != nil {
			return nil, fmt.Errorf("failed to lookup mapping config: %w", err)
		}
	}
	if config == nil {
		return nil, nil
	}
	return config.Overrides, nil
}

// failJob marks the job failed and records the outcome on the imports counter
// so failure rates show up on the dashboard alongside successes.
func (s *ImportService) failJob(ctx context.Context, jobID uuid.UUID, source detector.SheetType, outcome, message string) {
	observability.ImportsTotal.WithLabelValues(string(source), outcome).Inc()
	if err := s.repo.FinishImportJob(ctx, jobID, jobStatusFailed, false, nil, &message); err != nil {
		s.logger.Warn("failed to mark import job failed", "job_id", jobID, "error", err)
	}
}

func allocationFromRow(row *repository.StagingRow) *reconrepo.Allocation {
	var writers []string
	for _, w := range row.Writers {
		writers = append(writers, w.Name)
	}

	allocation := &reconrepo.Allocation{
		TenantID:         row.TenantID,
		SongTitle:        row.WorkTitle,
		Artist:           row.ArtistName,
		WorkWriters:      strings.Join(writers, ", "),
		Source:           string(row.SourceSheet),
		ControlledStatus: "Controlled",
	}
	if row.CanonicalRow.Sync != nil && row.CanonicalRow.Sync.Fee != nil {
		allocation.GrossRoyaltyAmount = *row.CanonicalRow.Sync.Fee
	}
	return allocation
}
