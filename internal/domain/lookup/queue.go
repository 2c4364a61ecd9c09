// Package lookup runs the background queue that resolves missing work
// identifiers against an external registry. The registry enforces strict
// request quotas, so jobs are processed in small batches behind a rate
// limiter.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tunelodge/royaltydesk/internal/domain/ingest/identifier"
	"github.com/tunelodge/royaltydesk/pkg/observability"
)

// Job statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	defaultBatchSize  = 5
	defaultBatchDelay = 2 * time.Second
	maxAttempts       = 3
)

// Job is one pending identifier lookup for a staged row.
type Job struct {
	ID           uuid.UUID  `db:"id"`
	TenantID     uuid.UUID  `db:"tenant_id"`
	StagingRowID uuid.UUID  `db:"staging_row_id"`
	WorkTitle    string     `db:"work_title"`
	ArtistName   string     `db:"artist_name"`
	Status       string     `db:"status"`
	Attempts     int        `db:"attempts"`
	ResolvedISWC *string    `db:"resolved_iswc"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at"`
}

// Repository defines data access for lookup jobs.
type Repository interface {
	EnqueueJob(ctx context.Context, job *Job) error
	// ClaimPendingJobs atomically moves up to limit pending jobs to
	// processing and returns them.
	ClaimPendingJobs(ctx context.Context, limit int) ([]*Job, error)
	// CompleteJob records the resolution and writes the ISWC onto the linked
	// staging row.
	CompleteJob(ctx context.Context, id uuid.UUID, iswc string) error
	// FailJob records the error; jobs under the attempt cap return to pending.
	FailJob(ctx context.Context, id uuid.UUID, attempts int, message string) error
}

// Resolver answers identifier lookups against the external registry.
type Resolver interface {
	ResolveISWC(ctx context.Context, title, artist string) (string, error)
}

// ErrNoMatch means the registry holds no work for the queried title/artist.
// It is terminal: retrying the same query will not produce a match.
var ErrNoMatch = errors.New("no matching work in registry")

// Queue drains pending lookup jobs at the registry's allowed pace.
type Queue struct {
	repo      Repository
	resolver  Resolver
	limiter   *rate.Limiter
	logger    *slog.Logger
	batchSize int
}

// NewQueue creates a lookup queue with the default batch size and delay.
func NewQueue(repo Repository, resolver Resolver, logger *slog.Logger) *Queue {
	return &Queue{
		repo:      repo,
		resolver:  resolver,
		limiter:   rate.NewLimiter(rate.Every(defaultBatchDelay), 1),
		logger:    logger,
		batchSize: defaultBatchSize,
	}
}

// Enqueue adds a lookup job for a staged row missing its ISWC.
func (q *Queue) Enqueue(ctx context.Context, tenantID, stagingRowID uuid.UUID, title, artist string) error {
	job := &Job{
		ID:           uuid.New(),
		TenantID:     tenantID,
		StagingRowID: stagingRowID,
		WorkTitle:    title,
		ArtistName:   artist,
		Status:       StatusPending,
	}
	return q.repo.EnqueueJob(ctx, job)
}

// Run drains the queue until the context is canceled. One batch is claimed
// per limiter token, so batches are spaced out even when the backlog is deep.
func (q *Queue) Run(ctx context.Context) error {
	for {
		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}

		processed, err := q.RunBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			q.logger.Error("lookup batch failed", "error", err)
			continue
		}
		if processed == 0 {
			// Backlog drained; the limiter keeps the polling honest.
			continue
		}
	}
}

// RunBatch claims and processes one batch, returning how many jobs it worked.
func (q *Queue) RunBatch(ctx context.Context) (int, error) {
	jobs, err := q.repo.ClaimPendingJobs(ctx, q.batchSize)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		q.process(ctx, job)
	}
	return len(jobs), nil
}

func (q *Queue) process(ctx context.Context, job *Job) {
	iswc, err := q.resolver.ResolveISWC(ctx, job.WorkTitle, job.ArtistName)
	if err == nil && !identifier.ValidISWC(iswc) {
		// A malformed registry answer is as terminal as no answer.
		err = fmt.Errorf("%w: registry returned malformed ISWC %q", ErrNoMatch, iswc)
	}
	if err != nil {
		attempts := job.Attempts + 1
		if errors.Is(err, ErrNoMatch) {
			attempts = maxAttempts
		}
		if failErr := q.repo.FailJob(ctx, job.ID, attempts, err.Error()); failErr != nil {
			q.logger.Error("failed to record lookup failure", "job_id", job.ID, "error", failErr)
		}
		if attempts >= maxAttempts {
			observability.LookupJobsTotal.WithLabelValues(StatusFailed).Inc()
		}
		return
	}

	iswc = identifier.NormalizeISWC(iswc)
	if err := q.repo.CompleteJob(ctx, job.ID, iswc); err != nil {
		q.logger.Error("failed to complete lookup job", "job_id", job.ID, "error", err)
		return
	}
	observability.LookupJobsTotal.WithLabelValues(StatusCompleted).Inc()
	q.logger.Info("identifier resolved", "job_id", job.ID, "title", job.WorkTitle, "iswc", iswc)
}
