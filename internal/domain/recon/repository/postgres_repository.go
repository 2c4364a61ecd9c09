package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxPool = (*pgxpool.Pool)(nil)

// PostgresReconRepository handles database operations for reconciliation
type PostgresReconRepository struct {
	pgpool PgxPool
}

// NewPostgresReconRepository creates a new reconciliation repository
func NewPostgresReconRepository(pgpool PgxPool) *PostgresReconRepository {
	return &PostgresReconRepository{pgpool: pgpool}
}

var _ ReconRepository = (*PostgresReconRepository)(nil)

const batchColumns = `id, tenant_id, batch_label, source, total_gross_amount, date_received, status, created_at`

// ListBatches returns all batches for a tenant, newest deposits first.
func (r *PostgresReconRepository) ListBatches(ctx context.Context, tenantID uuid.UUID) ([]*Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE tenant_id = $1 ORDER BY date_received DESC`

	rows, err := r.pgpool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.TenantID, &b.BatchLabel, &b.Source,
			&b.TotalGrossAmount, &b.DateReceived, &b.Status, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, &b)
	}
	return batches, rows.Err()
}

// GetBatchByID retrieves one batch, nil if it does not exist for the tenant.
func (r *PostgresReconRepository) GetBatchByID(ctx context.Context, tenantID, id uuid.UUID) (*Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE tenant_id = $1 AND id = $2`

	var b Batch
	err := r.pgpool.QueryRow(ctx, query, tenantID, id).Scan(
		&b.ID, &b.TenantID, &b.BatchLabel, &b.Source,
		&b.TotalGrossAmount, &b.DateReceived, &b.Status, &b.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

// UpdateBatchStatus sets a batch's lifecycle status.
func (r *PostgresReconRepository) UpdateBatchStatus(ctx context.Context, tenantID, id uuid.UUID, status string) error {
	query := `UPDATE batches SET status = $3 WHERE tenant_id = $1 AND id = $2`
	tag, err := r.pgpool.Exec(ctx, query, tenantID, id, status)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s not found", id)
	}
	return nil
}

const allocationColumns = `id, tenant_id, song_title, artist, work_writers, gross_royalty_amount,
	       source, batch_id, controlled_status, comments, statement_id, created_at`

// ListAllocations returns all allocations for a tenant.
func (r *PostgresReconRepository) ListAllocations(ctx context.Context, tenantID uuid.UUID) ([]*Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM royalty_allocations WHERE tenant_id = $1 ORDER BY created_at DESC`
	return r.queryAllocations(ctx, query, tenantID)
}

// ListAllocationsByBatch returns the allocations linked to one batch.
func (r *PostgresReconRepository) ListAllocationsByBatch(ctx context.Context, tenantID, batchID uuid.UUID) ([]*Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM royalty_allocations WHERE tenant_id = $1 AND batch_id = $2 ORDER BY created_at`
	return r.queryAllocations(ctx, query, tenantID, batchID)
}

func (r *PostgresReconRepository) queryAllocations(ctx context.Context, query string, args ...any) ([]*Allocation, error) {
	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var allocations []*Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.TenantID, &a.SongTitle, &a.Artist, &a.WorkWriters,
			&a.GrossRoyaltyAmount, &a.Source, &a.BatchID, &a.ControlledStatus,
			&a.Comments, &a.StatementID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocations = append(allocations, &a)
	}
	return allocations, rows.Err()
}

// CreateAllocations bulk inserts allocations produced by an approved import.
func (r *PostgresReconRepository) CreateAllocations(ctx context.Context, allocations []*Allocation) (int, error) {
	if len(allocations) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO royalty_allocations (
			id, tenant_id, song_title, artist, work_writers, gross_royalty_amount,
			source, batch_id, controlled_status, comments, statement_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for _, a := range allocations {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		_, err := r.pgpool.Exec(ctx, query,
			a.ID, a.TenantID, a.SongTitle, a.Artist, a.WorkWriters, a.GrossRoyaltyAmount,
			a.Source, a.BatchID, a.ControlledStatus, a.Comments, a.StatementID,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to create allocation: %w", err)
		}
	}
	return len(allocations), nil
}

// LinkAllocationToBatch attaches an existing allocation to a deposit batch.
func (r *PostgresReconRepository) LinkAllocationToBatch(ctx context.Context, tenantID, allocationID, batchID uuid.UUID) error {
	query := `UPDATE royalty_allocations SET batch_id = $3 WHERE tenant_id = $1 AND id = $2`
	tag, err := r.pgpool.Exec(ctx, query, tenantID, allocationID, batchID)
	if err != nil {
		return fmt.Errorf("failed to link allocation to batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("allocation %s not found", allocationID)
	}
	return nil
}

// ListPayouts returns all payout events for a tenant ordered by period.
func (r *PostgresReconRepository) ListPayouts(ctx context.Context, tenantID uuid.UUID) ([]*Payout, error) {
	query := `
		SELECT id, tenant_id, payee_id, payee_name, period_date,
		       royalties_amount, expenses_amount, payment_amount, status
		FROM payouts WHERE tenant_id = $1 ORDER BY period_date
	`

	rows, err := r.pgpool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*Payout
	for rows.Next() {
		var p Payout
		if err := rows.Scan(&p.ID, &p.TenantID, &p.PayeeID, &p.PayeeName, &p.PeriodDate,
			&p.RoyaltiesAmount, &p.ExpensesAmount, &p.PaymentAmount, &p.Status); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, &p)
	}
	return payouts, rows.Err()
}

// ListPayees returns all payees for a tenant.
func (r *PostgresReconRepository) ListPayees(ctx context.Context, tenantID uuid.UUID) ([]*Payee, error) {
	query := `SELECT id, tenant_id, name, created_at FROM payees WHERE tenant_id = $1 ORDER BY name`

	rows, err := r.pgpool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payees: %w", err)
	}
	defer rows.Close()

	var payees []*Payee
	for rows.Next() {
		var p Payee
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payee: %w", err)
		}
		payees = append(payees, &p)
	}
	return payees, rows.Err()
}

// CreatePayee inserts a new payee.
func (r *PostgresReconRepository) CreatePayee(ctx context.Context, payee *Payee) error {
	if payee.ID == uuid.Nil {
		payee.ID = uuid.New()
	}
	if payee.CreatedAt.IsZero() {
		payee.CreatedAt = time.Now()
	}

	query := `INSERT INTO payees (id, tenant_id, name, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.pgpool.Exec(ctx, query, payee.ID, payee.TenantID, payee.Name, payee.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payee: %w", err)
	}
	return nil
}

// ReplaceCalculatedReports swaps the tenant's calculated quarterly reports for
// a fresh set in one transaction. Manual reports (is_calculated = false) are
// left untouched so operator corrections survive regeneration.
func (r *PostgresReconRepository) ReplaceCalculatedReports(ctx context.Context, tenantID uuid.UUID, reports []*QuarterlyBalanceReport) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	deleteQuery := `DELETE FROM quarterly_balance_reports WHERE tenant_id = $1 AND is_calculated = TRUE`
	if _, err := tx.Exec(ctx, deleteQuery, tenantID); err != nil {
		return fmt.Errorf("failed to delete calculated reports: %w", err)
	}

	insertQuery := `
		INSERT INTO quarterly_balance_reports (
			id, tenant_id, payee_id, year, quarter, opening_balance,
			royalties_amount, expenses_amount, payments_amount, closing_balance, is_calculated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
	`
	for _, report := range reports {
		if report.ID == uuid.Nil {
			report.ID = uuid.New()
		}
		_, err := tx.Exec(ctx, insertQuery,
			report.ID, report.TenantID, report.PayeeID, report.Year, report.Quarter,
			report.OpeningBalance, report.RoyaltiesAmount, report.ExpensesAmount,
			report.PaymentsAmount, report.ClosingBalance,
		)
		if err != nil {
			return fmt.Errorf("failed to insert quarterly report: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit quarterly reports: %w", err)
	}
	return nil
}

// ListReportsByPayee returns one payee's quarterly reports in period order.
func (r *PostgresReconRepository) ListReportsByPayee(ctx context.Context, tenantID, payeeID uuid.UUID) ([]*QuarterlyBalanceReport, error) {
	query := `
		SELECT id, tenant_id, payee_id, year, quarter, opening_balance,
		       royalties_amount, expenses_amount, payments_amount, closing_balance,
		       is_calculated, created_at
		FROM quarterly_balance_reports
		WHERE tenant_id = $1 AND payee_id = $2
		ORDER BY year, quarter
	`

	rows, err := r.pgpool.Query(ctx, query, tenantID, payeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarterly reports: %w", err)
	}
	defer rows.Close()

	var reports []*QuarterlyBalanceReport
	for rows.Next() {
		var qr QuarterlyBalanceReport
		if err := rows.Scan(&qr.ID, &qr.TenantID, &qr.PayeeID, &qr.Year, &qr.Quarter,
			&qr.OpeningBalance, &qr.RoyaltiesAmount, &qr.ExpensesAmount,
			&qr.PaymentsAmount, &qr.ClosingBalance, &qr.IsCalculated, &qr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quarterly report: %w", err)
		}
		reports = append(reports, &qr)
	}
	return reports, rows.Err()
}
