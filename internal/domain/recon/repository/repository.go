// Package repository provides data access for reconciliation entities:
// batches, royalty allocations, payouts, payees, and quarterly balance
// reports. All queries are tenant-scoped.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Batch is one deposit of royalty funds from one source on one date.
// TotalGrossAmount is the authoritative ceiling for linked allocations.
type Batch struct {
	ID               uuid.UUID       `db:"id"`
	TenantID         uuid.UUID       `db:"tenant_id"`
	BatchLabel       string          `db:"batch_label"`
	Source           string          `db:"source"`
	TotalGrossAmount decimal.Decimal `db:"total_gross_amount"`
	DateReceived     time.Time       `db:"date_received"`
	Status           string          `db:"status"` // "Imported", "Processed"
	CreatedAt        time.Time       `db:"created_at"`
}

// Allocation attributes part of a batch's royalties to a specific song/payee.
// The amount is immutable once created; edits go through update.
type Allocation struct {
	ID                 uuid.UUID       `db:"id"`
	TenantID           uuid.UUID       `db:"tenant_id"`
	SongTitle          string          `db:"song_title"`
	Artist             string          `db:"artist"`
	WorkWriters        string          `db:"work_writers"`
	GrossRoyaltyAmount decimal.Decimal `db:"gross_royalty_amount"`
	Source             string          `db:"source"`
	BatchID            *uuid.UUID      `db:"batch_id"` // nil until linked
	ControlledStatus   string          `db:"controlled_status"`
	Comments           string          `db:"comments"`
	StatementID        *string         `db:"statement_id"`
	CreatedAt          time.Time       `db:"created_at"`
}

// Payout is any monetary disbursement event tied to a payee for a period.
type Payout struct {
	ID              uuid.UUID       `db:"id"`
	TenantID        uuid.UUID       `db:"tenant_id"`
	PayeeID         *uuid.UUID      `db:"payee_id"`
	PayeeName       string          `db:"payee_name"`
	PeriodDate      time.Time       `db:"period_date"`
	RoyaltiesAmount decimal.Decimal `db:"royalties_amount"`
	ExpensesAmount  decimal.Decimal `db:"expenses_amount"`
	PaymentAmount   decimal.Decimal `db:"payment_amount"`
	Status          string          `db:"status"` // only "Paid" contributes to payments
}

// Payee is a royalty recipient with a running account balance.
type Payee struct {
	ID        uuid.UUID `db:"id"`
	TenantID  uuid.UUID `db:"tenant_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// QuarterlyBalanceReport is a payee's running balance for one (year, quarter).
// For consecutive reports of one payee, opening must equal the prior closing.
type QuarterlyBalanceReport struct {
	ID              uuid.UUID       `db:"id"`
	TenantID        uuid.UUID       `db:"tenant_id"`
	PayeeID         uuid.UUID       `db:"payee_id"`
	Year            int             `db:"year"`
	Quarter         int             `db:"quarter"`
	OpeningBalance  decimal.Decimal `db:"opening_balance"`
	RoyaltiesAmount decimal.Decimal `db:"royalties_amount"`
	ExpensesAmount  decimal.Decimal `db:"expenses_amount"`
	PaymentsAmount  decimal.Decimal `db:"payments_amount"`
	ClosingBalance  decimal.Decimal `db:"closing_balance"`
	IsCalculated    bool            `db:"is_calculated"` // false = manual override, never regenerated
	CreatedAt       time.Time       `db:"created_at"`
}

// ReconRepository defines data access for reconciliation.
type ReconRepository interface {
	// Batches
	ListBatches(ctx context.Context, tenantID uuid.UUID) ([]*Batch, error)
	GetBatchByID(ctx context.Context, tenantID, id uuid.UUID) (*Batch, error)
	UpdateBatchStatus(ctx context.Context, tenantID, id uuid.UUID, status string) error

	// Allocations
	ListAllocations(ctx context.Context, tenantID uuid.UUID) ([]*Allocation, error)
	ListAllocationsByBatch(ctx context.Context, tenantID, batchID uuid.UUID) ([]*Allocation, error)
	CreateAllocations(ctx context.Context, allocations []*Allocation) (int, error)
	LinkAllocationToBatch(ctx context.Context, tenantID, allocationID, batchID uuid.UUID) error

	// Payouts and payees
	ListPayouts(ctx context.Context, tenantID uuid.UUID) ([]*Payout, error)
	ListPayees(ctx context.Context, tenantID uuid.UUID) ([]*Payee, error)
	CreatePayee(ctx context.Context, payee *Payee) error

	// Quarterly reports. ReplaceCalculatedReports deletes all is_calculated
	// rows for the tenant and inserts the new set in one transaction, so the
	// continuity invariant survives historical corrections.
	ReplaceCalculatedReports(ctx context.Context, tenantID uuid.UUID, reports []*QuarterlyBalanceReport) error
	ListReportsByPayee(ctx context.Context, tenantID, payeeID uuid.UUID) ([]*QuarterlyBalanceReport, error)
}
