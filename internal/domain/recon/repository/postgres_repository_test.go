package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
)

func TestPostgresReconRepository_GetBatchByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	batchID := uuid.New()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM batches WHERE tenant_id = $1 AND id = $2`)).
		WithArgs(tenantID, batchID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "batch_label", "source", "total_gross_amount",
			"date_received", "status", "created_at",
		}).AddRow(batchID, tenantID, "ASCAP 2024-Q1", "ascap", decimal.NewFromInt(10000), now, "Imported", now))

	repo := NewPostgresReconRepository(mock)
	batch, err := repo.GetBatchByID(context.Background(), tenantID, batchID)
	if err != nil {
		t.Fatalf("GetBatchByID: %v", err)
	}
	if batch == nil || batch.BatchLabel != "ASCAP 2024-Q1" {
		t.Fatalf("unexpected batch: %+v", batch)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresReconRepository_GetBatchByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	batchID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM batches WHERE tenant_id = $1 AND id = $2`)).
		WithArgs(tenantID, batchID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "batch_label", "source", "total_gross_amount",
			"date_received", "status", "created_at",
		}))

	repo := NewPostgresReconRepository(mock)
	batch, err := repo.GetBatchByID(context.Background(), tenantID, batchID)
	if err != nil {
		t.Fatalf("GetBatchByID: %v", err)
	}
	if batch != nil {
		t.Fatalf("expected nil for missing batch, got %+v", batch)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresReconRepository_LinkAllocationToBatch_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	allocID := uuid.New()
	batchID := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE royalty_allocations SET batch_id = $3 WHERE tenant_id = $1 AND id = $2`)).
		WithArgs(tenantID, allocID, batchID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewPostgresReconRepository(mock)
	if err := repo.LinkAllocationToBatch(context.Background(), tenantID, allocID, batchID); err == nil {
		t.Fatal("expected error for missing allocation")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresReconRepository_ReplaceCalculatedReports(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	report := &QuarterlyBalanceReport{
		TenantID:        tenantID,
		PayeeID:         uuid.New(),
		Year:            2024,
		Quarter:         1,
		OpeningBalance:  decimal.Zero,
		RoyaltiesAmount: decimal.NewFromInt(1500),
		ExpensesAmount:  decimal.NewFromInt(100),
		PaymentsAmount:  decimal.NewFromInt(400),
		ClosingBalance:  decimal.NewFromInt(1000),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM quarterly_balance_reports WHERE tenant_id = $1 AND is_calculated = TRUE`)).
		WithArgs(tenantID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO quarterly_balance_reports`)).
		WithArgs(pgxmock.AnyArg(), tenantID, report.PayeeID, 2024, 1,
			report.OpeningBalance, report.RoyaltiesAmount, report.ExpensesAmount,
			report.PaymentsAmount, report.ClosingBalance).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	repo := NewPostgresReconRepository(mock)
	if err := repo.ReplaceCalculatedReports(context.Background(), tenantID, []*QuarterlyBalanceReport{report}); err != nil {
		t.Fatalf("ReplaceCalculatedReports: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresReconRepository_ReplaceCalculatedReports_RollsBackOnInsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	report := &QuarterlyBalanceReport{TenantID: tenantID, PayeeID: uuid.New(), Year: 2024, Quarter: 1}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM quarterly_balance_reports`)).
		WithArgs(tenantID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO quarterly_balance_reports`)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	repo := NewPostgresReconRepository(mock)
	if err := repo.ReplaceCalculatedReports(context.Background(), tenantID, []*QuarterlyBalanceReport{report}); err == nil {
		t.Fatal("expected insert error to propagate")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresReconRepository_ListPayouts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	payeeID := uuid.New()
	rows := pgxmock.NewRows([]string{
		"id", "tenant_id", "payee_id", "payee_name", "period_date",
		"royalties_amount", "expenses_amount", "payment_amount", "status",
	}).AddRow(uuid.New(), tenantID, &payeeID, "Jane Doe",
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		decimal.NewFromInt(1000), decimal.Zero, decimal.Zero, "Pending")

	mock.ExpectQuery(regexp.QuoteMeta(`FROM payouts WHERE tenant_id = $1 ORDER BY period_date`)).
		WithArgs(tenantID).
		WillReturnRows(rows)

	repo := NewPostgresReconRepository(mock)
	payouts, err := repo.ListPayouts(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("ListPayouts: %v", err)
	}
	if len(payouts) != 1 || payouts[0].PayeeName != "Jane Doe" {
		t.Fatalf("unexpected payouts: %+v", payouts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
