// Package service implements the reconciliation engine: batch reconciliation
// rates, the discrepancy report, and quarterly balance generation.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/tunelodge/royaltydesk/internal/domain/recon/repository"
	"github.com/tunelodge/royaltydesk/pkg/observability"
)

// Health bands for the reconciliation dashboard.
const (
	HealthExcellent      = "excellent"
	HealthGood           = "good"
	HealthNeedsAttention = "needs_attention"
	HealthCritical       = "critical"
)

// fullyReconciledThreshold is inclusive: a batch at exactly 95% counts as
// fully reconciled.
var fullyReconciledThreshold = decimal.NewFromInt(95)

var (
	hundred        = decimal.NewFromInt(100)
	goodThreshold  = decimal.NewFromInt(80)
	lowThreshold   = decimal.NewFromInt(60)
	lowConfidenceN = 80.0
)

var confidencePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%\s*confidence`)

// BatchReconciliation summarizes how much of one batch has been allocated.
type BatchReconciliation struct {
	Batch           *repository.Batch
	AllocatedAmount decimal.Decimal
	Progress        decimal.Decimal // percentage, 0 when the batch total is 0
	FullyReconciled bool
}

// DiscrepancyReport groups allocations an operator should review.
type DiscrepancyReport struct {
	Unmatched     []*repository.Allocation
	LowConfidence []LowConfidenceAllocation
	Duplicates    []*repository.Allocation
}

// LowConfidenceAllocation pairs an auto-matched allocation with the
// confidence percentage parsed from its comments.
type LowConfidenceAllocation struct {
	Allocation *repository.Allocation
	Confidence float64
}

// ReconService orchestrates reconciliation reads and the quarterly batch job.
type ReconService struct {
	repo   repository.ReconRepository
	logger *slog.Logger
}

// NewReconService creates a new reconciliation service.
func NewReconService(repo repository.ReconRepository, logger *slog.Logger) *ReconService {
	return &ReconService{repo: repo, logger: logger}
}

// Reconcile computes the reconciliation rate for one batch against its
// allocations.
func Reconcile(batch *repository.Batch, allocations []*repository.Allocation) BatchReconciliation {
	allocated := decimal.Zero
	for _, a := range allocations {
		if a.BatchID != nil && *a.BatchID == batch.ID {
			allocated = allocated.Add(a.GrossRoyaltyAmount)
		}
	}

	progress := decimal.Zero
	if !batch.TotalGrossAmount.IsZero() {
		progress = allocated.Div(batch.TotalGrossAmount).Mul(hundred)
	}

	return BatchReconciliation{
		Batch:           batch,
		AllocatedAmount: allocated,
		Progress:        progress,
		FullyReconciled: progress.GreaterThanOrEqual(fullyReconciledThreshold),
	}
}

// HealthBand maps a reconciliation percentage to the dashboard band.
func HealthBand(progress decimal.Decimal) string {
	switch {
	case progress.GreaterThanOrEqual(fullyReconciledThreshold):
		return HealthExcellent
	case progress.GreaterThanOrEqual(goodThreshold):
		return HealthGood
	case progress.GreaterThanOrEqual(lowThreshold):
		return HealthNeedsAttention
	default:
		return HealthCritical
	}
}

// ReviewBatches returns the reconciliation state of every batch for a tenant.
func (s *ReconService) ReviewBatches(ctx context.Context, tenantID uuid.UUID) ([]BatchReconciliation, error) {
	batches, err := s.repo.ListBatches(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	allocations, err := s.repo.ListAllocations(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}

	results := make([]BatchReconciliation, 0, len(batches))
	for _, batch := range batches {
		results = append(results, Reconcile(batch, allocations))
	}
	return results, nil
}

// LinkAllocation attaches an allocation to a batch.
func (s *ReconService) LinkAllocation(ctx context.Context, tenantID, allocationID, batchID uuid.UUID) error {
	if err := s.repo.LinkAllocationToBatch(ctx, tenantID, allocationID, batchID); err != nil {
		return fmt.Errorf("failed to link allocation: %w", err)
	}
	return nil
}

// BuildDiscrepancyReport classifies allocations for operator review:
// unmatched non-controlled items, auto-matches below the confidence floor,
// and same-title duplicates. Duplicate grouping keys only on the song title;
// cover versions sharing a title are flagged together and left for the
// reviewer to clear.
func BuildDiscrepancyReport(allocations []*repository.Allocation) *DiscrepancyReport {
	report := &DiscrepancyReport{}

	titleGroups := make(map[string][]*repository.Allocation)
	var order []string

	for _, a := range allocations {
		if a.ControlledStatus == "Non-Controlled" && strings.Contains(a.Comments, "Unmatched") {
			report.Unmatched = append(report.Unmatched, a)
		}

		if strings.Contains(a.Comments, "confidence") && strings.Contains(a.Comments, "Auto-matched") {
			confidence := parseConfidence(a.Comments)
			if confidence < lowConfidenceN {
				report.LowConfidence = append(report.LowConfidence, LowConfidenceAllocation{
					Allocation: a,
					Confidence: confidence,
				})
			}
		}

		key := strings.ToLower(strings.TrimSpace(a.SongTitle))
		if _, seen := titleGroups[key]; !seen {
			order = append(order, key)
		}
		titleGroups[key] = append(titleGroups[key], a)
	}

	for _, key := range order {
		if group := titleGroups[key]; len(group) > 1 {
			report.Duplicates = append(report.Duplicates, group...)
		}
	}

	return report
}

// DiscrepancyReport loads a tenant's allocations and classifies them.
func (s *ReconService) DiscrepancyReport(ctx context.Context, tenantID uuid.UUID) (*DiscrepancyReport, error) {
	allocations, err := s.repo.ListAllocations(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	return BuildDiscrepancyReport(allocations), nil
}

// parseConfidence extracts the embedded "<N>% confidence" percentage. An
// unparsable value is treated as zero so the allocation surfaces for review
// instead of slipping through.
func parseConfidence(comments string) float64 {
	match := confidencePattern.FindStringSubmatch(comments)
	if match == nil {
		return 0
	}
	var n float64
	if _, err := fmt.Sscanf(match[1], "%f", &n); err != nil {
		return 0
	}
	return n
}

// ListPayeeReports returns one payee's quarterly history in period order.
func (s *ReconService) ListPayeeReports(ctx context.Context, tenantID, payeeID uuid.UUID) ([]*repository.QuarterlyBalanceReport, error) {
	reports, err := s.repo.ListReportsByPayee(ctx, tenantID, payeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarterly reports: %w", err)
	}
	return reports, nil
}

// quarterBucket accumulates one payee's totals for one calendar quarter.
type quarterBucket struct {
	year, quarter int
	royalties     decimal.Decimal
	expenses      decimal.Decimal
	payments      decimal.Decimal
}

// GenerateQuarterlyReports rebuilds every payee's quarterly balance history
// from the payout record. All system-calculated reports are deleted and
// regenerated from scratch inside one transaction, which keeps the continuity
// invariant intact after historical corrections. Manual (is_calculated=false)
// rows are a separate path and are left alone.
func (s *ReconService) GenerateQuarterlyReports(ctx context.Context, tenantID uuid.UUID) (int, error) {
	ctx, span := otel.Tracer("royaltydesk/recon").Start(ctx, "GenerateQuarterlyReports")
	defer span.End()
	start := time.Now()

	payouts, err := s.repo.ListPayouts(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list payouts: %w", err)
	}
	payees, err := s.repo.ListPayees(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list payees: %w", err)
	}

	byPayee, err := s.groupPayoutsByPayee(ctx, tenantID, payouts, payees)
	if err != nil {
		return 0, err
	}

	// Quarters of one payee are a strict sequential fold (each opening balance
	// depends on the prior closing), but payees are independent.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reports []*repository.QuarterlyBalanceReport
	)
	for payeeID, payeePayouts := range byPayee {
		wg.Add(1)
		go func(payeeID uuid.UUID, payeePayouts []*repository.Payout) {
			defer wg.Done()
			payeeReports := foldQuarters(tenantID, payeeID, payeePayouts)
			mu.Lock()
			reports = append(reports, payeeReports...)
			mu.Unlock()
		}(payeeID, payeePayouts)
	}
	wg.Wait()

	if err := s.repo.ReplaceCalculatedReports(ctx, tenantID, reports); err != nil {
		return 0, fmt.Errorf("failed to replace quarterly reports: %w", err)
	}

	observability.QuarterlyReportRuns.Inc()
	observability.QuarterlyReportDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("quarterly reports regenerated",
		"tenant_id", tenantID, "payees", len(byPayee), "reports", len(reports))
	return len(reports), nil
}

// groupPayoutsByPayee resolves each payout to a payee, creating payee records
// on the fly for unrecognized counterparty names so no historical payout is
// silently dropped. Matching is exact first, then substring either direction.
func (s *ReconService) groupPayoutsByPayee(ctx context.Context, tenantID uuid.UUID, payouts []*repository.Payout, payees []*repository.Payee) (map[uuid.UUID][]*repository.Payout, error) {
	byPayee := make(map[uuid.UUID][]*repository.Payout)

	for _, payout := range payouts {
		if payout.PayeeID != nil {
			byPayee[*payout.PayeeID] = append(byPayee[*payout.PayeeID], payout)
			continue
		}

		payee := matchPayee(payees, payout.PayeeName)
		if payee == nil {
			payee = &repository.Payee{
				ID:       uuid.New(),
				TenantID: tenantID,
				Name:     strings.TrimSpace(payout.PayeeName),
			}
			if err := s.repo.CreatePayee(ctx, payee); err != nil {
				return nil, fmt.Errorf("failed to auto-create payee %q: %w", payee.Name, err)
			}
			payees = append(payees, payee)
			s.logger.Info("payee auto-created during report generation",
				"tenant_id", tenantID, "payee", payee.Name)
		}
		byPayee[payee.ID] = append(byPayee[payee.ID], payout)
	}

	return byPayee, nil
}

func matchPayee(payees []*repository.Payee, name string) *repository.Payee {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}
	for _, p := range payees {
		if strings.ToLower(strings.TrimSpace(p.Name)) == needle {
			return p
		}
	}
	for _, p := range payees {
		existing := strings.ToLower(strings.TrimSpace(p.Name))
		if existing == "" {
			continue
		}
		if strings.Contains(existing, needle) || strings.Contains(needle, existing) {
			return p
		}
	}
	return nil
}

// foldQuarters buckets one payee's payouts by calendar quarter and folds the
// running balance through the quarters in ascending (year, quarter) order.
func foldQuarters(tenantID, payeeID uuid.UUID, payouts []*repository.Payout) []*repository.QuarterlyBalanceReport {
	buckets := make(map[[2]int]*quarterBucket)
	for _, payout := range payouts {
		year := payout.PeriodDate.Year()
		quarter := int(payout.PeriodDate.Month()-1)/3 + 1
		key := [2]int{year, quarter}

		bucket, ok := buckets[key]
		if !ok {
			bucket = &quarterBucket{year: year, quarter: quarter}
			buckets[key] = bucket
		}
		bucket.royalties = bucket.royalties.Add(payout.RoyaltiesAmount)
		bucket.expenses = bucket.expenses.Add(payout.ExpensesAmount)
		if payout.Status == "Paid" {
			bucket.payments = bucket.payments.Add(payout.PaymentAmount)
		}
	}

	ordered := make([]*quarterBucket, 0, len(buckets))
	for _, bucket := range buckets {
		ordered = append(ordered, bucket)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].year != ordered[j].year {
			return ordered[i].year < ordered[j].year
		}
		return ordered[i].quarter < ordered[j].quarter
	})

	runningBalance := decimal.Zero
	reports := make([]*repository.QuarterlyBalanceReport, 0, len(ordered))
	for _, bucket := range ordered {
		opening := runningBalance
		closing := opening.Add(bucket.royalties).Sub(bucket.expenses).Sub(bucket.payments).Round(2)
		runningBalance = closing

		reports = append(reports, &repository.QuarterlyBalanceReport{
			ID:              uuid.New(),
			TenantID:        tenantID,
			PayeeID:         payeeID,
			Year:            bucket.year,
			Quarter:         bucket.quarter,
			OpeningBalance:  opening,
			RoyaltiesAmount: bucket.royalties,
			ExpensesAmount:  bucket.expenses,
			PaymentsAmount:  bucket.payments,
			ClosingBalance:  closing,
			IsCalculated:    true,
		})
	}
	return reports
}
