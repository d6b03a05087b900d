package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// DefaultUncoveredSampleSize caps how many uncovered reference ids a report
// carries. Enough to investigate, small enough to log.
const DefaultUncoveredSampleSize = 20

// CoverageReport buckets every bank-statement line of a window by which lane
// explains it. The target is always 100%: an uncovered line is money that
// moved without a ledger entry.
type CoverageReport struct {
	SellerID                string          `json:"seller_id"`
	WindowFrom              string          `json:"window_from"`
	WindowTo                string          `json:"window_to"`
	TotalLines              int             `json:"total_lines"`
	CoveredByPaymentsAPI    int             `json:"covered_by_payments_api"`
	CoveredByExpenses       int             `json:"covered_by_expenses"`
	CoveredByLegacyNonOrder int             `json:"covered_by_legacy_non_order"`
	Uncovered               int             `json:"uncovered"`
	CoveragePercent         decimal.Decimal `json:"coverage_percent"`
	UncoveredSample         []string        `json:"uncovered_sample"`
}

// FullyCovered reports whether every statement line is explained.
func (r *CoverageReport) FullyCovered() bool {
	return r.Uncovered == 0
}

func (r *CoverageReport) String() string {
	return fmt.Sprintf("%s%% of %d lines covered (%d payments, %d expenses, %d legacy, %d uncovered)",
		r.CoveragePercent, r.TotalLines, r.CoveredByPaymentsAPI, r.CoveredByExpenses, r.CoveredByLegacyNonOrder, r.Uncovered)
}

// CoverageChecker proves that each line of the marketplace's bank statement
// has a local counterpart: a payment from the payments API, an expense from
// the classifier, or a statement-ingested expense under a composite key.
type CoverageChecker struct {
	Models            *data.Models
	MarketplaceClient marketplace.ClientInterface
	SampleSize        int
}

func NewCoverageChecker(models *data.Models, marketplaceClient marketplace.ClientInterface) *CoverageChecker {
	return &CoverageChecker{
		Models:            models,
		MarketplaceClient: marketplaceClient,
		SampleSize:        DefaultUncoveredSampleSize,
	}
}

// Check downloads the seller's statement for [from, to] and buckets it.
func (c *CoverageChecker) Check(ctx context.Context, seller *data.Seller, from, to time.Time) (*CoverageReport, error) {
	if seller == nil {
		return nil, fmt.Errorf("seller is required: %w", data.ErrMissingInput)
	}

	fileName, err := c.MarketplaceClient.CreateReleaseReport(ctx, seller, from, to)
	if err != nil {
		return nil, fmt.Errorf("creating release report for seller %s: %w", seller.ID, err)
	}
	rows, err := c.MarketplaceClient.DownloadReleaseReport(ctx, seller, fileName)
	if err != nil {
		return nil, fmt.Errorf("downloading release report for seller %s: %w", seller.ID, err)
	}

	return c.CheckRows(ctx, seller, from, to, rows)
}

// CheckRows buckets statement rows the caller already holds. The nightly
// pipeline uses this to reuse the window's report across steps.
func (c *CoverageChecker) CheckRows(ctx context.Context, seller *data.Seller, from, to time.Time, rows []marketplace.ReleaseReportRow) (*CoverageReport, error) {
	if seller == nil {
		return nil, fmt.Errorf("seller is required: %w", data.ErrMissingInput)
	}

	report := &CoverageReport{
		SellerID:        seller.ID,
		WindowFrom:      utils.FormatISODate(from),
		WindowTo:        utils.FormatISODate(to),
		CoveragePercent: decimal.NewFromInt(100),
		UncoveredSample: []string{},
	}

	refIDs := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if row.ReferenceID == "" {
			continue
		}
		report.TotalLines++
		if _, ok := seen[row.ReferenceID]; ok {
			continue
		}
		seen[row.ReferenceID] = struct{}{}
		refIDs = append(refIDs, row.ReferenceID)
	}
	if report.TotalLines == 0 {
		return report, nil
	}

	payments, err := c.Models.Payments.FilterExistingMarketplaceIDs(ctx, c.Models.DBConnectionPool, seller.ID, refIDs)
	if err != nil {
		return nil, fmt.Errorf("checking payment coverage for seller %s: %w", seller.ID, err)
	}
	exact, composite, err := c.Models.Expenses.FilterCoveredPaymentIDs(ctx, c.Models.DBConnectionPool, seller.ID, refIDs)
	if err != nil {
		return nil, fmt.Errorf("checking expense coverage for seller %s: %w", seller.ID, err)
	}

	sampled := make(map[string]struct{})
	for _, row := range rows {
		if row.ReferenceID == "" {
			continue
		}
		switch {
		case contains(payments, row.ReferenceID):
			report.CoveredByPaymentsAPI++
		case contains(exact, row.ReferenceID):
			report.CoveredByExpenses++
		case contains(composite, row.ReferenceID):
			report.CoveredByLegacyNonOrder++
		default:
			report.Uncovered++
			if _, ok := sampled[row.ReferenceID]; !ok && len(report.UncoveredSample) < c.sampleSize() {
				sampled[row.ReferenceID] = struct{}{}
				report.UncoveredSample = append(report.UncoveredSample, row.ReferenceID)
			}
		}
	}

	covered := report.TotalLines - report.Uncovered
	report.CoveragePercent = decimal.NewFromInt(int64(covered)).
		Div(decimal.NewFromInt(int64(report.TotalLines))).
		Mul(decimal.NewFromInt(100)).
		Round(2)

	logLine := log.Ctx(ctx).Infof
	if !report.FullyCovered() {
		logLine = log.Ctx(ctx).Warnf
	}
	logLine("coverage for seller %s (%s..%s): %s", seller.ID, report.WindowFrom, report.WindowTo, report)

	return report, nil
}

func (c *CoverageChecker) sampleSize() int {
	if c.SampleSize <= 0 {
		return DefaultUncoveredSampleSize
	}
	return c.SampleSize
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
