package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// DefaultFeeTolerance is the largest |stored − authoritative| commission gap
// that passes without a compensating entry. One cent absorbs the rounding the
// marketplace applies per release line.
var DefaultFeeTolerance = decimal.RequireFromString("0.01")

// FeeDiscrepancy is one payment whose stored commission disagrees with the
// release report by more than the tolerance. Delta is authoritative − stored:
// positive means the ledger under-charged fees.
type FeeDiscrepancy struct {
	MarketplacePaymentID string          `json:"marketplace_payment_id"`
	Stored               decimal.Decimal `json:"stored"`
	Authoritative        decimal.Decimal `json:"authoritative"`
	Delta                decimal.Decimal `json:"delta"`
	ReportDate           string          `json:"report_date"`
}

// FeeValidationSummary reports one validation run over a release-report window.
type FeeValidationSummary struct {
	SellerID      string           `json:"seller_id"`
	WindowFrom    string           `json:"window_from"`
	WindowTo      string           `json:"window_to"`
	ReportLines   int              `json:"report_lines"`
	Matched       int              `json:"matched"`
	Unmatched     int              `json:"unmatched"`
	Discrepancies []FeeDiscrepancy `json:"discrepancies"`
	Queued        int              `json:"queued"`
	Errors        int              `json:"errors"`
}

func (s *FeeValidationSummary) String() string {
	return fmt.Sprintf("%d report lines, %d matched, %d discrepancies, %d adjustments queued, %d errors",
		s.ReportLines, s.Matched, len(s.Discrepancies), s.Queued, s.Errors)
}

// feeValidationState is the per-seller attestation persisted after each run.
type feeValidationState struct {
	LastRunAt     time.Time `json:"last_run_at"`
	WindowFrom    string    `json:"window_from"`
	WindowTo      string    `json:"window_to"`
	Discrepancies int       `json:"discrepancies"`
}

// FeeValidator compares the commission the processor derived from the
// payments API against the marketplace's release report, the ledger the
// marketplace actually pays out from. The two disagree when the marketplace
// back-dates fee corrections, so each release line's net is re-run through
// the same identity the processor used: commission = gross − net − shipping.
type FeeValidator struct {
	Models            *data.Models
	MarketplaceClient marketplace.ClientInterface
	Tolerance         decimal.Decimal
}

func NewFeeValidator(models *data.Models, marketplaceClient marketplace.ClientInterface) *FeeValidator {
	return &FeeValidator{
		Models:            models,
		MarketplaceClient: marketplaceClient,
		Tolerance:         DefaultFeeTolerance,
	}
}

// releaseLine is the per-payment aggregation of a report window: the sum of
// released nets, and the latest release date for the adjustment's key.
type releaseLine struct {
	net  decimal.Decimal
	date time.Time
}

// Run validates the seller's fees for the [from, to] release window and
// enqueues one compensating entry per discrepancy. Re-running the same window
// is a no-op: the adjustment's idempotency key embeds the report date.
func (v *FeeValidator) Run(ctx context.Context, seller *data.Seller, from, to time.Time) (*FeeValidationSummary, error) {
	if seller == nil {
		return nil, fmt.Errorf("seller is required: %w", data.ErrMissingInput)
	}

	fileName, err := v.MarketplaceClient.CreateReleaseReport(ctx, seller, from, to)
	if err != nil {
		return nil, fmt.Errorf("creating release report for seller %s: %w", seller.ID, err)
	}
	rows, err := v.MarketplaceClient.DownloadReleaseReport(ctx, seller, fileName)
	if err != nil {
		return nil, fmt.Errorf("downloading release report for seller %s: %w", seller.ID, err)
	}

	return v.ValidateRows(ctx, seller, from, to, rows)
}

// ValidateRows validates fees against report rows the caller already holds.
func (v *FeeValidator) ValidateRows(ctx context.Context, seller *data.Seller, from, to time.Time, rows []marketplace.ReleaseReportRow) (*FeeValidationSummary, error) {
	if seller == nil {
		return nil, fmt.Errorf("seller is required: %w", data.ErrMissingInput)
	}
	if !seller.IntegrationMode.PostsToERP() {
		return nil, fmt.Errorf("seller %s does not post to the ERP", seller.ID)
	}

	summary := &FeeValidationSummary{
		SellerID:      seller.ID,
		WindowFrom:    utils.FormatISODate(from),
		WindowTo:      utils.FormatISODate(to),
		ReportLines:   len(rows),
		Discrepancies: []FeeDiscrepancy{},
	}

	for refID, line := range releaseLines(rows) {
		payment, err := v.Models.Payments.GetByMarketplaceID(ctx, v.Models.DBConnectionPool, seller.ID, refID)
		if err != nil {
			if errors.Is(err, data.ErrRecordNotFound) {
				summary.Unmatched++
				continue
			}
			summary.Errors++
			log.Ctx(ctx).Errorf("loading payment %s for fee validation of seller %s: %v", refID, seller.ID, err)
			continue
		}
		if !payment.CommissionAmount.Valid {
			// Not processed yet; tonight's sync step will get to it first.
			summary.Unmatched++
			continue
		}
		summary.Matched++

		shipping := decimal.Zero
		if payment.ShippingAmount.Valid {
			shipping = payment.ShippingAmount.Decimal
		}
		authoritative := payment.GrossAmount.Sub(line.net).Sub(shipping)
		if authoritative.IsNegative() {
			authoritative = decimal.Zero
		}

		delta := authoritative.Sub(payment.CommissionAmount.Decimal)
		if delta.Abs().LessThanOrEqual(v.tolerance()) {
			continue
		}

		discrepancy := FeeDiscrepancy{
			MarketplacePaymentID: refID,
			Stored:               payment.CommissionAmount.Decimal,
			Authoritative:        authoritative,
			Delta:                delta,
			ReportDate:           utils.FormatISODate(line.date),
		}
		summary.Discrepancies = append(summary.Discrepancies, discrepancy)
		log.Ctx(ctx).Warnf("payment %s of seller %s: stored commission %s, release report says %s (delta %s)",
			refID, seller.ID, discrepancy.Stored, discrepancy.Authoritative, discrepancy.Delta)

		created, err := v.enqueueAdjustment(ctx, seller, payment, discrepancy)
		if err != nil {
			summary.Errors++
			log.Ctx(ctx).Errorf("enqueueing fee adjustment for payment %s of seller %s: %v", refID, seller.ID, err)
			continue
		}
		if created {
			summary.Queued++
		}
	}

	err := v.Models.SyncState.UpsertFrom(ctx, v.Models.DBConnectionPool, data.SyncKeyFeeValidation, seller.ID, feeValidationState{
		LastRunAt:     time.Now().UTC(),
		WindowFrom:    summary.WindowFrom,
		WindowTo:      summary.WindowTo,
		Discrepancies: len(summary.Discrepancies),
	})
	if err != nil {
		return nil, fmt.Errorf("recording fee validation state for seller %s: %w", seller.ID, err)
	}

	log.Ctx(ctx).Infof("fee validation for seller %s (%s..%s): %s", seller.ID, summary.WindowFrom, summary.WindowTo, summary)
	return summary, nil
}

// enqueueAdjustment posts the commission delta back to the ledger: a payable
// when fees were under-charged, a receivable credit when over-charged.
func (v *FeeValidator) enqueueAdjustment(ctx context.Context, seller *data.Seller, payment *data.Payment, discrepancy FeeDiscrepancy) (bool, error) {
	eventType := erp.PayableEvent
	label := "Ajuste comissão Mercado Livre "
	if discrepancy.Delta.IsNegative() {
		eventType = erp.ReceivableEvent
		label = "Crédito comissão Mercado Livre "
	}

	body, err := json.Marshal(erp.FinancialEventRequest{
		Descricao:         label + payment.MarketplacePaymentID,
		DataCompetencia:   discrepancy.ReportDate,
		IDContaFinanceira: seller.ERPFinancialAccountID,
		IDCentroCusto:     seller.ERPCostCenterID,
		IDContato:         seller.ERPContactID,
		IDCategoria:       seller.ERPCommissionCategoryID,
		Parcelas: []erp.ParcelRequest{{
			DataVencimento: discrepancy.ReportDate,
			Valor:          discrepancy.Delta.Abs(),
		}},
	})
	if err != nil {
		return false, fmt.Errorf("marshalling fee adjustment: %w", err)
	}

	_, created, err := v.Models.Jobs.Enqueue(ctx, v.Models.DBConnectionPool, data.JobInsert{
		SellerID:       seller.ID,
		IdempotencyKey: fmt.Sprintf("%s:%s:fee-adj:%s", seller.ID, payment.MarketplacePaymentID, discrepancy.ReportDate),
		Kind:           data.FeeAdjustmentJobKind,
		GroupID:        data.PaymentGroupID(seller.ID, payment.MarketplacePaymentID),
		Priority:       data.ExpenseJobPriority,
		Endpoint:       erp.CreateEventPath(eventType),
		RequestBody:    body,
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (v *FeeValidator) tolerance() decimal.Decimal {
	if v.Tolerance.IsZero() {
		return DefaultFeeTolerance
	}
	return v.Tolerance
}

// releaseLines folds report rows down to one line per payment. Only money
// release lines participate: fee corrections ride inside the released net,
// while disputes, debits and transfers belong to the gap ingester.
func releaseLines(rows []marketplace.ReleaseReportRow) map[string]releaseLine {
	lines := make(map[string]releaseLine)
	for _, row := range rows {
		if row.ReferenceID == "" {
			continue
		}
		transactionType := strings.ToLower(row.TransactionType)
		if !strings.Contains(transactionType, "liberacao de dinheiro") ||
			strings.Contains(transactionType, "cancelada") {
			continue
		}

		line := lines[row.ReferenceID]
		line.net = line.net.Add(row.NetAmount.Decimal)
		if row.ReleaseDate.After(line.date) {
			line.date = row.ReleaseDate.Time
		}
		lines[row.ReferenceID] = line
	}
	return lines
}
