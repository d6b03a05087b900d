package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// DefaultSettlementLookbackDays bounds how far back the scheduler searches
// for open parcels. Parcels older than this are operator territory.
const DefaultSettlementLookbackDays = 90

// Skip reasons reported in SettlementRunSummary.
const (
	SkipMotiveNotReleased   = "money_release_status = pending"
	SkipMotiveAlreadyQueued = "baixa already enqueued"
)

// SkippedParcel is one parcel the scheduler declined to settle, with why.
type SkippedParcel struct {
	ParcelID string `json:"parcela_id"`
	Motivo   string `json:"motivo"`
}

// SettlementRunSummary reports one scheduler run over both ledger sides.
type SettlementRunSummary struct {
	SellerID       string          `json:"seller_id"`
	DryRun         bool            `json:"dry_run"`
	QueuedReceber  int             `json:"queued_receber"`
	QueuedPagar    int             `json:"queued_pagar"`
	SkippedReceber []SkippedParcel `json:"skipped_receber"`
	SkippedPagar   []SkippedParcel `json:"skipped_pagar"`
	Errors         int             `json:"errors"`
}

func (s *SettlementRunSummary) String() string {
	return fmt.Sprintf("%d receber + %d pagar queued, %d skipped, %d errors",
		s.QueuedReceber, s.QueuedPagar, len(s.SkippedReceber)+len(s.SkippedPagar), s.Errors)
}

// SettlementScheduler finds open parcels on the seller's retained-funds
// account whose due date has arrived and enqueues baixa jobs for them. The
// ERP refuses payment dates in the future, so settlements post in this
// second pass rather than together with the financial event.
type SettlementScheduler struct {
	Models        *data.Models
	ERPClient     erp.ClientInterface
	ReleaseStatus *ReleaseStatusChecker
	LookbackDays  int
}

// NewSettlementScheduler creates a scheduler. releaseStatus may be nil, which
// disables the marketplace release verification.
func NewSettlementScheduler(models *data.Models, erpClient erp.ClientInterface, releaseStatus *ReleaseStatusChecker) *SettlementScheduler {
	return &SettlementScheduler{
		Models:        models,
		ERPClient:     erpClient,
		ReleaseStatus: releaseStatus,
		LookbackDays:  DefaultSettlementLookbackDays,
	}
}

// Run settles both sides of the seller's retained-funds account. With dryRun
// the summary reports what would be queued without touching the job store.
func (s *SettlementScheduler) Run(ctx context.Context, seller *data.Seller, dryRun bool) (*SettlementRunSummary, error) {
	return s.RunUntil(ctx, seller, utils.TodayOperational(), dryRun)
}

// RunUntil is Run with an explicit window end, for replaying an older cutoff.
func (s *SettlementScheduler) RunUntil(ctx context.Context, seller *data.Seller, until time.Time, dryRun bool) (*SettlementRunSummary, error) {
	if seller == nil {
		return nil, fmt.Errorf("seller is required: %w", data.ErrMissingInput)
	}
	if !seller.IntegrationMode.PostsToERP() {
		return nil, fmt.Errorf("seller %s does not post to the ERP", seller.ID)
	}
	if seller.ERPRetainedAccountID == "" {
		return nil, fmt.Errorf("seller %s has no retained-funds account configured", seller.ID)
	}

	lookback := s.LookbackDays
	if lookback <= 0 {
		lookback = DefaultSettlementLookbackDays
	}
	if until.IsZero() {
		until = utils.TodayOperational()
	}
	to := utils.TruncateToDay(until)
	from := to.AddDate(0, 0, -lookback)

	summary := &SettlementRunSummary{SellerID: seller.ID, DryRun: dryRun}

	var err error
	summary.QueuedReceber, summary.SkippedReceber, err = s.runSide(ctx, seller, erp.ReceivableEvent, from, to, dryRun, summary)
	if err != nil {
		return nil, fmt.Errorf("settling receivables for seller %s: %w", seller.ID, err)
	}
	summary.QueuedPagar, summary.SkippedPagar, err = s.runSide(ctx, seller, erp.PayableEvent, from, to, dryRun, summary)
	if err != nil {
		return nil, fmt.Errorf("settling payables for seller %s: %w", seller.ID, err)
	}

	log.Ctx(ctx).Infof("settlement run for seller %s (dry_run=%t): %s", seller.ID, dryRun, summary)
	return summary, nil
}

func (s *SettlementScheduler) runSide(ctx context.Context, seller *data.Seller, eventType erp.EventType, from, to time.Time, dryRun bool, summary *SettlementRunSummary) (int, []SkippedParcel, error) {
	parcels, err := s.openParcels(ctx, seller, eventType, from, to)
	if err != nil {
		return 0, nil, err
	}

	queued := 0
	skipped := []SkippedParcel{}
	for _, parcel := range parcels {
		if skip := s.pendingRelease(ctx, seller, parcel); skip {
			skipped = append(skipped, SkippedParcel{ParcelID: parcel.ID, Motivo: SkipMotiveNotReleased})
			continue
		}

		if dryRun {
			queued++
			continue
		}

		body, err := json.Marshal(erp.BaixaRequest{
			DataPagamento:     parcel.DataVencimento,
			Valor:             parcel.NaoPago,
			IDContaFinanceira: seller.ERPRetainedAccountID,
		})
		if err != nil {
			summary.Errors++
			log.Ctx(ctx).Errorf("marshalling baixa for parcel %s of seller %s: %v", parcel.ID, seller.ID, err)
			continue
		}

		groupRef := parcel.MarketplacePaymentID()
		if groupRef == "" {
			groupRef = "parcel-" + parcel.ID
		}

		_, created, err := s.Models.Jobs.Enqueue(ctx, s.Models.DBConnectionPool, data.JobInsert{
			SellerID:       seller.ID,
			IdempotencyKey: fmt.Sprintf("%s:%s:settlement", seller.ID, parcel.ID),
			Kind:           data.SettlementJobKind,
			GroupID:        data.PaymentGroupID(seller.ID, groupRef),
			Priority:       data.SettlementJobPriority,
			Endpoint:       erp.BaixaPath(parcel.ID),
			RequestBody:    body,
		})
		if err != nil {
			summary.Errors++
			log.Ctx(ctx).Errorf("enqueueing baixa for parcel %s of seller %s: %v", parcel.ID, seller.ID, err)
			continue
		}
		if !created {
			skipped = append(skipped, SkippedParcel{ParcelID: parcel.ID, Motivo: SkipMotiveAlreadyQueued})
			continue
		}
		queued++
	}

	return queued, skipped, nil
}

// pendingRelease reports whether the marketplace still holds the money behind
// this parcel. Parcels without an extractable payment id and lookup failures
// do not block settlement.
func (s *SettlementScheduler) pendingRelease(ctx context.Context, seller *data.Seller, parcel erp.Parcel) bool {
	if s.ReleaseStatus == nil {
		return false
	}
	mpID := parcel.MarketplacePaymentID()
	if mpID == "" {
		return false
	}
	paymentID, err := strconv.ParseInt(mpID, 10, 64)
	if err != nil {
		return false
	}

	released, err := s.ReleaseStatus.IsReleased(ctx, seller, paymentID)
	if err != nil {
		log.Ctx(ctx).Warnf("verifying release of payment %d behind parcel %s for seller %s: %v", paymentID, parcel.ID, seller.ID, err)
		return false
	}
	return !released
}

func (s *SettlementScheduler) openParcels(ctx context.Context, seller *data.Seller, eventType erp.EventType, from, to time.Time) ([]erp.Parcel, error) {
	parcels := []erp.Parcel{}
	for page := 1; ; page++ {
		result, err := s.ERPClient.SearchOpenParcels(ctx, eventType, erp.ParcelSearchParams{
			Statuses:            []string{erp.ParcelStatusOpen, erp.ParcelStatusOverdue},
			FinancialAccountIDs: []string{seller.ERPRetainedAccountID},
			DueDateFrom:         from,
			DueDateTo:           to,
			Page:                page,
		})
		if err != nil {
			return nil, err
		}
		parcels = append(parcels, result.Itens...)
		if len(result.Itens) == 0 || len(parcels) >= result.TotalItens {
			break
		}
	}
	return parcels, nil
}
