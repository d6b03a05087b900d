package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

const (
	// DefaultBackfillConcurrency bounds parallel marketplace reads during a
	// backfill. The ERP side stays serialized behind the queue either way.
	DefaultBackfillConcurrency = 10

	// DefaultBackfillHorizonDays extends the window past today to capture
	// future-dated releases of already-approved sales.
	DefaultBackfillHorizonDays = 90

	// defaultProgressEvery is how many handled payments between progress
	// checkpoints.
	defaultProgressEvery = 50
)

// BackfillOptions tunes one backfill run. Zero values take the seller's
// defaults: BeginDate from erp_start_date, EndDate today plus the horizon.
type BackfillOptions struct {
	BeginDate            time.Time
	EndDate              time.Time
	DryRun               bool
	MaxProcess           int
	Concurrency          int
	ReprocessMissingFees bool
}

func (o *BackfillOptions) normalize(seller *data.Seller) error {
	if o.BeginDate.IsZero() {
		if seller.ERPStartDate == nil {
			return fmt.Errorf("seller %s has no erp_start_date and no begin date was given", seller.ID)
		}
		o.BeginDate = *seller.ERPStartDate
	}
	if o.EndDate.IsZero() {
		o.EndDate = utils.TodayOperational().AddDate(0, 0, DefaultBackfillHorizonDays)
	}
	if o.EndDate.Before(o.BeginDate) {
		return fmt.Errorf("backfill window ends (%s) before it begins (%s)", utils.FormatISODate(o.EndDate), utils.FormatISODate(o.BeginDate))
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultBackfillConcurrency
	}
	return nil
}

// BackfillProgress is the checkpoint persisted on the seller row while a
// backfill runs, and the final report when it ends.
type BackfillProgress struct {
	Total         int        `json:"total"`
	Processed     int        `json:"processed"`
	Skipped       int        `json:"skipped"`
	Errors        int        `json:"errors"`
	LastPaymentID string     `json:"last_payment_id,omitempty"`
	DryRun        bool       `json:"dry_run,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func (p *BackfillProgress) String() string {
	return fmt.Sprintf("%d/%d processed, %d skipped, %d errors", p.Processed, p.Total, p.Skipped, p.Errors)
}

// BackfillRunner replays a seller's marketplace history through the
// processor when the seller is activated in dashboard_erp mode. Both the
// processor's status short-circuit and the jobs' idempotency keys make the
// replay safe to re-run after a failure: already-handled payments fall out
// as skips.
type BackfillRunner struct {
	Models            *data.Models
	Processor         *PaymentProcessor
	Settlements       *SettlementScheduler
	MarketplaceClient marketplace.ClientInterface
	ProgressEvery     int
}

func NewBackfillRunner(models *data.Models, processor *PaymentProcessor, settlements *SettlementScheduler, marketplaceClient marketplace.ClientInterface) *BackfillRunner {
	return &BackfillRunner{
		Models:            models,
		Processor:         processor,
		Settlements:       settlements,
		MarketplaceClient: marketplaceClient,
		ProgressEvery:     defaultProgressEvery,
	}
}

// Run walks the seller's money-release window through the processor and then
// settles whatever the window released. Blocks until done; callers wanting a
// background backfill run it in a goroutine and poll the seller row.
func (r *BackfillRunner) Run(ctx context.Context, seller *data.Seller, opts BackfillOptions) (*BackfillProgress, error) {
	if seller == nil {
		return nil, fmt.Errorf("seller is required: %w", data.ErrMissingInput)
	}
	if !seller.IntegrationMode.PostsToERP() {
		return nil, fmt.Errorf("seller %s does not post to the ERP", seller.ID)
	}
	if err := opts.normalize(seller); err != nil {
		return nil, err
	}

	progress := &BackfillProgress{DryRun: opts.DryRun, StartedAt: time.Now().UTC()}
	if !opts.DryRun {
		if err := r.persistState(ctx, seller, data.RunningBackfillStatus, progress); err != nil {
			return nil, err
		}
	}

	log.Ctx(ctx).Infof("backfilling seller %s from %s to %s (dry_run=%t, concurrency=%d)",
		seller.ID, utils.FormatISODate(opts.BeginDate), utils.FormatISODate(opts.EndDate), opts.DryRun, opts.Concurrency)

	err := r.processWindow(ctx, seller, opts, progress)
	if err == nil && !opts.DryRun {
		if _, settleErr := r.Settlements.Run(ctx, seller, false); settleErr != nil {
			err = fmt.Errorf("settling backfilled window for seller %s: %w", seller.ID, settleErr)
		}
	}

	now := time.Now().UTC()
	progress.FinishedAt = &now
	if opts.DryRun {
		return progress, err
	}

	finalStatus := data.CompletedBackfillStatus
	if err != nil {
		finalStatus = data.FailedBackfillStatus
	}
	// Recording the outcome must survive the cancellation that may have
	// caused it.
	if persistErr := r.persistState(context.WithoutCancel(ctx), seller, finalStatus, progress); persistErr != nil {
		log.Ctx(ctx).Errorf("recording backfill state for seller %s: %v", seller.ID, persistErr)
	}
	if err != nil {
		return progress, err
	}

	log.Ctx(ctx).Infof("backfill for seller %s finished: %s", seller.ID, progress)
	return progress, nil
}

// processWindow pages through the search window and fans pages out to a
// bounded pool of workers.
func (r *BackfillRunner) processWindow(ctx context.Context, seller *data.Seller, opts BackfillOptions, progress *BackfillProgress) error {
	payments := make(chan marketplace.Payment)
	var mu sync.Mutex
	var wg sync.WaitGroup

	handled := 0
	sinceCheckpoint := 0
	record := func(update func()) {
		mu.Lock()
		defer mu.Unlock()
		update()
		handled++
		sinceCheckpoint++
		if !opts.DryRun && sinceCheckpoint >= r.progressEvery() {
			sinceCheckpoint = 0
			if err := r.persistState(ctx, seller, data.RunningBackfillStatus, progress); err != nil {
				log.Ctx(ctx).Warnf("checkpointing backfill progress for seller %s: %v", seller.ID, err)
			}
		}
	}

	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for mpPayment := range payments {
				r.handlePayment(ctx, seller, opts, mpPayment, progress, record)
			}
		}()
	}

	var searchErr error
	for offset := 0; ; {
		result, err := r.MarketplaceClient.SearchPayments(ctx, seller, marketplace.SearchParams{
			RangeField: marketplace.SearchRangeMoneyReleaseDate,
			BeginDate:  opts.BeginDate,
			EndDate:    opts.EndDate,
			Offset:     offset,
		})
		if err != nil {
			searchErr = fmt.Errorf("searching payments for seller %s at offset %d: %w", seller.ID, offset, err)
			break
		}

		mu.Lock()
		progress.Total = result.Paging.Total
		if opts.MaxProcess > 0 && opts.MaxProcess < progress.Total {
			progress.Total = opts.MaxProcess
		}
		mu.Unlock()

		if len(result.Results) == 0 {
			break
		}
		stop := false
		for _, mpPayment := range result.Results {
			if opts.MaxProcess > 0 {
				mu.Lock()
				reached := handled >= opts.MaxProcess
				mu.Unlock()
				if reached {
					stop = true
					break
				}
			}
			payments <- mpPayment
		}

		offset += len(result.Results)
		if stop || offset >= result.Paging.Total {
			break
		}
	}

	close(payments)
	wg.Wait()
	return searchErr
}

func (r *BackfillRunner) handlePayment(ctx context.Context, seller *data.Seller, opts BackfillOptions, mpPayment marketplace.Payment, progress *BackfillProgress, record func(func())) {
	if opts.DryRun {
		_, err := r.Models.Payments.GetByMarketplaceID(ctx, r.Models.DBConnectionPool, seller.ID, mpPayment.IDString())
		record(func() {
			progress.LastPaymentID = mpPayment.IDString()
			switch {
			case err == nil:
				progress.Skipped++
			case errors.Is(err, data.ErrRecordNotFound):
				progress.Processed++
			default:
				progress.Errors++
			}
		})
		return
	}

	outcome, err := r.Processor.Process(ctx, seller, &mpPayment)
	if err != nil {
		log.Ctx(ctx).Errorf("backfilling payment %s for seller %s: %v", mpPayment.IDString(), seller.ID, err)
		record(func() {
			progress.LastPaymentID = mpPayment.IDString()
			progress.Errors++
		})
		return
	}

	if opts.ReprocessMissingFees && outcome.SkipReason == SkipReasonAlreadyProcessed &&
		outcome.Payment != nil && !outcome.Payment.CommissionAmount.Valid {
		if err = r.repairFees(ctx, outcome.Payment, &mpPayment); err != nil {
			log.Ctx(ctx).Warnf("repairing fees of payment %s for seller %s: %v", mpPayment.IDString(), seller.ID, err)
		}
	}

	record(func() {
		progress.LastPaymentID = mpPayment.IDString()
		if outcome.Verdict == VerdictSkipped {
			progress.Skipped++
		} else {
			progress.Processed++
		}
	})
}

// repairFees backfills the commission and shipping columns of a payment the
// processor handled before those columns existed, reusing the derivation
// identity without touching the ledger.
func (r *BackfillRunner) repairFees(ctx context.Context, payment *data.Payment, mpPayment *marketplace.Payment) error {
	shipping := mpPayment.SellerShippingAmount()
	commission := mpPayment.TransactionAmount.Sub(mpPayment.TransactionDetails.NetReceivedAmount).Sub(shipping)
	if commission.IsNegative() {
		commission = decimal.Zero
	}

	return r.Models.Payments.SetFeeAmounts(ctx, r.Models.DBConnectionPool, payment.ID,
		decimal.NullDecimal{Decimal: commission, Valid: true},
		decimal.NullDecimal{Decimal: shipping, Valid: true})
}

func (r *BackfillRunner) persistState(ctx context.Context, seller *data.Seller, status data.BackfillStatus, progress *BackfillProgress) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshalling backfill progress for seller %s: %w", seller.ID, err)
	}
	if err = r.Models.Sellers.UpdateBackfillState(ctx, r.Models.DBConnectionPool, seller.ID, status, raw); err != nil {
		return fmt.Errorf("persisting backfill state for seller %s: %w", seller.ID, err)
	}
	return nil
}

func (r *BackfillRunner) progressEvery() int {
	if r.ProgressEvery <= 0 {
		return defaultProgressEvery
	}
	return r.ProgressEvery
}
