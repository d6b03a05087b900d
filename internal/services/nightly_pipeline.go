package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// DefaultSyncWindowDays is the sliding window the nightly run re-reads. Three
// days absorbs late refunds and back-dated status changes from the
// marketplace without re-reading the whole history.
const DefaultSyncWindowDays = 3

// Pipeline step names, in run order.
const (
	StepSync          = "sync"
	StepFeeValidation = "fee_validation"
	StepGapIngestion  = "gap_ingestion"
	StepSettlement    = "settlement"
	StepExpenseExport = "expense_export"
	StepCoverage      = "coverage"
	StepClosing       = "closing"
)

// StepResult is the outcome of one pipeline step for one seller.
type StepResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// SellerPipelineReport collects the step outcomes of one seller's run.
type SellerPipelineReport struct {
	SellerID string       `json:"seller_id"`
	Steps    []StepResult `json:"steps"`
}

func (r *SellerPipelineReport) ok() bool {
	for _, step := range r.Steps {
		if !step.OK {
			return false
		}
	}
	return true
}

// PipelineReport is the outcome of one nightly run over all active sellers.
type PipelineReport struct {
	WindowFrom string                 `json:"window_from"`
	WindowTo   string                 `json:"window_to"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Sellers    []SellerPipelineReport `json:"sellers"`
}

// OK is the AND of every step of every seller.
func (r *PipelineReport) OK() bool {
	for i := range r.Sellers {
		if !r.Sellers[i].ok() {
			return false
		}
	}
	return true
}

// paymentsCursorState records how far the sync step has read, so operators
// can see staleness at a glance.
type paymentsCursorState struct {
	LastSyncedAt time.Time `json:"last_synced_at"`
	WindowFrom   string    `json:"window_from"`
	WindowTo     string    `json:"window_to"`
	Processed    int       `json:"processed"`
	Expensed     int       `json:"expensed"`
	Errors       int       `json:"errors"`
}

// NightlyPipeline strings the daily reconciliation steps together per active
// seller: sync, fee validation, gap ingestion, settlement, expense export,
// coverage, closing. One seller failing a step never stops the others, and
// every step is idempotent, so a crashed run is simply re-run.
type NightlyPipeline struct {
	Models            *data.Models
	MarketplaceClient marketplace.ClientInterface
	Processor         *PaymentProcessor
	Classifier        *ExpenseClassifier
	FeeValidator      *FeeValidator
	Ingester          *StatementIngester
	Settlements       *SettlementScheduler
	Exporter          *ExpenseExporter
	Coverage          *CoverageChecker
	Closing           *FinancialClosing
	Alerts            *AlertNotifier
	WindowDays        int
}

// NewNightlyPipeline wires the full step chain from the shared clients.
func NewNightlyPipeline(models *data.Models, marketplaceClient marketplace.ClientInterface, erpClient erp.ClientInterface, alerts *AlertNotifier) *NightlyPipeline {
	coverage := NewCoverageChecker(models, marketplaceClient)
	return &NightlyPipeline{
		Models:            models,
		MarketplaceClient: marketplaceClient,
		Processor:         NewPaymentProcessor(models, marketplaceClient),
		Classifier:        NewExpenseClassifier(models),
		FeeValidator:      NewFeeValidator(models, marketplaceClient),
		Ingester:          NewStatementIngester(models),
		Settlements:       NewSettlementScheduler(models, erpClient, NewReleaseStatusChecker(marketplaceClient)),
		Exporter:          NewExpenseExporter(models),
		Coverage:          coverage,
		Closing:           NewFinancialClosing(models, coverage),
		Alerts:            alerts,
		WindowDays:        DefaultSyncWindowDays,
	}
}

// Run executes the nightly sequence for every active seller. The returned
// report is complete even when steps failed; OK() tells whether the night is
// clean.
func (p *NightlyPipeline) Run(ctx context.Context) (*PipelineReport, error) {
	today := utils.TodayOperational()
	windowDays := p.WindowDays
	if windowDays <= 0 {
		windowDays = DefaultSyncWindowDays
	}
	from := today.AddDate(0, 0, -windowDays)
	yesterday := today.AddDate(0, 0, -1)

	report := &PipelineReport{
		WindowFrom: utils.FormatISODate(from),
		WindowTo:   utils.FormatISODate(yesterday),
		StartedAt:  time.Now().UTC(),
	}

	sellers, err := p.Models.Sellers.GetAllActive(ctx, p.Models.DBConnectionPool)
	if err != nil {
		return nil, fmt.Errorf("loading active sellers: %w", err)
	}

	log.Ctx(ctx).Infof("nightly run starting for %d sellers, window %s..%s", len(sellers), report.WindowFrom, report.WindowTo)

	for i := range sellers {
		seller := &sellers[i]
		if !seller.IntegrationMode.PostsToERP() {
			continue
		}
		sellerReport := p.runSeller(ctx, seller, from, yesterday, today)
		report.Sellers = append(report.Sellers, *sellerReport)
	}

	report.FinishedAt = time.Now().UTC()
	if report.OK() {
		log.Ctx(ctx).Infof("nightly run finished clean for %d sellers", len(report.Sellers))
	} else {
		log.Ctx(ctx).Warnf("nightly run finished with failures")
		p.Alerts.NotifyPipelineFailure(ctx, report)
	}
	return report, nil
}

// runSeller executes the step sequence for one seller. Steps keep going past
// failures: a broken fee validation must not stop settlements.
func (p *NightlyPipeline) runSeller(ctx context.Context, seller *data.Seller, from, yesterday, today time.Time) *SellerPipelineReport {
	report := &SellerPipelineReport{SellerID: seller.ID}
	step := func(name string, run func() (string, error)) {
		detail, err := run()
		if err != nil {
			log.Ctx(ctx).Errorf("nightly step %s for seller %s: %v", name, seller.ID, err)
			report.Steps = append(report.Steps, StepResult{Name: name, Detail: err.Error()})
			return
		}
		report.Steps = append(report.Steps, StepResult{Name: name, OK: true, Detail: detail})
	}

	step(StepSync, func() (string, error) {
		return p.syncSeller(ctx, seller, from, today)
	})

	// One report serves fee validation, gap ingestion and coverage.
	rows, reportErr := p.fetchStatement(ctx, seller, from, yesterday)

	step(StepFeeValidation, func() (string, error) {
		if reportErr != nil {
			return "", reportErr
		}
		summary, err := p.FeeValidator.ValidateRows(ctx, seller, from, yesterday, rows)
		if err != nil {
			return "", err
		}
		return summary.String(), nil
	})

	step(StepGapIngestion, func() (string, error) {
		if reportErr != nil {
			return "", reportErr
		}
		summary, err := p.Ingester.Ingest(ctx, seller, rows)
		if err != nil {
			return "", err
		}
		return summary.String(), nil
	})

	step(StepSettlement, func() (string, error) {
		summary, err := p.Settlements.Run(ctx, seller, false)
		if err != nil {
			return "", err
		}
		return summary.String(), nil
	})

	step(StepExpenseExport, func() (string, error) {
		batch, _, err := p.Exporter.Export(ctx, seller, from, yesterday)
		if err != nil {
			return "", err
		}
		if batch == nil {
			return "nothing to export", nil
		}
		return fmt.Sprintf("batch %s with %d rows", batch.ID, batch.RowCount), nil
	})

	var coverage *CoverageReport
	step(StepCoverage, func() (string, error) {
		if reportErr != nil {
			return "", reportErr
		}
		var err error
		coverage, err = p.Coverage.CheckRows(ctx, seller, from, yesterday, rows)
		if err != nil {
			return "", err
		}
		if !coverage.FullyCovered() {
			p.Alerts.NotifyCoverageGap(ctx, coverage)
		}
		return coverage.String(), nil
	})

	step(StepClosing, func() (string, error) {
		// A fully covered window vouches for each of its days; anything
		// less makes each day fetch its own statement.
		windowCoverage := coverage
		if windowCoverage != nil && !windowCoverage.FullyCovered() {
			windowCoverage = nil
		}

		closed, open := 0, 0
		var firstErr error
		for day := from; day.Before(today); day = day.AddDate(0, 0, 1) {
			result, err := p.Closing.Close(ctx, seller, day, windowCoverage)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if result.Closed {
				closed++
				continue
			}
			open++
			p.Alerts.NotifyClosingFailure(ctx, result)
		}
		if firstErr != nil {
			return "", firstErr
		}
		detail := fmt.Sprintf("%d days closed", closed)
		if open > 0 {
			return detail, fmt.Errorf("%d days did not close", open)
		}
		return detail, nil
	})

	return report
}

// syncSeller re-reads the approval window through the processor. Non-sale
// payments go to the expense classifier instead of the ledger.
func (p *NightlyPipeline) syncSeller(ctx context.Context, seller *data.Seller, from, to time.Time) (string, error) {
	state := paymentsCursorState{
		WindowFrom: utils.FormatISODate(from),
		WindowTo:   utils.FormatISODate(to),
	}

	for offset := 0; ; {
		result, err := p.MarketplaceClient.SearchPayments(ctx, seller, marketplace.SearchParams{
			BeginDate: from,
			EndDate:   to,
			Offset:    offset,
		})
		if err != nil {
			return "", fmt.Errorf("searching payments for seller %s at offset %d: %w", seller.ID, offset, err)
		}
		if len(result.Results) == 0 {
			break
		}

		for i := range result.Results {
			mpPayment := &result.Results[i]
			outcome, err := p.Processor.Process(ctx, seller, mpPayment)
			if err != nil {
				state.Errors++
				log.Ctx(ctx).Errorf("processing payment %s for seller %s: %v", mpPayment.IDString(), seller.ID, err)
				continue
			}
			state.Processed++

			if outcome.IsNonSale() {
				if _, _, err = p.Classifier.Classify(ctx, seller, mpPayment); err != nil {
					state.Errors++
					log.Ctx(ctx).Errorf("classifying payment %s for seller %s: %v", mpPayment.IDString(), seller.ID, err)
					continue
				}
				state.Expensed++
			}
		}

		offset += len(result.Results)
		if offset >= result.Paging.Total {
			break
		}
	}

	state.LastSyncedAt = time.Now().UTC()
	err := p.Models.SyncState.UpsertFrom(ctx, p.Models.DBConnectionPool, data.SyncKeyPaymentsCursor, seller.ID, state)
	if err != nil {
		return "", fmt.Errorf("recording sync cursor for seller %s: %w", seller.ID, err)
	}

	detail := fmt.Sprintf("%d payments, %d expensed, %d errors", state.Processed, state.Expensed, state.Errors)
	if state.Errors > 0 {
		return "", errors.New(detail)
	}
	return detail, nil
}

// fetchStatement downloads the window's release report once.
func (p *NightlyPipeline) fetchStatement(ctx context.Context, seller *data.Seller, from, to time.Time) ([]marketplace.ReleaseReportRow, error) {
	fileName, err := p.MarketplaceClient.CreateReleaseReport(ctx, seller, from, to)
	if err != nil {
		return nil, fmt.Errorf("creating release report for seller %s: %w", seller.ID, err)
	}
	rows, err := p.MarketplaceClient.DownloadReleaseReport(ctx, seller, fileName)
	if err != nil {
		return nil, fmt.Errorf("downloading release report for seller %s: %w", seller.ID, err)
	}
	return rows, nil
}
