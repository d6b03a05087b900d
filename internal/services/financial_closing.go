package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// ClosingResult is the outcome of evaluating one seller-day. Closed only
// when all four books balance: payments synced, expenses imported, no dead
// jobs in the day's groups, statement fully covered.
type ClosingResult struct {
	SellerID           string          `json:"seller_id"`
	Day                string          `json:"day"`
	Closed             bool            `json:"closed"`
	AlreadyClosed      bool            `json:"already_closed,omitempty"`
	UnsyncedPayments   int64           `json:"unsynced_payments"`
	UnimportedExpenses int64           `json:"unimported_expenses"`
	DeadJobs           int64           `json:"dead_jobs"`
	CoveragePercent    decimal.Decimal `json:"coverage_percent"`
	Uncovered          int             `json:"uncovered"`
}

// Reasons lists the failing conditions, empty when the day closed.
func (r *ClosingResult) Reasons() []string {
	reasons := []string{}
	if r.UnsyncedPayments > 0 {
		reasons = append(reasons, fmt.Sprintf("%d payments not synced", r.UnsyncedPayments))
	}
	if r.UnimportedExpenses > 0 {
		reasons = append(reasons, fmt.Sprintf("%d expenses not imported", r.UnimportedExpenses))
	}
	if r.DeadJobs > 0 {
		reasons = append(reasons, fmt.Sprintf("%d dead jobs", r.DeadJobs))
	}
	if r.Uncovered > 0 {
		reasons = append(reasons, fmt.Sprintf("%d statement lines uncovered", r.Uncovered))
	}
	return reasons
}

func (r *ClosingResult) String() string {
	if r.Closed {
		return "closed"
	}
	return "open: " + strings.Join(r.Reasons(), ", ")
}

// closingAttestation is what gets persisted per seller-day.
type closingAttestation struct {
	ClosingResult
	EvaluatedAt time.Time  `json:"evaluated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// FinancialClosing attests that a seller-day is fully reconciled. The
// attestation is durable, so re-running a closed day is a cheap skip and
// month-end reports can trust every day in between.
type FinancialClosing struct {
	Models   *data.Models
	Coverage *CoverageChecker
}

func NewFinancialClosing(models *data.Models, coverage *CoverageChecker) *FinancialClosing {
	return &FinancialClosing{Models: models, Coverage: coverage}
}

// Close evaluates the seller-day and persists the attestation. A coverage
// report for a window containing the day may be passed to avoid regenerating
// the statement; nil makes the closing fetch its own single-day report.
func (c *FinancialClosing) Close(ctx context.Context, seller *data.Seller, day time.Time, coverage *CoverageReport) (*ClosingResult, error) {
	if seller == nil {
		return nil, fmt.Errorf("seller is required: %w", data.ErrMissingInput)
	}

	dayStart := utils.TruncateToDay(day.In(utils.OperationalZone))
	dayEnd := dayStart.AddDate(0, 0, 1)
	dayKey := closingSyncKey(dayStart)

	var previous closingAttestation
	err := c.Models.SyncState.GetInto(ctx, c.Models.DBConnectionPool, dayKey, seller.ID, &previous)
	if err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		return nil, fmt.Errorf("loading closing attestation for seller %s: %w", seller.ID, err)
	}
	if err == nil && previous.Closed {
		log.Ctx(ctx).Debugf("day %s of seller %s already closed at %s", previous.Day, seller.ID, previous.ClosedAt)
		result := previous.ClosingResult
		result.AlreadyClosed = true
		return &result, nil
	}

	result := &ClosingResult{
		SellerID:        seller.ID,
		Day:             utils.FormatISODate(dayStart),
		CoveragePercent: decimal.NewFromInt(100),
	}

	result.UnsyncedPayments, err = c.Models.Payments.CountUnsyncedByApprovalDay(ctx, c.Models.DBConnectionPool, seller.ID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("evaluating payment condition for seller %s: %w", seller.ID, err)
	}
	result.UnimportedExpenses, err = c.Models.Expenses.CountUnimportedByDay(ctx, c.Models.DBConnectionPool, seller.ID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("evaluating expense condition for seller %s: %w", seller.ID, err)
	}
	result.DeadJobs, err = c.Models.Jobs.CountDeadForDay(ctx, c.Models.DBConnectionPool, seller.ID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("evaluating job condition for seller %s: %w", seller.ID, err)
	}

	if coverage == nil {
		coverage, err = c.Coverage.Check(ctx, seller, dayStart, dayStart)
		if err != nil {
			return nil, fmt.Errorf("evaluating coverage condition for seller %s: %w", seller.ID, err)
		}
	}
	result.CoveragePercent = coverage.CoveragePercent
	result.Uncovered = coverage.Uncovered

	result.Closed = result.UnsyncedPayments == 0 &&
		result.UnimportedExpenses == 0 &&
		result.DeadJobs == 0 &&
		coverage.FullyCovered()

	attestation := closingAttestation{ClosingResult: *result, EvaluatedAt: time.Now().UTC()}
	if result.Closed {
		now := time.Now().UTC()
		attestation.ClosedAt = &now
	}
	err = c.Models.SyncState.UpsertFrom(ctx, c.Models.DBConnectionPool, dayKey, seller.ID, attestation)
	if err != nil {
		return nil, fmt.Errorf("persisting closing attestation for seller %s: %w", seller.ID, err)
	}

	if result.Closed {
		log.Ctx(ctx).Infof("closed day %s for seller %s", result.Day, seller.ID)
	} else {
		log.Ctx(ctx).Warnf("day %s for seller %s did not close: %s", result.Day, seller.ID, result)
	}
	return result, nil
}

// IsClosed reports whether the seller-day already has a positive attestation.
func (c *FinancialClosing) IsClosed(ctx context.Context, seller *data.Seller, day time.Time) (bool, error) {
	dayStart := utils.TruncateToDay(day.In(utils.OperationalZone))

	var attestation closingAttestation
	err := c.Models.SyncState.GetInto(ctx, c.Models.DBConnectionPool, closingSyncKey(dayStart), seller.ID, &attestation)
	if errors.Is(err, data.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading closing attestation for seller %s: %w", seller.ID, err)
	}
	return attestation.Closed, nil
}

// closingSyncKey scopes the attestation to one calendar day, one sync-state
// row per seller-day.
func closingSyncKey(day time.Time) string {
	return data.SyncKeyFinancialClosing + ":" + utils.FormatISODate(day)
}
