package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
)

type Payment struct {
	ID                   string              `json:"id" db:"id"`
	SellerID             string              `json:"seller_id" db:"seller_id"`
	MarketplacePaymentID string              `json:"marketplace_payment_id" db:"marketplace_payment_id"`
	OrderID              string              `json:"order_id,omitempty" db:"order_id"`
	MarketplaceStatus    string              `json:"marketplace_status" db:"marketplace_status"`
	Status               PaymentStatus       `json:"status" db:"status"`
	GrossAmount          decimal.Decimal     `json:"gross_amount" db:"gross_amount"`
	NetAmount            decimal.Decimal     `json:"net_amount" db:"net_amount"`
	CommissionAmount     decimal.NullDecimal `json:"commission_amount,omitempty" db:"commission_amount"`
	ShippingAmount       decimal.NullDecimal `json:"shipping_amount,omitempty" db:"shipping_amount"`
	ApprovalDate         *time.Time          `json:"approval_date,omitempty" db:"approval_date"`
	MoneyReleaseDate     *time.Time          `json:"money_release_date,omitempty" db:"money_release_date"`
	RawPayload           json.RawMessage     `json:"raw_payload,omitempty" db:"raw_payload"`
	ProcessedAt          *time.Time          `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt            time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at" db:"updated_at"`
}

type PaymentModel struct {
	dbConnectionPool db.DBConnectionPool
}

type PaymentUpsert struct {
	SellerID             string          `db:"seller_id"`
	MarketplacePaymentID string          `db:"marketplace_payment_id"`
	OrderID              string          `db:"order_id"`
	MarketplaceStatus    string          `db:"marketplace_status"`
	GrossAmount          decimal.Decimal `db:"gross_amount"`
	NetAmount            decimal.Decimal `db:"net_amount"`
	ApprovalDate         *time.Time      `db:"approval_date"`
	MoneyReleaseDate     *time.Time      `db:"money_release_date"`
	RawPayload           json.RawMessage `db:"raw_payload"`
}

func (p *PaymentUpsert) Validate() error {
	if strings.TrimSpace(p.SellerID) == "" {
		return fmt.Errorf("seller_id is required")
	}
	if strings.TrimSpace(p.MarketplacePaymentID) == "" {
		return fmt.Errorf("marketplace_payment_id is required")
	}
	if strings.TrimSpace(p.MarketplaceStatus) == "" {
		return fmt.Errorf("marketplace_status is required")
	}
	return nil
}

const paymentColumns = `
		p.id,
		p.seller_id,
		p.marketplace_payment_id,
		COALESCE(p.order_id, '') AS order_id,
		p.marketplace_status,
		p.status,
		p.gross_amount,
		p.net_amount,
		p.commission_amount,
		p.shipping_amount,
		p.approval_date,
		p.money_release_date,
		p.raw_payload,
		p.processed_at,
		p.created_at,
		p.updated_at
	`

// Upsert refreshes the marketplace view of a payment. The local processing
// status is owned by the processor and is never touched here.
func (m *PaymentModel) Upsert(ctx context.Context, sqlExec db.SQLExecuter, upsert PaymentUpsert) (*Payment, error) {
	if err := upsert.Validate(); err != nil {
		return nil, fmt.Errorf("validating payment upsert: %w", err)
	}

	query := `
		INSERT INTO payments
			(seller_id, marketplace_payment_id, order_id, marketplace_status, gross_amount, net_amount, approval_date, money_release_date, raw_payload)
		VALUES
			($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (seller_id, marketplace_payment_id) DO UPDATE SET
			order_id = COALESCE(EXCLUDED.order_id, payments.order_id),
			marketplace_status = EXCLUDED.marketplace_status,
			gross_amount = EXCLUDED.gross_amount,
			net_amount = EXCLUDED.net_amount,
			approval_date = COALESCE(EXCLUDED.approval_date, payments.approval_date),
			money_release_date = COALESCE(EXCLUDED.money_release_date, payments.money_release_date),
			raw_payload = COALESCE(EXCLUDED.raw_payload, payments.raw_payload)
		RETURNING ` + strings.ReplaceAll(paymentColumns, "p.", "")

	var payment Payment
	err := sqlExec.GetContext(ctx, &payment, query,
		upsert.SellerID,
		upsert.MarketplacePaymentID,
		upsert.OrderID,
		upsert.MarketplaceStatus,
		upsert.GrossAmount,
		upsert.NetAmount,
		upsert.ApprovalDate,
		upsert.MoneyReleaseDate,
		[]byte(upsert.RawPayload),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting payment %s for seller %s: %w", upsert.MarketplacePaymentID, upsert.SellerID, err)
	}

	return &payment, nil
}

func (m *PaymentModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p WHERE p.id = $1`

	var payment Payment
	err := sqlExec.GetContext(ctx, &payment, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting payment %s: %w", id, err)
	}

	return &payment, nil
}

func (m *PaymentModel) GetByMarketplaceID(ctx context.Context, sqlExec db.SQLExecuter, sellerID, marketplacePaymentID string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p WHERE p.seller_id = $1 AND p.marketplace_payment_id = $2`

	var payment Payment
	err := sqlExec.GetContext(ctx, &payment, query, sellerID, marketplacePaymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting payment %s for seller %s: %w", marketplacePaymentID, sellerID, err)
	}

	return &payment, nil
}

// UpdateStatus transitions the payment to the target status, enforcing the
// state machine through the WHERE clause.
func (m *PaymentModel) UpdateStatus(ctx context.Context, sqlExec db.SQLExecuter, paymentID string, targetStatus PaymentStatus) error {
	if err := targetStatus.Validate(); err != nil {
		return fmt.Errorf("validating target status: %w", err)
	}

	sourceStatuses := targetStatus.SourceStatuses()
	if len(sourceStatuses) == 0 {
		return fmt.Errorf("no statuses can transition to %s", targetStatus)
	}

	query := `
		UPDATE payments
		SET status = $1
		WHERE id = $2 AND status = ANY($3)`

	result, err := sqlExec.ExecContext(ctx, query, targetStatus, paymentID, pq.Array(paymentStatusesToStrings(sourceStatuses)))
	if err != nil {
		return fmt.Errorf("updating payment %s status to %s: %w", paymentID, targetStatus, err)
	}
	numRowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting number of rows affected: %w", err)
	}
	if numRowsAffected != 1 {
		return fmt.Errorf("transitioning payment %s to %s: %w", paymentID, targetStatus, ErrMismatchNumRowsAffected)
	}

	return nil
}

func paymentStatusesToStrings(statuses []PaymentStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

// MarkProcessed records the processor verdict for a payment: the resulting
// status plus the derived commission and shipping figures, when present.
func (m *PaymentModel) MarkProcessed(ctx context.Context, sqlExec db.SQLExecuter, paymentID string, targetStatus PaymentStatus, commission, shipping decimal.NullDecimal) error {
	if err := targetStatus.Validate(); err != nil {
		return fmt.Errorf("validating target status: %w", err)
	}

	sourceStatuses := targetStatus.SourceStatuses()
	query := `
		UPDATE payments
		SET
			status = $1,
			commission_amount = COALESCE($2, commission_amount),
			shipping_amount = COALESCE($3, shipping_amount),
			processed_at = NOW()
		WHERE id = $4 AND status = ANY($5)`

	result, err := sqlExec.ExecContext(ctx, query, targetStatus, commission, shipping, paymentID, pq.Array(paymentStatusesToStrings(sourceStatuses)))
	if err != nil {
		return fmt.Errorf("marking payment %s processed as %s: %w", paymentID, targetStatus, err)
	}
	numRowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting number of rows affected: %w", err)
	}
	if numRowsAffected != 1 {
		return fmt.Errorf("marking payment %s processed as %s: %w", paymentID, targetStatus, ErrMismatchNumRowsAffected)
	}

	return nil
}

// GetBySellerAndStatuses lists a seller's payments in any of the given statuses.
func (m *PaymentModel) GetBySellerAndStatuses(ctx context.Context, sqlExec db.SQLExecuter, sellerID string, statuses ...PaymentStatus) ([]Payment, error) {
	if len(statuses) == 0 {
		return nil, fmt.Errorf("at least one status is required: %w", ErrMissingInput)
	}

	query := `SELECT ` + paymentColumns + ` FROM payments p WHERE p.seller_id = $1 AND p.status = ANY($2) ORDER BY p.created_at ASC`

	payments := []Payment{}
	err := sqlExec.SelectContext(ctx, &payments, query, sellerID, pq.Array(paymentStatusesToStrings(statuses)))
	if err != nil {
		return nil, fmt.Errorf("getting payments for seller %s: %w", sellerID, err)
	}

	return payments, nil
}

// GetBySellerInReleaseWindow lists a seller's payments whose money release
// date falls inside [from, to], the slice the coverage checker audits.
func (m *PaymentModel) GetBySellerInReleaseWindow(ctx context.Context, sqlExec db.SQLExecuter, sellerID string, from, to time.Time) ([]Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments p
		WHERE p.seller_id = $1
			AND p.money_release_date >= $2
			AND p.money_release_date <= $3
		ORDER BY p.money_release_date ASC`

	payments := []Payment{}
	err := sqlExec.SelectContext(ctx, &payments, query, sellerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("getting payments in release window for seller %s: %w", sellerID, err)
	}

	return payments, nil
}

// SetFeeAmounts fills in commission and shipping on a payment that is
// missing them, without touching the processing status. Values already
// present win: this is a repair, not an overwrite.
func (m *PaymentModel) SetFeeAmounts(ctx context.Context, sqlExec db.SQLExecuter, paymentID string, commission, shipping decimal.NullDecimal) error {
	query := `
		UPDATE payments
		SET
			commission_amount = COALESCE(commission_amount, $1),
			shipping_amount = COALESCE(shipping_amount, $2)
		WHERE id = $3`

	result, err := sqlExec.ExecContext(ctx, query, commission, shipping, paymentID)
	if err != nil {
		return fmt.Errorf("setting fee amounts on payment %s: %w", paymentID, err)
	}
	numRowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting number of rows affected: %w", err)
	}
	if numRowsAffected != 1 {
		return fmt.Errorf("setting fee amounts on payment %s: %w", paymentID, ErrRecordNotFound)
	}

	return nil
}

// CountUnsyncedByApprovalDay counts payments approved within [from, to) that
// still owe postings: pending ones the processor has not handled and queued
// ones whose job group has not drained. Terminal statuses do not count.
func (m *PaymentModel) CountUnsyncedByApprovalDay(ctx context.Context, sqlExec db.SQLExecuter, sellerID string, from, to time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM payments
		WHERE seller_id = $1
			AND approval_date >= $2 AND approval_date < $3
			AND status = ANY($4)`

	var count int64
	err := sqlExec.GetContext(ctx, &count, query, sellerID, from, to,
		pq.Array([]string{string(PendingPaymentStatus), string(QueuedPaymentStatus)}))
	if err != nil {
		return 0, fmt.Errorf("counting unsynced payments for seller %s: %w", sellerID, err)
	}
	return count, nil
}

// FilterExistingMarketplaceIDs returns the subset of marketplacePaymentIDs
// that already have a local payment row for the seller.
func (m *PaymentModel) FilterExistingMarketplaceIDs(ctx context.Context, sqlExec db.SQLExecuter, sellerID string, marketplacePaymentIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(marketplacePaymentIDs))
	if len(marketplacePaymentIDs) == 0 {
		return existing, nil
	}

	query := `SELECT marketplace_payment_id FROM payments WHERE seller_id = $1 AND marketplace_payment_id = ANY($2)`

	ids := []string{}
	err := sqlExec.SelectContext(ctx, &ids, query, sellerID, pq.Array(marketplacePaymentIDs))
	if err != nil {
		return nil, fmt.Errorf("filtering existing payments for seller %s: %w", sellerID, err)
	}

	for _, id := range ids {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// CountByStatus returns how many payments a seller has per processing status.
func (m *PaymentModel) CountByStatus(ctx context.Context, sqlExec db.SQLExecuter, sellerID string) (map[PaymentStatus]int64, error) {
	rows := []struct {
		Status PaymentStatus `db:"status"`
		Count  int64         `db:"count"`
	}{}

	err := sqlExec.SelectContext(ctx, &rows, "SELECT status, COUNT(*) AS count FROM payments WHERE seller_id = $1 GROUP BY status", sellerID)
	if err != nil {
		return nil, fmt.Errorf("counting payments by status for seller %s: %w", sellerID, err)
	}

	counts := make(map[PaymentStatus]int64, len(PaymentStatuses()))
	for _, status := range PaymentStatuses() {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}
