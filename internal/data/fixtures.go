package data

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
)

func CreateSellerFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, id string, mode IntegrationMode) *Seller {
	const query = `
		INSERT INTO sellers
			(id, marketplace_user_id, company_name, erp_financial_account_id, erp_cost_center_id, erp_contact_id,
			erp_retained_account_id, erp_revenue_category_id, erp_commission_category_id, erp_shipping_category_id,
			integration_mode, erp_start_date, onboarding_status,
			access_token, refresh_token, token_expires_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING
			created_at, updated_at
	`

	startDate := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expiresAt := time.Now().Add(4 * time.Hour)
	seller := &Seller{
		ID:                      id,
		MarketplaceUserID:       "mu-" + id,
		CompanyName:             "Seller " + id,
		ERPFinancialAccountID:   "fa-" + id,
		ERPCostCenterID:         "cc-" + id,
		ERPContactID:            "ct-" + id,
		ERPRetainedAccountID:    "ra-" + id,
		ERPRevenueCategoryID:    "cat-rev-" + id,
		ERPCommissionCategoryID: "cat-com-" + id,
		ERPShippingCategoryID:   "cat-shp-" + id,
		IntegrationMode:         mode,
		ERPStartDate:            &startDate,
		OnboardingStatus:        ActiveOnboardingStatus,
		AccessToken:             "access-" + id,
		RefreshToken:            "refresh-" + id,
		TokenExpiresAt:          &expiresAt,
	}

	err := sqlExec.QueryRowxContext(ctx, query,
		seller.ID, seller.MarketplaceUserID, seller.CompanyName,
		seller.ERPFinancialAccountID, seller.ERPCostCenterID, seller.ERPContactID,
		seller.ERPRetainedAccountID, seller.ERPRevenueCategoryID, seller.ERPCommissionCategoryID, seller.ERPShippingCategoryID,
		seller.IntegrationMode, seller.ERPStartDate, seller.OnboardingStatus,
		seller.AccessToken, seller.RefreshToken, seller.TokenExpiresAt,
	).Scan(&seller.CreatedAt, &seller.UpdatedAt)
	require.NoError(t, err)

	return seller
}

func CreatePaymentFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, sellerID, marketplacePaymentID string, status PaymentStatus, gross, net string) *Payment {
	const query = `
		INSERT INTO payments
			(seller_id, marketplace_payment_id, order_id, marketplace_status, status, gross_amount, net_amount, approval_date, money_release_date)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING
			id, created_at, updated_at
	`

	approval := time.Now().Add(-72 * time.Hour)
	release := time.Now().Add(-24 * time.Hour)
	payment := &Payment{
		SellerID:             sellerID,
		MarketplacePaymentID: marketplacePaymentID,
		OrderID:              "order-" + marketplacePaymentID,
		MarketplaceStatus:    "approved",
		Status:               status,
		GrossAmount:          decimal.RequireFromString(gross),
		NetAmount:            decimal.RequireFromString(net),
		ApprovalDate:         &approval,
		MoneyReleaseDate:     &release,
	}

	err := sqlExec.QueryRowxContext(ctx, query,
		payment.SellerID, payment.MarketplacePaymentID, payment.OrderID, payment.MarketplaceStatus,
		payment.Status, payment.GrossAmount, payment.NetAmount, payment.ApprovalDate, payment.MoneyReleaseDate,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	require.NoError(t, err)

	return payment
}

func CreateJobFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, sellerID string, kind JobKind, groupID string, priority int, status JobStatus) *Job {
	const query = `
		INSERT INTO jobs
			(seller_id, idempotency_key, kind, group_id, priority, status, endpoint, method, request_body, scheduled_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING
			id, attempts, max_attempts, created_at, updated_at
	`

	job := &Job{
		SellerID:       sellerID,
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", groupID, kind, time.Now().UnixNano()),
		Kind:           kind,
		GroupID:        groupID,
		Priority:       priority,
		Status:         status,
		Endpoint:       "/v1/financeiro/eventos-financeiros/contas-a-receber",
		Method:         "POST",
		RequestBody:    json.RawMessage(`{"valor": 1}`),
		ScheduledAt:    time.Now().Add(-time.Minute),
	}

	err := sqlExec.QueryRowxContext(ctx, query,
		job.SellerID, job.IdempotencyKey, job.Kind, job.GroupID, job.Priority,
		job.Status, job.Endpoint, job.Method, []byte(job.RequestBody), job.ScheduledAt,
	).Scan(&job.ID, &job.Attempts, &job.MaxAttempts, &job.CreatedAt, &job.UpdatedAt)
	require.NoError(t, err)

	return job
}

func CreateExpenseFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, sellerID, paymentID string, source ExpenseSource, amount string) *Expense {
	const query = `
		INSERT INTO expenses
			(seller_id, payment_id, source, expense_type, direction, amount, expense_date)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
		RETURNING
			id, status, created_at, updated_at
	`

	expense := &Expense{
		SellerID:    sellerID,
		PaymentID:   paymentID,
		Source:      source,
		ExpenseType: "tarifa-envio",
		Direction:   ExpenseDirectionExpense,
		Amount:      decimal.RequireFromString(amount),
		ExpenseDate: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
	}

	err := sqlExec.QueryRowxContext(ctx, query,
		expense.SellerID, expense.PaymentID, expense.Source, expense.ExpenseType,
		expense.Direction, expense.Amount, expense.ExpenseDate,
	).Scan(&expense.ID, &expense.Status, &expense.CreatedAt, &expense.UpdatedAt)
	require.NoError(t, err)

	return expense
}

func CreateWebhookEventFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, topic, resource, marketplaceUserID string) *WebhookEvent {
	const query = `
		INSERT INTO webhook_events
			(topic, resource, marketplace_user_id, payload)
		VALUES
			($1, $2, $3, $4)
		RETURNING
			id, received_at
	`

	event := &WebhookEvent{
		Topic:             topic,
		Resource:          resource,
		MarketplaceUserID: marketplaceUserID,
		Payload:           json.RawMessage(fmt.Sprintf(`{"topic": %q, "resource": %q}`, topic, resource)),
	}

	err := sqlExec.QueryRowxContext(ctx, query,
		event.Topic, event.Resource, event.MarketplaceUserID, []byte(event.Payload),
	).Scan(&event.ID, &event.ReceivedAt)
	require.NoError(t, err)

	return event
}

func DeleteAllJobsFixtures(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) {
	_, err := sqlExec.ExecContext(ctx, "DELETE FROM jobs")
	require.NoError(t, err)
}

func DeleteAllWebhookEventsFixtures(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) {
	_, err := sqlExec.ExecContext(ctx, "DELETE FROM webhook_events")
	require.NoError(t, err)
}

func DeleteAllPaymentsFixtures(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) {
	_, err := sqlExec.ExecContext(ctx, "DELETE FROM jobs")
	require.NoError(t, err)
	_, err = sqlExec.ExecContext(ctx, "DELETE FROM payments")
	require.NoError(t, err)
}

func DeleteAllExpensesFixtures(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) {
	_, err := sqlExec.ExecContext(ctx, "DELETE FROM expense_batch_items")
	require.NoError(t, err)
	_, err = sqlExec.ExecContext(ctx, "DELETE FROM expense_batches")
	require.NoError(t, err)
	_, err = sqlExec.ExecContext(ctx, "DELETE FROM expenses")
	require.NoError(t, err)
}

func DeleteAllSellersFixtures(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) {
	DeleteAllPaymentsFixtures(t, ctx, sqlExec)
	DeleteAllExpensesFixtures(t, ctx, sqlExec)
	_, err := sqlExec.ExecContext(ctx, "DELETE FROM sync_state")
	require.NoError(t, err)
	_, err = sqlExec.ExecContext(ctx, "DELETE FROM sellers")
	require.NoError(t, err)
}
