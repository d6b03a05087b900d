package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

func Test_PaymentModel_Upsert(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, outerErr := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, outerErr)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, outerErr := NewModels(dbConnectionPool)
	require.NoError(t, outerErr)

	seller := CreateSellerFixture(t, ctx, dbConnectionPool, "20001", DashboardERPIntegrationMode)

	approval := time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC)
	upsert := PaymentUpsert{
		SellerID:             seller.ID,
		MarketplacePaymentID: "900100",
		OrderID:              "ord-900100",
		MarketplaceStatus:    "approved",
		GrossAmount:          decimal.RequireFromString("284.74"),
		NetAmount:            decimal.RequireFromString("222.00"),
		ApprovalDate:         &approval,
		RawPayload:           json.RawMessage(`{"id": 900100, "status": "approved"}`),
	}

	t.Run("creates a pending payment", func(t *testing.T) {
		payment, err := models.Payments.Upsert(ctx, dbConnectionPool, upsert)
		require.NoError(t, err)
		assert.Equal(t, PendingPaymentStatus, payment.Status)
		assert.Equal(t, "ord-900100", payment.OrderID)
		assert.True(t, payment.GrossAmount.Equal(decimal.RequireFromString("284.74")))
		assert.True(t, payment.NetAmount.Equal(decimal.RequireFromString("222.00")))
		assert.False(t, payment.CommissionAmount.Valid)
		assert.Nil(t, payment.ProcessedAt)
	})

	t.Run("refreshes marketplace fields without touching local state", func(t *testing.T) {
		payment, err := models.Payments.GetByMarketplaceID(ctx, dbConnectionPool, seller.ID, "900100")
		require.NoError(t, err)
		err = models.Payments.UpdateStatus(ctx, dbConnectionPool, payment.ID, QueuedPaymentStatus)
		require.NoError(t, err)

		refreshed := upsert
		refreshed.MarketplaceStatus = "refunded"
		refreshed.OrderID = ""
		refreshed.ApprovalDate = nil
		refreshed.RawPayload = nil

		updated, err := models.Payments.Upsert(ctx, dbConnectionPool, refreshed)
		require.NoError(t, err)
		assert.Equal(t, QueuedPaymentStatus, updated.Status)
		assert.Equal(t, "refunded", updated.MarketplaceStatus)
		assert.Equal(t, "ord-900100", updated.OrderID)
		require.NotNil(t, updated.ApprovalDate)
		assert.WithinDuration(t, approval, *updated.ApprovalDate, time.Second)
		assert.JSONEq(t, `{"id": 900100, "status": "approved"}`, string(updated.RawPayload))
	})

	t.Run("validates required fields", func(t *testing.T) {
		_, err := models.Payments.Upsert(ctx, dbConnectionPool, PaymentUpsert{SellerID: seller.ID})
		assert.ErrorContains(t, err, "marketplace_payment_id is required")
	})
}

func Test_PaymentModel_UpdateStatus(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, outerErr := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, outerErr)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, outerErr := NewModels(dbConnectionPool)
	require.NoError(t, outerErr)

	seller := CreateSellerFixture(t, ctx, dbConnectionPool, "20002", DashboardERPIntegrationMode)

	t.Run("walks the happy path pending to queued to synced", func(t *testing.T) {
		payment := CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "900200", PendingPaymentStatus, "100.00", "80.00")

		require.NoError(t, models.Payments.UpdateStatus(ctx, dbConnectionPool, payment.ID, QueuedPaymentStatus))
		require.NoError(t, models.Payments.UpdateStatus(ctx, dbConnectionPool, payment.ID, SyncedPaymentStatus))

		refreshed, err := models.Payments.Get(ctx, dbConnectionPool, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, SyncedPaymentStatus, refreshed.Status)
	})

	t.Run("a refund beats synced", func(t *testing.T) {
		payment := CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "900201", SyncedPaymentStatus, "100.00", "80.00")

		require.NoError(t, models.Payments.UpdateStatus(ctx, dbConnectionPool, payment.ID, RefundedPaymentStatus))

		refreshed, err := models.Payments.Get(ctx, dbConnectionPool, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, RefundedPaymentStatus, refreshed.Status)
	})

	t.Run("rejects transitions out of a terminal status", func(t *testing.T) {
		payment := CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "900202", RefundedPaymentStatus, "100.00", "80.00")

		err := models.Payments.UpdateStatus(ctx, dbConnectionPool, payment.ID, QueuedPaymentStatus)
		assert.ErrorIs(t, err, ErrMismatchNumRowsAffected)

		refreshed, err := models.Payments.Get(ctx, dbConnectionPool, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, RefundedPaymentStatus, refreshed.Status)
	})

	t.Run("rejects an unknown status", func(t *testing.T) {
		payment := CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "900203", PendingPaymentStatus, "100.00", "80.00")

		err := models.Payments.UpdateStatus(ctx, dbConnectionPool, payment.ID, PaymentStatus("banana"))
		assert.ErrorContains(t, err, "invalid payment status")
	})
}

func Test_PaymentModel_MarkProcessed(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, outerErr := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, outerErr)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, outerErr := NewModels(dbConnectionPool)
	require.NoError(t, outerErr)

	seller := CreateSellerFixture(t, ctx, dbConnectionPool, "20003", DashboardERPIntegrationMode)

	t.Run("records the derived fee figures", func(t *testing.T) {
		payment := CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "900300", PendingPaymentStatus, "284.74", "222.00")

		commission := decimal.NewNullDecimal(decimal.RequireFromString("39.86"))
		shipping := decimal.NewNullDecimal(decimal.RequireFromString("22.88"))
		err := models.Payments.MarkProcessed(ctx, dbConnectionPool, payment.ID, QueuedPaymentStatus, commission, shipping)
		require.NoError(t, err)

		refreshed, err := models.Payments.Get(ctx, dbConnectionPool, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, QueuedPaymentStatus, refreshed.Status)
		require.True(t, refreshed.CommissionAmount.Valid)
		assert.True(t, refreshed.CommissionAmount.Decimal.Equal(commission.Decimal))
		require.True(t, refreshed.ShippingAmount.Valid)
		assert.True(t, refreshed.ShippingAmount.Decimal.Equal(shipping.Decimal))
		assert.NotNil(t, refreshed.ProcessedAt)
	})

	t.Run("null figures keep what is already stored", func(t *testing.T) {
		payment := CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "900301", PendingPaymentStatus, "100.00", "80.00")

		commission := decimal.NewNullDecimal(decimal.RequireFromString("12.00"))
		require.NoError(t, models.Payments.MarkProcessed(ctx, dbConnectionPool, payment.ID, QueuedPaymentStatus, commission, decimal.NullDecimal{}))

		err := models.Payments.MarkProcessed(ctx, dbConnectionPool, payment.ID, RefundedPaymentStatus, decimal.NullDecimal{}, decimal.NullDecimal{})
		require.NoError(t, err)

		refreshed, err := models.Payments.Get(ctx, dbConnectionPool, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, RefundedPaymentStatus, refreshed.Status)
		require.True(t, refreshed.CommissionAmount.Valid)
		assert.True(t, refreshed.CommissionAmount.Decimal.Equal(commission.Decimal))
		assert.False(t, refreshed.ShippingAmount.Valid)
	})
}

func Test_PaymentModel_queries(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, outerErr := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, outerErr)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, outerErr := NewModels(dbConnectionPool)
	require.NoError(t, outerErr)

	seller := CreateSellerFixture(t, ctx, dbConnectionPool, "20004", DashboardERPIntegrationMode)
	other := CreateSellerFixture(t, ctx, dbConnectionPool, "20005", DashboardOnlyIntegrationMode)

	synced := CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "900400", SyncedPaymentStatus, "100.00", "80.00")
	pending := CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "900401", PendingPaymentStatus, "50.00", "40.00")
	CreatePaymentFixture(t, ctx, dbConnectionPool, other.ID, "900402", SyncedPaymentStatus, "70.00", "60.00")

	t.Run("GetByMarketplaceID", func(t *testing.T) {
		payment, err := models.Payments.GetByMarketplaceID(ctx, dbConnectionPool, seller.ID, "900400")
		require.NoError(t, err)
		assert.Equal(t, synced.ID, payment.ID)

		_, err = models.Payments.GetByMarketplaceID(ctx, dbConnectionPool, seller.ID, "nope")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("GetBySellerAndStatuses scopes by seller", func(t *testing.T) {
		payments, err := models.Payments.GetBySellerAndStatuses(ctx, dbConnectionPool, seller.ID, SyncedPaymentStatus, PendingPaymentStatus)
		require.NoError(t, err)
		require.Len(t, payments, 2)
		assert.Equal(t, []string{synced.ID, pending.ID}, utils.MapSlice(payments, func(p Payment) string { return p.ID }))
	})

	t.Run("GetBySellerInReleaseWindow", func(t *testing.T) {
		payments, err := models.Payments.GetBySellerInReleaseWindow(ctx, dbConnectionPool, seller.ID, time.Now().Add(-48*time.Hour), time.Now())
		require.NoError(t, err)
		assert.Len(t, payments, 2)

		payments, err = models.Payments.GetBySellerInReleaseWindow(ctx, dbConnectionPool, seller.ID, time.Now().Add(-10*time.Minute), time.Now())
		require.NoError(t, err)
		assert.Len(t, payments, 0)
	})

	t.Run("CountByStatus", func(t *testing.T) {
		counts, err := models.Payments.CountByStatus(ctx, dbConnectionPool, seller.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, counts[SyncedPaymentStatus])
		assert.EqualValues(t, 1, counts[PendingPaymentStatus])
		assert.EqualValues(t, 0, counts[RefundedPaymentStatus])
	})
}
