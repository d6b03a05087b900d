package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
)

func Test_BackfillRunner_Run(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, outerErr := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, outerErr)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, outerErr := data.NewModels(dbConnectionPool)
	require.NoError(t, outerErr)

	newRunner := func(t *testing.T) (*BackfillRunner, *marketplace.MockClient, *erp.MockClient) {
		t.Helper()

		mpMock := &marketplace.MockClient{}
		erpMock := &erp.MockClient{}
		t.Cleanup(func() {
			mpMock.AssertExpectations(t)
			erpMock.AssertExpectations(t)
		})
		processor := NewPaymentProcessor(models, mpMock)
		settlements := NewSettlementScheduler(models, erpMock, NewReleaseStatusChecker(mpMock))
		return NewBackfillRunner(models, processor, settlements, mpMock), mpMock, erpMock
	}

	begin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	window := BackfillOptions{BeginDate: begin, EndDate: end, Concurrency: 2}

	approvedAt := time.Date(2026, 1, 10, 14, 30, 0, 0, time.UTC)
	releasedAt := time.Date(2026, 1, 24, 3, 0, 0, 0, time.UTC)
	collectorID := int64(111222333)

	newSalePayment := func(id, orderID int64) marketplace.Payment {
		return marketplace.Payment{
			ID:                 id,
			Status:             marketplace.PaymentStatusApproved,
			DateApproved:       &approvedAt,
			MoneyReleaseDate:   &releasedAt,
			TransactionAmount:  decimal.RequireFromString("284.74"),
			TransactionDetails: marketplace.TransactionDetails{NetReceivedAmount: decimal.RequireFromString("235.85")},
			ChargesDetails: []marketplace.ChargeDetail{
				{Type: "shp_forward", Amount: decimal.RequireFromString("23.45"), From: "collector"},
			},
			Order:       &marketplace.EntityRef{ID: orderID},
			CollectorID: &collectorID,
		}
	}

	expectSearchPage := func(mpMock *marketplace.MockClient, seller *data.Seller, results ...marketplace.Payment) {
		mpMock.
			On("SearchPayments", ctx, seller, mock.MatchedBy(func(params marketplace.SearchParams) bool {
				return params.RangeField == marketplace.SearchRangeMoneyReleaseDate &&
					params.BeginDate.Equal(begin) && params.EndDate.Equal(end) &&
					params.Offset == 0
			})).
			Return(&marketplace.PaymentSearchResult{
				Paging:  marketplace.Paging{Total: len(results)},
				Results: results,
			}, nil).
			Once()
	}

	expectEmptySettlement := func(erpMock *erp.MockClient) {
		emptyPage := &erp.ParcelSearchResult{Itens: []erp.Parcel{}, TotalItens: 0}
		erpMock.On("SearchOpenParcels", ctx, erp.ReceivableEvent, mock.Anything).Return(emptyPage, nil).Once()
		erpMock.On("SearchOpenParcels", ctx, erp.PayableEvent, mock.Anything).Return(emptyPage, nil).Once()
	}

	t.Run("requires an erp seller", func(t *testing.T) {
		runner, _, _ := newRunner(t)

		_, err := runner.Run(ctx, nil, window)
		assert.ErrorIs(t, err, data.ErrMissingInput)

		dashboardSeller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "bf-dash-seller", data.DashboardOnlyIntegrationMode)
		_, err = runner.Run(ctx, dashboardSeller, window)
		assert.ErrorContains(t, err, "does not post to the ERP")
	})

	t.Run("rejects an incoherent window", func(t *testing.T) {
		runner, _, _ := newRunner(t)
		seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "bf-window-seller", data.DashboardERPIntegrationMode)

		_, err := runner.Run(ctx, seller, BackfillOptions{BeginDate: end, EndDate: begin})
		assert.ErrorContains(t, err, "before it begins")

		noStart := &data.Seller{ID: "bf-ghost", IntegrationMode: data.DashboardERPIntegrationMode}
		_, err = runner.Run(ctx, noStart, BackfillOptions{})
		assert.ErrorContains(t, err, "has no erp_start_date")
	})

	t.Run("🎉 dry run counts without writing", func(t *testing.T) {
		runner, mpMock, _ := newRunner(t)
		seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "bf-dry-seller", data.DashboardERPIntegrationMode)
		data.CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "600100", data.SyncedPaymentStatus, "284.74", "235.85")

		expectSearchPage(mpMock, seller,
			newSalePayment(600100, 3000600100),
			newSalePayment(600200, 3000600200),
		)

		opts := window
		opts.DryRun = true
		progress, err := runner.Run(ctx, seller, opts)
		require.NoError(t, err)

		assert.True(t, progress.DryRun)
		assert.Equal(t, 2, progress.Total)
		assert.Equal(t, 1, progress.Processed)
		assert.Equal(t, 1, progress.Skipped)
		assert.Equal(t, 0, progress.Errors)
		require.NotNil(t, progress.FinishedAt)

		// Nothing was written: the unseen payment stays unknown and the
		// seller row keeps its pre-run backfill state.
		_, err = models.Payments.GetByMarketplaceID(ctx, dbConnectionPool, seller.ID, "600200")
		assert.ErrorIs(t, err, data.ErrRecordNotFound)
		reloaded, err := models.Sellers.Get(ctx, dbConnectionPool, seller.ID)
		require.NoError(t, err)
		assert.Nil(t, reloaded.BackfillStatus)
	})

	t.Run("🎉 full run processes the window, settles and completes", func(t *testing.T) {
		runner, mpMock, erpMock := newRunner(t)
		seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "bf-full-seller", data.DashboardERPIntegrationMode)

		expectSearchPage(mpMock, seller, newSalePayment(600300, 3000600300))
		mpMock.
			On("GetOrder", ctx, seller, int64(3000600300)).
			Return(&marketplace.Order{
				ID:         3000600300,
				OrderItems: []marketplace.OrderItem{{Item: marketplace.Item{Title: "Kit 2 Panelas Antiaderentes"}}},
			}, nil).
			Once()
		expectEmptySettlement(erpMock)

		progress, err := runner.Run(ctx, seller, window)
		require.NoError(t, err)

		assert.Equal(t, 1, progress.Total)
		assert.Equal(t, 1, progress.Processed)
		assert.Equal(t, 0, progress.Skipped)
		assert.Equal(t, 0, progress.Errors)
		assert.Equal(t, "600300", progress.LastPaymentID)

		jobs, err := models.Jobs.GetByGroup(ctx, dbConnectionPool, data.PaymentGroupID(seller.ID, "600300"))
		require.NoError(t, err)
		assert.Len(t, jobs, 3)

		reloaded, err := models.Sellers.Get(ctx, dbConnectionPool, seller.ID)
		require.NoError(t, err)
		require.NotNil(t, reloaded.BackfillStatus)
		assert.Equal(t, data.CompletedBackfillStatus, *reloaded.BackfillStatus)

		var persisted BackfillProgress
		require.NoError(t, json.Unmarshal(reloaded.BackfillProgress, &persisted))
		assert.Equal(t, 1, persisted.Processed)
		assert.NotNil(t, persisted.FinishedAt)
	})

	t.Run("🎉 repairs missing fees on replayed payments when asked", func(t *testing.T) {
		runner, mpMock, erpMock := newRunner(t)
		seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "bf-repair-seller", data.DashboardERPIntegrationMode)
		stale := data.CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "600400", data.SyncedPaymentStatus, "284.74", "235.85")
		require.False(t, stale.CommissionAmount.Valid)

		expectSearchPage(mpMock, seller, newSalePayment(600400, 3000600400))
		expectEmptySettlement(erpMock)

		opts := window
		opts.ReprocessMissingFees = true
		progress, err := runner.Run(ctx, seller, opts)
		require.NoError(t, err)
		assert.Equal(t, 1, progress.Skipped)

		reloaded, err := models.Payments.GetByMarketplaceID(ctx, dbConnectionPool, seller.ID, "600400")
		require.NoError(t, err)
		assert.Equal(t, data.SyncedPaymentStatus, reloaded.Status)
		require.True(t, reloaded.CommissionAmount.Valid)
		assert.True(t, reloaded.CommissionAmount.Decimal.Equal(decimal.RequireFromString("25.44")))
		require.True(t, reloaded.ShippingAmount.Valid)
		assert.True(t, reloaded.ShippingAmount.Decimal.Equal(decimal.RequireFromString("23.45")))
	})

	t.Run("search failures mark the backfill failed", func(t *testing.T) {
		runner, mpMock, _ := newRunner(t)
		seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "bf-fail-seller", data.DashboardERPIntegrationMode)

		mpMock.
			On("SearchPayments", ctx, seller, mock.Anything).
			Return(nil, errors.New("marketplace down")).
			Once()

		_, err := runner.Run(ctx, seller, window)
		assert.ErrorContains(t, err, "searching payments for seller bf-fail-seller")

		reloaded, err := models.Sellers.Get(ctx, dbConnectionPool, seller.ID)
		require.NoError(t, err)
		require.NotNil(t, reloaded.BackfillStatus)
		assert.Equal(t, data.FailedBackfillStatus, *reloaded.BackfillStatus)
	})
}
