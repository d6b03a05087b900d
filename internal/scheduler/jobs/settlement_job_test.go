package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

func matchRetainedAccount(accountID string) interface{} {
	return mock.MatchedBy(func(p erp.ParcelSearchParams) bool {
		return len(p.FinancialAccountIDs) == 1 && p.FinancialAccountIDs[0] == accountID
	})
}

func Test_SettlementJob_GetNameAndInterval(t *testing.T) {
	j := NewSettlementJob(SettlementJobOptions{})
	assert.Equal(t, "settlement_scheduler", j.GetName())
	assert.Equal(t, 5*time.Minute, j.GetInterval())
}

func Test_NewSettlementJob_DefaultHour(t *testing.T) {
	j, ok := NewSettlementJob(SettlementJobOptions{}).(*settlementJob)
	require.True(t, ok)
	assert.Equal(t, DefaultSettlementHour, j.hour)

	j, ok = NewSettlementJob(SettlementJobOptions{Hour: 14}).(*settlementJob)
	require.True(t, ok)
	assert.Equal(t, 14, j.hour)
}

func Test_SettlementJob_Execute(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, outerErr := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, outerErr)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, outerErr := data.NewModels(dbConnectionPool)
	require.NoError(t, outerErr)

	live := data.CreateSellerFixture(t, ctx, dbConnectionPool, "baixa-live", data.DashboardERPIntegrationMode)
	data.CreateSellerFixture(t, ctx, dbConnectionPool, "baixa-dash", data.DashboardOnlyIntegrationMode)

	erpMock := &erp.MockClient{}
	t.Cleanup(func() { erpMock.AssertExpectations(t) })

	// Hour zero keeps the pass due at any wall-clock time the test runs.
	job := settlementJob{
		models:  models,
		service: services.NewSettlementScheduler(models, erpMock, nil),
		hour:    0,
	}
	today := utils.FormatISODate(utils.TodayOperational())

	t.Run("does nothing before the configured hour", func(t *testing.T) {
		gated := settlementJob{models: models, service: job.service, hour: 24}
		require.NoError(t, gated.Execute(ctx))
	})

	t.Run("🎉 settles each ERP seller once per operational day", func(t *testing.T) {
		erpMock.
			On("SearchOpenParcels", ctx, erp.ReceivableEvent, matchRetainedAccount(live.ERPRetainedAccountID)).
			Return(&erp.ParcelSearchResult{}, nil).
			Once()
		erpMock.
			On("SearchOpenParcels", ctx, erp.PayableEvent, matchRetainedAccount(live.ERPRetainedAccountID)).
			Return(&erp.ParcelSearchResult{}, nil).
			Once()

		require.NoError(t, job.Execute(ctx))

		var state settlementRunState
		require.NoError(t, models.SyncState.GetInto(ctx, dbConnectionPool, data.SyncKeySettlementRun, live.ID, &state))
		assert.Equal(t, today, state.LastRunDate)
		assert.Contains(t, state.Summary, "queued")
		assert.WithinDuration(t, time.Now().UTC(), state.RanAt, 5*time.Second)

		// Dashboard-only sellers never get a marker.
		err := models.SyncState.GetInto(ctx, dbConnectionPool, data.SyncKeySettlementRun, "baixa-dash", &state)
		assert.ErrorIs(t, err, data.ErrRecordNotFound)

		// The marker keeps the second tick of the day quiet.
		require.NoError(t, job.Execute(ctx))
	})

	t.Run("retries a failed seller on the next tick without disturbing the rest", func(t *testing.T) {
		flaky := data.CreateSellerFixture(t, ctx, dbConnectionPool, "baixa-flaky", data.DashboardERPIntegrationMode)

		erpMock.
			On("SearchOpenParcels", ctx, erp.ReceivableEvent, matchRetainedAccount(flaky.ERPRetainedAccountID)).
			Return(nil, errors.New("erp search exploded")).
			Once()

		err := job.Execute(ctx)
		require.ErrorContains(t, err, "settlement pass failed for 1 sellers")

		// No marker is written for the failed seller, so the next tick
		// picks it up again, and only it.
		var state settlementRunState
		err = models.SyncState.GetInto(ctx, dbConnectionPool, data.SyncKeySettlementRun, flaky.ID, &state)
		assert.ErrorIs(t, err, data.ErrRecordNotFound)

		erpMock.
			On("SearchOpenParcels", ctx, erp.ReceivableEvent, matchRetainedAccount(flaky.ERPRetainedAccountID)).
			Return(&erp.ParcelSearchResult{}, nil).
			Once()
		erpMock.
			On("SearchOpenParcels", ctx, erp.PayableEvent, matchRetainedAccount(flaky.ERPRetainedAccountID)).
			Return(&erp.ParcelSearchResult{}, nil).
			Once()

		require.NoError(t, job.Execute(ctx))
		require.NoError(t, models.SyncState.GetInto(ctx, dbConnectionPool, data.SyncKeySettlementRun, flaky.ID, &state))
		assert.Equal(t, today, state.LastRunDate)
	})
}
