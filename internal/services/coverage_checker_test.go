package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
)

func Test_CoverageChecker_CheckRows(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, outerErr := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, outerErr)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, outerErr := data.NewModels(dbConnectionPool)
	require.NoError(t, outerErr)

	seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "cov-seller", data.DashboardERPIntegrationMode)
	checker := NewCoverageChecker(models, &marketplace.MockClient{})

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	t.Run("requires a seller", func(t *testing.T) {
		_, err := checker.CheckRows(ctx, nil, from, to, nil)
		assert.ErrorIs(t, err, data.ErrMissingInput)
	})

	t.Run("🎉 empty statement is fully covered", func(t *testing.T) {
		report, err := checker.CheckRows(ctx, seller, from, to, []marketplace.ReleaseReportRow{
			// Aggregate lines without a reference id don't count.
			releaseRow("", "Liberacao de dinheiro", "10.00", to),
		})
		require.NoError(t, err)

		assert.Equal(t, 0, report.TotalLines)
		assert.True(t, report.FullyCovered())
		assert.True(t, report.CoveragePercent.Equal(decimal.NewFromInt(100)))
	})

	t.Run("🎉 buckets every line by its covering lane", func(t *testing.T) {
		data.CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "810100", data.SyncedPaymentStatus, "300.00", "240.00")
		data.CreateExpenseFixture(t, ctx, dbConnectionPool, seller.ID, "810200", data.MarketplaceAPIExpenseSource, "12.50")
		data.CreateExpenseFixture(t, ctx, dbConnectionPool, seller.ID, "810300:estorno", data.BankStatementExpenseSource, "40.00")

		report, err := checker.CheckRows(ctx, seller, from, to, []marketplace.ReleaseReportRow{
			releaseRow("810100", "Liberacao de dinheiro", "200.00", from),
			releaseRow("810100", "Liberacao de dinheiro", "40.00", to),
			releaseRow("810200", "Tarifa de envio", "-12.50", to),
			releaseRow("810300", "Estorno", "-40.00", to),
			releaseRow("810400", "Debito por disputa", "-55.00", to),
		})
		require.NoError(t, err)

		assert.Equal(t, 5, report.TotalLines)
		assert.Equal(t, 2, report.CoveredByPaymentsAPI)
		assert.Equal(t, 1, report.CoveredByExpenses)
		assert.Equal(t, 1, report.CoveredByLegacyNonOrder)
		assert.Equal(t, 1, report.Uncovered)
		assert.False(t, report.FullyCovered())
		assert.True(t, report.CoveragePercent.Equal(decimal.NewFromInt(80)), "got %s", report.CoveragePercent)
		assert.Equal(t, []string{"810400"}, report.UncoveredSample)
	})

	t.Run("🎉 a payment outranks an expense for the same reference", func(t *testing.T) {
		data.CreatePaymentFixture(t, ctx, dbConnectionPool, seller.ID, "810500", data.SyncedPaymentStatus, "100.00", "85.00")
		data.CreateExpenseFixture(t, ctx, dbConnectionPool, seller.ID, "810500", data.MarketplaceAPIExpenseSource, "15.00")

		report, err := checker.CheckRows(ctx, seller, from, to, []marketplace.ReleaseReportRow{
			releaseRow("810500", "Liberacao de dinheiro", "85.00", to),
		})
		require.NoError(t, err)

		assert.Equal(t, 1, report.CoveredByPaymentsAPI)
		assert.Equal(t, 0, report.CoveredByExpenses)
		assert.True(t, report.FullyCovered())
	})

	t.Run("uncovered sample is deduplicated and capped", func(t *testing.T) {
		capped := NewCoverageChecker(models, &marketplace.MockClient{})
		capped.SampleSize = 2

		report, err := capped.CheckRows(ctx, seller, from, to, []marketplace.ReleaseReportRow{
			releaseRow("820100", "Debito por disputa", "-1.00", to),
			releaseRow("820100", "Debito por disputa", "-2.00", to),
			releaseRow("820200", "Debito por disputa", "-3.00", to),
			releaseRow("820300", "Debito por disputa", "-4.00", to),
		})
		require.NoError(t, err)

		assert.Equal(t, 4, report.Uncovered)
		assert.Equal(t, []string{"820100", "820200"}, report.UncoveredSample)
		assert.True(t, report.CoveragePercent.IsZero())
	})
}

func Test_CoverageChecker_Check(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, outerErr := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, outerErr)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, outerErr := data.NewModels(dbConnectionPool)
	require.NoError(t, outerErr)

	seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "cov-run-seller", data.DashboardERPIntegrationMode)

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	t.Run("🎉 downloads the statement and buckets it", func(t *testing.T) {
		mpMock := &marketplace.MockClient{}
		t.Cleanup(func() { mpMock.AssertExpectations(t) })

		mpMock.
			On("CreateReleaseReport", ctx, seller, from, to).
			Return("statement.csv", nil).
			Once()
		mpMock.
			On("DownloadReleaseReport", ctx, seller, "statement.csv").
			Return([]marketplace.ReleaseReportRow{
				releaseRow("830100", "Liberacao de dinheiro", "60.00", to),
			}, nil).
			Once()

		checker := NewCoverageChecker(models, mpMock)
		report, err := checker.Check(ctx, seller, from, to)
		require.NoError(t, err)

		assert.Equal(t, 1, report.TotalLines)
		assert.Equal(t, 1, report.Uncovered)
	})
}
