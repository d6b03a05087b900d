package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/message"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
)

func matchDeadJobsAlert(count string) interface{} {
	return mock.MatchedBy(func(m message.Message) bool {
		return m.ToEmail == "ops@sellerledger.io" &&
			m.Title == "[reconciler] "+count+" dead jobs" &&
			strings.Contains(m.Body, "Oldest has been waiting since")
	})
}

func Test_StaleJobsResetJob_GetNameAndInterval(t *testing.T) {
	j := NewStaleJobsResetJob(StaleJobsResetJobOptions{})
	assert.Equal(t, "stale_jobs_reset", j.GetName())
	assert.Equal(t, time.Minute, j.GetInterval())
}

func Test_StaleJobsResetJob_Execute(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, outerErr := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, outerErr)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, outerErr := data.NewModels(dbConnectionPool)
	require.NoError(t, outerErr)

	seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "reset-seller", data.DashboardERPIntegrationMode)

	messengerMock := &message.MessengerClientMock{}
	t.Cleanup(func() { messengerMock.AssertExpectations(t) })

	job := &staleJobsResetJob{
		models: models,
		alerts: services.NewAlertNotifier(messengerMock, "ops@sellerledger.io"),
	}

	t.Run("🎉 releases stale claims and stays quiet while nothing is dead", func(t *testing.T) {
		stuck := data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.RevenueJobKind, seller.ID+":p1", data.RevenueJobPriority, data.ProcessingJobStatus)
		_, err := dbConnectionPool.ExecContext(ctx, "UPDATE jobs SET claimed_at = NOW() - interval '10 minutes' WHERE id = $1", stuck.ID)
		require.NoError(t, err)

		fresh := data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.RevenueJobKind, seller.ID+":p2", data.RevenueJobPriority, data.ProcessingJobStatus)
		_, err = dbConnectionPool.ExecContext(ctx, "UPDATE jobs SET claimed_at = NOW() WHERE id = $1", fresh.ID)
		require.NoError(t, err)

		require.NoError(t, job.Execute(ctx))

		released, err := models.Jobs.Get(ctx, dbConnectionPool, stuck.ID)
		require.NoError(t, err)
		assert.Equal(t, data.FailedJobStatus, released.Status)
		assert.Nil(t, released.ClaimedAt)
		require.NotNil(t, released.LastError)
		assert.Contains(t, *released.LastError, "reset after stale claim")

		held, err := models.Jobs.Get(ctx, dbConnectionPool, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, data.ProcessingJobStatus, held.Status)
	})

	t.Run("alerts when jobs go dead, once per count", func(t *testing.T) {
		data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.RevenueJobKind, seller.ID+":p3", data.RevenueJobPriority, data.DeadJobStatus)

		messengerMock.On("SendMessage", ctx, matchDeadJobsAlert("1")).Return(nil).Once()
		require.NoError(t, job.Execute(ctx))

		// An unchanged dead-letter set does not page again.
		require.NoError(t, job.Execute(ctx))
	})

	t.Run("alerts again when the dead count moves", func(t *testing.T) {
		data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.RevenueJobKind, seller.ID+":p4", data.RevenueJobPriority, data.DeadJobStatus)

		messengerMock.On("SendMessage", ctx, matchDeadJobsAlert("2")).Return(nil).Once()
		require.NoError(t, job.Execute(ctx))
	})
}
