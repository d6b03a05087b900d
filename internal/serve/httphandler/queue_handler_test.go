package httphandler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httpresponse"
)

func Test_QueueHandler_GetStatus(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { dbConnectionPool.Close() })

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	handler := QueueHandler{Models: models}

	t.Run("🎉 empty queue reports zero counts and no ages", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/queue/status", nil)
		rr := httptest.NewRecorder()
		handler.GetStatus(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		wantBody := `{
			"counts": {
				"pending": 0,
				"processing": 0,
				"completed": 0,
				"failed": 0,
				"dead": 0
			}
		}`
		assert.JSONEq(t, wantBody, rr.Body.String())
	})

	t.Run("🎉 reports counts and oldest job ages", func(t *testing.T) {
		seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "74952319", data.DashboardERPIntegrationMode)
		data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.RevenueJobKind, "pay:1", data.RevenueJobPriority, data.PendingJobStatus)
		data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.CommissionJobKind, "pay:1", data.ExpenseJobPriority, data.DeadJobStatus)
		data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.SettlementJobKind, "pay:2", data.SettlementJobPriority, data.CompletedJobStatus)

		req := httptest.NewRequest(http.MethodGet, "/queue/status", nil)
		rr := httptest.NewRecorder()
		handler.GetStatus(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp QueueStatusResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

		assert.Equal(t, int64(1), resp.Counts[data.PendingJobStatus])
		assert.Equal(t, int64(1), resp.Counts[data.DeadJobStatus])
		assert.Equal(t, int64(1), resp.Counts[data.CompletedJobStatus])
		assert.Equal(t, int64(0), resp.Counts[data.ProcessingJobStatus])

		require.NotNil(t, resp.OldestPendingCreatedAt)
		require.NotNil(t, resp.OldestPendingAgeSeconds)
		assert.GreaterOrEqual(t, *resp.OldestPendingAgeSeconds, int64(0))
		require.NotNil(t, resp.OldestDeadAt)
	})
}

func Test_QueueHandler_GetDeadJobs(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { dbConnectionPool.Close() })

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	handler := QueueHandler{Models: models}

	t.Run("🎉 empty dead-letter queue renders an empty page", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/queue/dead", nil)
		rr := httptest.NewRecorder()
		handler.GetDeadJobs(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"pagination": {"pages": 0, "total": 0}, "data": []}`, rr.Body.String())
	})

	t.Run("🎉 pages through dead jobs only", func(t *testing.T) {
		seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "74952319", data.DashboardERPIntegrationMode)
		data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.RevenueJobKind, "pay:10", data.RevenueJobPriority, data.PendingJobStatus)
		for _, groupID := range []string{"pay:11", "pay:12", "pay:13"} {
			data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.CommissionJobKind, groupID, data.ExpenseJobPriority, data.DeadJobStatus)
		}

		req := httptest.NewRequest(http.MethodGet, "/queue/dead?page=1&page_limit=2", nil)
		rr := httptest.NewRecorder()
		handler.GetDeadJobs(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp httpresponse.PaginatedResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.Pagination.Total)
		assert.Equal(t, 2, resp.Pagination.Pages)
		assert.Contains(t, resp.Pagination.Next, "page=2")

		var jobs []data.Job
		require.NoError(t, json.Unmarshal(resp.Data, &jobs))
		require.Len(t, jobs, 2)
		for _, job := range jobs {
			assert.Equal(t, data.DeadJobStatus, job.Status)
		}
	})

	t.Run("returns 400 on a malformed page number", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/queue/dead?page=two", nil)
		rr := httptest.NewRecorder()
		handler.GetDeadJobs(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_QueueHandler_RetryJob(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { dbConnectionPool.Close() })

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "74952319", data.DashboardERPIntegrationMode)

	r := chi.NewRouter()
	r.Post("/queue/retry/{id}", QueueHandler{Models: models}.RetryJob)

	t.Run("🎉 requeues a dead job", func(t *testing.T) {
		deadJob := data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.RevenueJobKind, "pay:20", data.RevenueJobPriority, data.DeadJobStatus)

		req := httptest.NewRequest(http.MethodPost, "/queue/retry/"+deadJob.ID, nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var job data.Job
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
		assert.Equal(t, deadJob.ID, job.ID)
		assert.Equal(t, data.PendingJobStatus, job.Status)
		assert.Equal(t, 0, job.Attempts)
	})

	t.Run("returns 404 for a job that is not dead", func(t *testing.T) {
		pendingJob := data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.RevenueJobKind, "pay:21", data.RevenueJobPriority, data.PendingJobStatus)

		req := httptest.NewRequest(http.MethodPost, "/queue/retry/"+pendingJob.ID, nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error": "No dead job with that id."}`, rr.Body.String())
	})

	t.Run("returns 404 for an unknown job id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/queue/retry/no-such-job", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_QueueHandler_RetryAllDead(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { dbConnectionPool.Close() })

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	handler := QueueHandler{Models: models}

	t.Run("🎉 requeues every dead job and nothing else", func(t *testing.T) {
		seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "74952319", data.DashboardERPIntegrationMode)
		data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.RevenueJobKind, "pay:30", data.RevenueJobPriority, data.DeadJobStatus)
		data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.CommissionJobKind, "pay:31", data.ExpenseJobPriority, data.DeadJobStatus)
		data.CreateJobFixture(t, ctx, dbConnectionPool, seller.ID, data.ShippingJobKind, "pay:32", data.ExpenseJobPriority, data.FailedJobStatus)

		req := httptest.NewRequest(http.MethodPost, "/queue/retry-all-dead", nil)
		rr := httptest.NewRecorder()
		handler.RetryAllDead(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"requeued": 2}`, rr.Body.String())

		counts, countErr := models.Jobs.CountByStatus(ctx, dbConnectionPool)
		require.NoError(t, countErr)
		assert.Equal(t, int64(0), counts[data.DeadJobStatus])
		assert.Equal(t, int64(2), counts[data.PendingJobStatus])
		assert.Equal(t, int64(1), counts[data.FailedJobStatus])
	})

	t.Run("🎉 no dead jobs is a no-op", func(t *testing.T) {
		data.DeleteAllJobsFixtures(t, ctx, dbConnectionPool)

		req := httptest.NewRequest(http.MethodPost, "/queue/retry-all-dead", nil)
		rr := httptest.NewRecorder()
		handler.RetryAllDead(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"requeued": 0}`, rr.Body.String())
	})
}
