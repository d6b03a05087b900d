package httphandler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
)

func Test_ClosingHandler(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { dbConnectionPool.Close() })

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()

	mpMock := &marketplace.MockClient{}
	t.Cleanup(func() { mpMock.AssertExpectations(t) })

	handler := ClosingHandler{
		Models:  models,
		Closing: services.NewFinancialClosing(models, services.NewCoverageChecker(models, mpMock)),
	}
	r := chi.NewRouter()
	r.Post("/closing/{seller}", handler.RunClosing)
	r.Get("/closing/{seller}", handler.GetClosingStatus)

	seller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "74952319", data.DashboardERPIntegrationMode)

	// An expense dated 2026-02-10 that never reached the ERP keeps that day open.
	data.CreateExpenseFixture(t, ctx, dbConnectionPool, seller.ID, "PAY-1", data.BankStatementExpenseSource, "42.00")

	t.Run("🎉 closes a day with balanced books", func(t *testing.T) {
		mpMock.On("CreateReleaseReport", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("report-clean.csv", nil).Once()
		mpMock.On("DownloadReleaseReport", mock.Anything, mock.Anything, "report-clean.csv").
			Return([]marketplace.ReleaseReportRow{}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/closing/74952319?day=2026-02-12", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		wantBody := `{
			"seller_id": "74952319",
			"day": "2026-02-12",
			"closed": true,
			"unsynced_payments": 0,
			"unimported_expenses": 0,
			"dead_jobs": 0,
			"coverage_percent": "100",
			"uncovered": 0,
			"reasons": []
		}`
		assert.JSONEq(t, wantBody, rr.Body.String())
	})

	t.Run("🎉 re-running a closed day skips the evaluation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/closing/74952319?day=2026-02-12", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		wantBody := `{
			"seller_id": "74952319",
			"day": "2026-02-12",
			"closed": true,
			"already_closed": true,
			"unsynced_payments": 0,
			"unimported_expenses": 0,
			"dead_jobs": 0,
			"coverage_percent": "100",
			"uncovered": 0,
			"reasons": []
		}`
		assert.JSONEq(t, wantBody, rr.Body.String())
	})

	t.Run("🎉 an open day reports its reasons", func(t *testing.T) {
		mpMock.On("CreateReleaseReport", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("report-open.csv", nil).Once()
		mpMock.On("DownloadReleaseReport", mock.Anything, mock.Anything, "report-open.csv").
			Return([]marketplace.ReleaseReportRow{{ReferenceID: "555001"}}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/closing/74952319?day=2026-02-10", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		wantBody := `{
			"seller_id": "74952319",
			"day": "2026-02-10",
			"closed": false,
			"unsynced_payments": 0,
			"unimported_expenses": 1,
			"dead_jobs": 0,
			"coverage_percent": "0",
			"uncovered": 1,
			"reasons": ["1 expenses not imported", "1 statement lines uncovered"]
		}`
		assert.JSONEq(t, wantBody, rr.Body.String())
	})

	t.Run("🎉 reads the stored attestation without re-evaluating", func(t *testing.T) {
		for day, wantClosed := range map[string]bool{
			"2026-02-12": true,
			"2026-02-10": false,
			"2026-03-05": false,
		} {
			req := httptest.NewRequest(http.MethodGet, "/closing/74952319?day="+day, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code, day)
			if wantClosed {
				assert.JSONEq(t, `{"seller_id": "74952319", "day": "`+day+`", "closed": true}`, rr.Body.String())
			} else {
				assert.JSONEq(t, `{"seller_id": "74952319", "day": "`+day+`", "closed": false}`, rr.Body.String())
			}
		}
	})

	t.Run("returns a 400 for a malformed day", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/closing/74952319?day=12%2F02%2F2026", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		wantBody := `{
			"error": "The request was invalid in some way.",
			"extras": {
				"day": "invalid date format. valid format is 'YYYY-MM-DD'"
			}
		}`
		assert.JSONEq(t, wantBody, rr.Body.String())
	})

	t.Run("returns a 404 for an unknown seller", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/closing/99999999", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error": "Seller not found."}`, rr.Body.String())
	})
}
