package httphandler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/go-chi/chi/v5"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

func Test_SettlementHandler_RunSettlements(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { dbConnectionPool.Close() })

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	erpSeller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "74952319", data.DashboardERPIntegrationMode)
	dashSeller := data.CreateSellerFixture(t, ctx, dbConnectionPool, "74952320", data.DashboardOnlyIntegrationMode)

	emptyPage := &erp.ParcelSearchResult{Itens: []erp.Parcel{}, TotalItens: 0}

	newRouter := func(t *testing.T) (*chi.Mux, *erp.MockClient, *marketplace.MockClient) {
		erpMock := &erp.MockClient{}
		mpMock := &marketplace.MockClient{}
		t.Cleanup(func() {
			erpMock.AssertExpectations(t)
			mpMock.AssertExpectations(t)
		})

		scheduler := services.NewSettlementScheduler(models, erpMock, services.NewReleaseStatusChecker(mpMock))
		handler := SettlementHandler{Models: models, Settlements: scheduler}

		r := chi.NewRouter()
		r.Post("/baixas/processar/{seller}", handler.RunSettlements)
		return r, erpMock, mpMock
	}

	t.Run("🎉 dry run over an empty account renders the summary", func(t *testing.T) {
		r, erpMock, _ := newRouter(t)
		erpMock.On("SearchOpenParcels", mock.Anything, erp.ReceivableEvent, mock.Anything).Return(emptyPage, nil).Once()
		erpMock.On("SearchOpenParcels", mock.Anything, erp.PayableEvent, mock.Anything).Return(emptyPage, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/baixas/processar/"+erpSeller.ID+"?dry_run=true", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		wantBody := `{
			"seller_id": "74952319",
			"dry_run": true,
			"queued_receber": 0,
			"queued_pagar": 0,
			"skipped_receber": [],
			"skipped_pagar": [],
			"errors": 0
		}`
		assert.JSONEq(t, wantBody, rr.Body.String())
	})

	t.Run("🎉 data_ate and lookback_days bound the parcel search", func(t *testing.T) {
		r, erpMock, _ := newRouter(t)

		wantTo := time.Date(2025, 6, 30, 0, 0, 0, 0, utils.OperationalZone)
		wantFrom := wantTo.AddDate(0, 0, -30)
		matchWindow := mock.MatchedBy(func(params erp.ParcelSearchParams) bool {
			return params.DueDateFrom.Equal(wantFrom) && params.DueDateTo.Equal(wantTo)
		})
		erpMock.On("SearchOpenParcels", mock.Anything, erp.ReceivableEvent, matchWindow).Return(emptyPage, nil).Once()
		erpMock.On("SearchOpenParcels", mock.Anything, erp.PayableEvent, matchWindow).Return(emptyPage, nil).Once()

		url := "/baixas/processar/" + erpSeller.ID + "?dry_run=true&data_ate=2025-06-30&lookback_days=30"
		req := httptest.NewRequest(http.MethodPost, url, nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	})

	t.Run("returns 400 on a malformed dry_run flag", func(t *testing.T) {
		r, _, _ := newRouter(t)

		req := httptest.NewRequest(http.MethodPost, "/baixas/processar/"+erpSeller.ID+"?dry_run=yep", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "invalid boolean")
	})

	t.Run("returns 400 for a dashboard-only seller", func(t *testing.T) {
		r, _, _ := newRouter(t)

		req := httptest.NewRequest(http.MethodPost, "/baixas/processar/"+dashSeller.ID, nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "does not post to the ERP")
	})

	t.Run("returns 400 when the retained-funds account is missing", func(t *testing.T) {
		r, _, _ := newRouter(t)

		startDate := time.Date(2025, 1, 1, 0, 0, 0, 0, utils.OperationalZone)
		bare, insertErr := models.Sellers.Insert(ctx, dbConnectionPool, data.SellerInsert{
			ID:                    "74952321",
			MarketplaceUserID:     "74952321",
			IntegrationMode:       data.DashboardERPIntegrationMode,
			ERPFinancialAccountID: "fa-bare",
			ERPCostCenterID:       "cc-bare",
			ERPContactID:          "ct-bare",
			ERPStartDate:          &startDate,
		})
		require.NoError(t, insertErr)

		req := httptest.NewRequest(http.MethodPost, "/baixas/processar/"+bare.ID, nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "retained-funds account")
	})

	t.Run("returns 404 for an unknown seller", func(t *testing.T) {
		r, _, _ := newRouter(t)

		req := httptest.NewRequest(http.MethodPost, "/baixas/processar/none", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
