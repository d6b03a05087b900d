package httphandler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
)

func Test_WebhookHandler_PostMarketplaceEvent(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { dbConnectionPool.Close() })

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	handler := WebhookHandler{Models: models}

	t.Run("🎉 persists the notification and acks with 200", func(t *testing.T) {
		body := `{
			"_id": "b5f7e1d0",
			"topic": "payment",
			"resource": "/v1/payments/111222333",
			"user_id": 74952319,
			"attempts": 1,
			"sent": "2025-08-20T13:58:23.347Z"
		}`

		req := httptest.NewRequest(http.MethodPost, "/webhooks/ml", strings.NewReader(body))
		rr := httptest.NewRecorder()
		handler.PostMarketplaceEvent(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"message": "ok"}`, rr.Body.String())

		events, getErr := models.WebhookEvents.GetUnprocessed(ctx, dbConnectionPool, 10)
		require.NoError(t, getErr)
		require.Len(t, events, 1)
		assert.Equal(t, "payment", events[0].Topic)
		assert.Equal(t, "/v1/payments/111222333", events[0].Resource)
		assert.Equal(t, "74952319", events[0].MarketplaceUserID)
		assert.JSONEq(t, body, string(events[0].Payload))
		assert.Nil(t, events[0].ProcessedAt)
	})

	t.Run("🎉 accepts a notification without user_id", func(t *testing.T) {
		defer data.DeleteAllWebhookEventsFixtures(t, ctx, dbConnectionPool)

		body := `{"topic": "merchant_order", "resource": "/merchant_orders/987"}`
		req := httptest.NewRequest(http.MethodPost, "/webhooks/ml", strings.NewReader(body))
		rr := httptest.NewRecorder()
		handler.PostMarketplaceEvent(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("returns 400 when the body is not JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/ml", strings.NewReader("topic=payment"))
		rr := httptest.NewRecorder()
		handler.PostMarketplaceEvent(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error": "The request body is not valid JSON."}`, rr.Body.String())
	})

	t.Run("returns 400 when the topic is missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/ml", strings.NewReader(`{"resource": "/v1/payments/1"}`))
		rr := httptest.NewRecorder()
		handler.PostMarketplaceEvent(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error": "topic is required"}`, rr.Body.String())
	})
}
