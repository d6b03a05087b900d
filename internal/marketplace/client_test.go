package marketplace

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httpclient"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

func newClientWithMocks(t *testing.T) (*Client, *httpclient.HTTPClientMock, *MockTokenManager) {
	t.Helper()

	httpClientMock := &httpclient.HTTPClientMock{}
	tokenManagerMock := &MockTokenManager{}
	t.Cleanup(func() {
		httpClientMock.AssertExpectations(t)
		tokenManagerMock.AssertExpectations(t)
	})

	return &Client{
		BaseURL:      "http://localhost:8080",
		tokenManager: tokenManagerMock,
		httpClient:   httpClientMock,
	}, httpClientMock, tokenManagerMock
}

func testSeller(id string) *data.Seller {
	return &data.Seller{ID: id, MarketplaceUserID: "mu-" + id}
}

func jsonResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func Test_Client_SearchPayments(t *testing.T) {
	ctx := context.Background()
	seller := testSeller("s1")

	begin := time.Date(2026, 2, 1, 0, 0, 0, 0, utils.OperationalZone)
	end := time.Date(2026, 2, 3, 23, 59, 59, 0, utils.OperationalZone)

	t.Run("token manager error short-circuits", func(t *testing.T) {
		cc, _, tokenManagerMock := newClientWithMocks(t)
		tokenManagerMock.
			On("AccessToken", ctx, seller).
			Return("", errors.New("no refresh token")).
			Once()

		result, err := cc.SearchPayments(ctx, seller, SearchParams{BeginDate: begin, EndDate: end})
		assert.ErrorContains(t, err, "resolving access token: no refresh token")
		assert.Nil(t, result)
	})

	t.Run("http error is wrapped", func(t *testing.T) {
		cc, httpClientMock, tokenManagerMock := newClientWithMocks(t)
		tokenManagerMock.
			On("AccessToken", ctx, seller).
			Return("token-123", nil).
			Once()
		httpClientMock.
			On("Do", mock.Anything).
			Return(nil, errors.New("connection refused")).
			Once()

		result, err := cc.SearchPayments(ctx, seller, SearchParams{BeginDate: begin, EndDate: end})
		assert.ErrorContains(t, err, "searching payments for seller s1")
		assert.ErrorContains(t, err, "connection refused")
		assert.Nil(t, result)
	})

	t.Run("API error is parsed", func(t *testing.T) {
		cc, httpClientMock, tokenManagerMock := newClientWithMocks(t)
		tokenManagerMock.
			On("AccessToken", ctx, seller).
			Return("token-123", nil).
			Once()
		httpClientMock.
			On("Do", mock.Anything).
			Return(jsonResponse(http.StatusTooManyRequests, `{"message": "too many requests"}`), nil).
			Once()

		result, err := cc.SearchPayments(ctx, seller, SearchParams{BeginDate: begin, EndDate: end})
		assert.Nil(t, result)

		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	})

	t.Run("🎉 builds the query and decodes the page", func(t *testing.T) {
		cc, httpClientMock, tokenManagerMock := newClientWithMocks(t)
		tokenManagerMock.
			On("AccessToken", ctx, seller).
			Return("token-123", nil).
			Once()
		httpClientMock.
			On("Do", mock.Anything).
			Return(jsonResponse(http.StatusOK, `{
				"paging": {"total": 120, "offset": 50, "limit": 50},
				"results": [
					{"id": 144359445042, "status": "approved", "transaction_amount": 284.74,
					 "transaction_details": {"net_received_amount": 235.85},
					 "order": {"id": 2000011487}}
				]
			}`), nil).
			Run(func(args mock.Arguments) {
				req, ok := args.Get(0).(*http.Request)
				require.True(t, ok)

				assert.Equal(t, http.MethodGet, req.Method)
				assert.Equal(t, "/v1/payments/search", req.URL.Path)
				assert.Equal(t, "Bearer token-123", req.Header.Get("Authorization"))

				query := req.URL.Query()
				assert.Equal(t, "money_release_date", query.Get("range"))
				assert.Equal(t, "2026-02-01T00:00:00.000-03:00", query.Get("begin_date"))
				assert.Equal(t, "2026-02-03T23:59:59.000-03:00", query.Get("end_date"))
				assert.Equal(t, "50", query.Get("offset"))
				assert.Equal(t, "50", query.Get("limit"))
			}).
			Once()

		result, err := cc.SearchPayments(ctx, seller, SearchParams{
			RangeField: SearchRangeMoneyReleaseDate,
			BeginDate:  begin,
			EndDate:    end,
			Offset:     50,
		})
		require.NoError(t, err)
		assert.Equal(t, 120, result.Paging.Total)
		require.Len(t, result.Results, 1)
		assert.Equal(t, int64(144359445042), result.Results[0].ID)
		assert.Equal(t, PaymentStatusApproved, result.Results[0].Status)
		assert.True(t, result.Results[0].TransactionAmount.Equal(decimal.RequireFromString("284.74")))
		assert.True(t, result.Results[0].HasOrder())
	})
}

func Test_Client_GetPayment(t *testing.T) {
	ctx := context.Background()
	seller := testSeller("s1")

	t.Run("not found", func(t *testing.T) {
		cc, httpClientMock, tokenManagerMock := newClientWithMocks(t)
		tokenManagerMock.
			On("AccessToken", ctx, seller).
			Return("token-123", nil).
			Once()
		httpClientMock.
			On("Do", mock.Anything).
			Return(jsonResponse(http.StatusNotFound, `{"message": "payment not found", "error": "not_found"}`), nil).
			Once()

		payment, err := cc.GetPayment(ctx, seller, 999)
		assert.Nil(t, payment)

		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.True(t, apiErr.IsNotFound())
	})

	t.Run("decodes payment with refunds and charges", func(t *testing.T) {
		cc, httpClientMock, tokenManagerMock := newClientWithMocks(t)
		tokenManagerMock.
			On("AccessToken", ctx, seller).
			Return("token-123", nil).
			Once()
		httpClientMock.
			On("Do", mock.Anything).
			Return(jsonResponse(http.StatusOK, `{
				"id": 144359445042,
				"status": "refunded",
				"status_detail": "refunded",
				"transaction_amount": 284.74,
				"transaction_details": {"net_received_amount": 235.85},
				"charges_details": [
					{"type": "fee_ml", "amount": 25.44, "from": "collector"},
					{"type": "shp_cost", "amount": 23.45, "from": "collector"}
				],
				"refunds": [{"id": 1, "amount": 284.74}]
			}`), nil).
			Run(func(args mock.Arguments) {
				req, ok := args.Get(0).(*http.Request)
				require.True(t, ok)
				assert.Equal(t, "http://localhost:8080/v1/payments/144359445042", req.URL.String())
			}).
			Once()

		payment, err := cc.GetPayment(ctx, seller, 144359445042)
		require.NoError(t, err)
		assert.Equal(t, PaymentStatusRefunded, payment.Status)
		assert.True(t, payment.SellerShippingAmount().Equal(decimal.RequireFromString("23.45")))
		assert.True(t, payment.TotalRefundedAmount().Equal(decimal.RequireFromString("284.74")))
	})
}

func Test_Client_GetOrder(t *testing.T) {
	ctx := context.Background()
	seller := testSeller("s1")

	cc, httpClientMock, tokenManagerMock := newClientWithMocks(t)
	tokenManagerMock.
		On("AccessToken", ctx, seller).
		Return("token-123", nil).
		Once()
	httpClientMock.
		On("Do", mock.Anything).
		Return(jsonResponse(http.StatusOK, `{
			"id": 2000011487,
			"order_items": [{"item": {"title": "Kit 2 Panelas"}}],
			"shipping": {"id": 44024221494}
		}`), nil).
		Run(func(args mock.Arguments) {
			req, ok := args.Get(0).(*http.Request)
			require.True(t, ok)
			assert.Equal(t, "http://localhost:8080/orders/2000011487", req.URL.String())
		}).
		Once()

	order, err := cc.GetOrder(ctx, seller, 2000011487)
	require.NoError(t, err)
	assert.Equal(t, "Kit 2 Panelas", order.FirstItemTitle())
	require.NotNil(t, order.Shipping)
	assert.Equal(t, int64(44024221494), order.Shipping.ID)
}

func Test_Client_GetShipmentCosts(t *testing.T) {
	ctx := context.Background()
	seller := testSeller("s1")

	cc, httpClientMock, tokenManagerMock := newClientWithMocks(t)
	tokenManagerMock.
		On("AccessToken", ctx, seller).
		Return("token-123", nil).
		Once()
	httpClientMock.
		On("Do", mock.Anything).
		Return(jsonResponse(http.StatusOK, `{"senders": [{"cost": 22.88}]}`), nil).
		Run(func(args mock.Arguments) {
			req, ok := args.Get(0).(*http.Request)
			require.True(t, ok)
			assert.Equal(t, "http://localhost:8080/shipments/44024221494/costs", req.URL.String())
		}).
		Once()

	costs, err := cc.GetShipmentCosts(ctx, seller, 44024221494)
	require.NoError(t, err)
	assert.True(t, costs.SenderCost().Equal(decimal.RequireFromString("22.88")))
}
