package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httpclient"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

const (
	paymentsSearchPath = "/v1/payments/search"
	paymentsPath       = "/v1/payments"
	ordersPath         = "/orders"
	shipmentsPath      = "/shipments"

	// DefaultSearchPageSize is the page size used for payment search
	// pagination. The marketplace caps pages at 50.
	DefaultSearchPageSize = 50

	// searchDateLayout is the timestamp format the search endpoints expect.
	searchDateLayout = "2006-01-02T15:04:05.000-07:00"
)

// ClientInterface defines the surface the sync, backfill and fee-validation
// flows need from the marketplace.
type ClientInterface interface {
	SearchPayments(ctx context.Context, seller *data.Seller, params SearchParams) (*PaymentSearchResult, error)
	GetPayment(ctx context.Context, seller *data.Seller, paymentID int64) (*Payment, error)
	GetOrder(ctx context.Context, seller *data.Seller, orderID int64) (*Order, error)
	GetShipmentCosts(ctx context.Context, seller *data.Seller, shipmentID int64) (*ShipmentCosts, error)
	CreateReleaseReport(ctx context.Context, seller *data.Seller, beginDate, endDate time.Time) (string, error)
	DownloadReleaseReport(ctx context.Context, seller *data.Seller, fileName string) ([]ReleaseReportRow, error)
}

// Client provides methods to interact with the marketplace API on behalf of
// one seller at a time. Credentials are resolved per call through the
// TokenManager.
type Client struct {
	BaseURL      string
	tokenManager TokenManagerInterface
	httpClient   httpclient.HTTPClientInterface
}

// NewClient creates a new marketplace Client.
func NewClient(baseURL string, tokenManager TokenManagerInterface) *Client {
	return &Client{
		BaseURL:      baseURL,
		tokenManager: tokenManager,
		httpClient:   httpclient.DefaultClient(),
	}
}

// SearchParams bounds one page of a payments search.
type SearchParams struct {
	RangeField SearchRangeField
	BeginDate  time.Time
	EndDate    time.Time
	Offset     int
	Limit      int
}

// SearchPayments returns one page of payments whose RangeField date falls
// inside [BeginDate, EndDate]. Callers page by advancing Offset until
// Paging.Total is exhausted.
func (client *Client) SearchPayments(ctx context.Context, seller *data.Seller, params SearchParams) (*PaymentSearchResult, error) {
	if params.Limit <= 0 {
		params.Limit = DefaultSearchPageSize
	}
	if params.RangeField == "" {
		params.RangeField = SearchRangeDateApproved
	}

	query := url.Values{}
	query.Set("range", string(params.RangeField))
	query.Set("begin_date", params.BeginDate.In(utils.OperationalZone).Format(searchDateLayout))
	query.Set("end_date", params.EndDate.In(utils.OperationalZone).Format(searchDateLayout))
	query.Set("offset", strconv.Itoa(params.Offset))
	query.Set("limit", strconv.Itoa(params.Limit))

	var result PaymentSearchResult
	if err := client.getJSON(ctx, seller, paymentsSearchPath, query, &result); err != nil {
		return nil, fmt.Errorf("searching payments for seller %s: %w", seller.ID, err)
	}

	return &result, nil
}

// GetPayment fetches the full payment payload, refunds included.
func (client *Client) GetPayment(ctx context.Context, seller *data.Seller, paymentID int64) (*Payment, error) {
	var payment Payment
	path := fmt.Sprintf("%s/%d", paymentsPath, paymentID)
	if err := client.getJSON(ctx, seller, path, nil, &payment); err != nil {
		return nil, fmt.Errorf("getting payment %d for seller %s: %w", paymentID, seller.ID, err)
	}

	return &payment, nil
}

// GetOrder fetches the order a payment references, used for posting
// descriptions (first item title) and the shipment fallback.
func (client *Client) GetOrder(ctx context.Context, seller *data.Seller, orderID int64) (*Order, error) {
	var order Order
	path := fmt.Sprintf("%s/%d", ordersPath, orderID)
	if err := client.getJSON(ctx, seller, path, nil, &order); err != nil {
		return nil, fmt.Errorf("getting order %d for seller %s: %w", orderID, seller.ID, err)
	}

	return &order, nil
}

// GetShipmentCosts fetches the shipment cost breakdown, the fallback source
// for seller-paid shipping when charges_details has no shp_ entries.
func (client *Client) GetShipmentCosts(ctx context.Context, seller *data.Seller, shipmentID int64) (*ShipmentCosts, error) {
	var costs ShipmentCosts
	path := fmt.Sprintf("%s/%d/costs", shipmentsPath, shipmentID)
	if err := client.getJSON(ctx, seller, path, nil, &costs); err != nil {
		return nil, fmt.Errorf("getting shipment %d costs for seller %s: %w", shipmentID, seller.ID, err)
	}

	return &costs, nil
}

func (client *Client) getJSON(ctx context.Context, seller *data.Seller, path string, query url.Values, dest any) error {
	resp, err := client.request(ctx, seller, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiError, parseErr := parseAPIError(resp)
		if parseErr != nil {
			return fmt.Errorf("parsing API error: %w", parseErr)
		}
		return fmt.Errorf("API error: %w", apiError)
	}

	if err = json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}

	return nil
}

// request makes an authenticated HTTP request to the marketplace API.
func (client *Client) request(ctx context.Context, seller *data.Seller, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	u, err := url.JoinPath(client.BaseURL, path)
	if err != nil {
		return nil, fmt.Errorf("building path: %w", err)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	accessToken, err := client.tokenManager.AccessToken(ctx, seller)
	if err != nil {
		return nil, fmt.Errorf("resolving access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return client.httpClient.Do(req)
}

var _ ClientInterface = (*Client)(nil)
