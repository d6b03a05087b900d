package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httpclient"
)

// ClientInterface defines the surface the posting worker and the settlement
// and release-status flows need from the ERP.
type ClientInterface interface {
	Post(ctx context.Context, path string, body json.RawMessage) (*PostResult, error)
	SearchOpenParcels(ctx context.Context, eventType EventType, params ParcelSearchParams) (*ParcelSearchResult, error)
}

// PostResult is the outcome of one posting attempt. Post returns it for any
// HTTP response, success or not, so the worker can classify the status code
// itself; the error return is reserved for transport failures.
type PostResult struct {
	StatusCode int
	Body       string
	// ReceiptID is the id of the created event when the ERP returned one.
	ReceiptID string
}

// Ok reports whether the ERP accepted the posting.
func (r *PostResult) Ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RateLimiter is the ERP request budget. The queue's token bucket satisfies
// it; this package declares its own interface because the queue depends on
// this package, not the other way around.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

// Client provides methods to interact with the ERP API. The shared access
// token is resolved per call through the TokenManager.
//
// Each method performs exactly one HTTP request. Retrying, including the
// refresh-and-retry dance after a 401, belongs to callers so that every
// request spends exactly one token of the shared ERP budget. Direct reads
// like SearchOpenParcels acquire their token here; Post's token is acquired
// by the queue worker before it sends a claimed job.
type Client struct {
	BaseURL      string
	tokenManager TokenManagerInterface
	httpClient   httpclient.HTTPClientInterface
	rateLimiter  RateLimiter
}

// NewClient creates a new ERP Client. A nil rateLimiter leaves direct reads
// unmetered; production wiring always passes the process-wide bucket.
func NewClient(baseURL string, tokenManager TokenManagerInterface, rateLimiter RateLimiter) *Client {
	return &Client{
		BaseURL:      baseURL,
		tokenManager: tokenManager,
		httpClient:   httpclient.DefaultClient(),
		rateLimiter:  rateLimiter,
	}
}

// Post sends a stored posting body to the given ERP path.
func (client *Client) Post(ctx context.Context, path string, body json.RawMessage) (*PostResult, error) {
	resp, err := client.request(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("posting to ERP %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("reading ERP response from %s: %w", path, err)
	}

	result := PostResult{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	}
	if result.Ok() {
		var receipt struct {
			ID string `json:"id"`
		}
		// Some endpoints, baixa among them, return an empty body.
		if err := json.Unmarshal(respBody, &receipt); err == nil {
			result.ReceiptID = receipt.ID
		}
	}

	return &result, nil
}

// SearchOpenParcels returns one page of parcels matching params on the given
// side of the ledger.
func (client *Client) SearchOpenParcels(ctx context.Context, eventType EventType, params ParcelSearchParams) (*ParcelSearchResult, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = DefaultParcelPageSize
	}

	query := url.Values{}
	for _, status := range params.Statuses {
		query.Add("status", status)
	}
	if len(params.FinancialAccountIDs) > 0 {
		query.Set("ids_contas_financeiras", strings.Join(params.FinancialAccountIDs, ","))
	}
	if !params.DueDateFrom.IsZero() {
		query.Set("data_vencimento_de", params.DueDateFrom.Format("2006-01-02"))
	}
	if !params.DueDateTo.IsZero() {
		query.Set("data_vencimento_ate", params.DueDateTo.Format("2006-01-02"))
	}
	query.Set("pagina", strconv.Itoa(params.Page))
	query.Set("tamanho_pagina", strconv.Itoa(params.PageSize))

	// One token per page, from the same bucket the worker posts against.
	if client.rateLimiter != nil {
		if err := client.rateLimiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("searching open parcels: %w", err)
		}
	}

	resp, err := client.request(ctx, http.MethodGet, SearchParcelsPath(eventType), query, nil)
	if err != nil {
		return nil, fmt.Errorf("searching open parcels: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiError, parseErr := parseAPIError(resp)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing API error: %w", parseErr)
		}
		return nil, fmt.Errorf("searching open parcels: %w", apiError)
	}

	var result ParcelSearchResult
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding open parcels page: %w", err)
	}

	return &result, nil
}

// request makes an authenticated HTTP request to the ERP API.
func (client *Client) request(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
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

	accessToken, err := client.tokenManager.AccessToken(ctx)
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
