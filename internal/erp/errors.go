package erp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// APIError represents an error response from the ERP API.
type APIError struct {
	Message string `json:"message"`
	// StatusCode is the HTTP status code.
	StatusCode int `json:"status,omitempty"`
}

// Error implements the error interface for APIError.
func (e APIError) Error() string {
	return fmt.Sprintf("ERP API error: StatusCode=%d, Message=%s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether the access token was rejected. Callers
// invalidate the shared token and retry once with a fresh one.
func (e APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsRateLimited reports whether the ERP throttled the request.
func (e APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports whether the request may succeed later without changes.
func (e APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// parseAPIError parses an error response from the ERP API.
func parseAPIError(resp *http.Response) (*APIError, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("reading error response body: %w", err)
	}
	defer resp.Body.Close()

	apiErr := APIError{StatusCode: resp.StatusCode}
	if err = json.Unmarshal(body, &apiErr); err != nil {
		// Not all error bodies are JSON; keep the raw text.
		apiErr.Message = string(body)
	}
	apiErr.StatusCode = resp.StatusCode

	return &apiErr, nil
}

// AsAPIError unwraps err into an *APIError when one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// IsUnauthorizedError reports whether err carries an ERP 401. Used as a
// retry predicate around calls that refresh the token between attempts.
func IsUnauthorizedError(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.IsUnauthorized()
}
