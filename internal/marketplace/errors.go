package marketplace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// APIError represents an error response from the marketplace APIs.
type APIError struct {
	Message string `json:"message"`
	Err     string `json:"error"`
	// StatusCode is the HTTP status code.
	StatusCode int `json:"status,omitempty"`
}

// Error implements the error interface for APIError.
func (e APIError) Error() string {
	return fmt.Sprintf("marketplace API error: StatusCode=%d, Error=%s, Message=%s", e.StatusCode, e.Err, e.Message)
}

// IsNotFound reports whether the resource does not exist upstream.
func (e APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether the request was rejected for credentials.
func (e APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsConsumedRefreshToken reports whether a token exchange failed because the
// single-use refresh token was already spent, usually by a concurrent
// refresher whose result is sitting in the sellers table.
func (e APIError) IsConsumedRefreshToken() bool {
	return e.Err == "invalid_grant"
}

// parseAPIError parses an error response from the marketplace APIs.
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
