package httperror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

func TestNewHTTPError(t *testing.T) {
	err := NewHTTPError(http.StatusBadRequest, "Bad request", nil, map[string]interface{}{
		"foo": "bar",
	})

	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, "Bad request", err.Message)
	assert.Len(t, err.Extras, 1)
	assert.Equal(t, map[string]interface{}{"foo": "bar"}, err.Extras)
}

func TestNewHTTPError_returnOriginalErrIfNoNewInfoWasAdded(t *testing.T) {
	err := NewHTTPError(http.StatusBadRequest, "Bad request", nil, map[string]interface{}{
		"foo": "bar",
	})

	// if no new info was added, return original error
	newErr := NewHTTPError(http.StatusBadRequest, "", err, nil)
	assert.Equal(t, err, newErr)

	// return new error if the message changed
	newErr = NewHTTPError(http.StatusBadRequest, "Foo Bar Bad Request", err, nil)
	assert.NotEqual(t, err, newErr)

	// return new error if the status code changed
	newErr = NewHTTPError(http.StatusNotFound, "", err, nil)
	assert.NotEqual(t, err, newErr)

	// return new error if the extras have changed
	newErr = NewHTTPError(http.StatusBadRequest, "", err, map[string]interface{}{
		"foo2": "bar2",
	})
	assert.NotEqual(t, err, newErr)
}

func TestConstructors(t *testing.T) {
	originalErr := errors.New("original error")

	testCases := []struct {
		name           string
		build          func(msg string) *HTTPError
		wantStatusCode int
		wantDefaultMsg string
	}{
		{
			name:           "NotFound",
			build:          func(msg string) *HTTPError { return NotFound(msg, originalErr, nil) },
			wantStatusCode: http.StatusNotFound,
			wantDefaultMsg: "Resource not found.",
		},
		{
			name:           "Conflict",
			build:          func(msg string) *HTTPError { return Conflict(msg, originalErr, nil) },
			wantStatusCode: http.StatusConflict,
			wantDefaultMsg: "The resource already exists.",
		},
		{
			name:           "BadRequest",
			build:          func(msg string) *HTTPError { return BadRequest(msg, originalErr, nil) },
			wantStatusCode: http.StatusBadRequest,
			wantDefaultMsg: "The request was invalid in some way.",
		},
		{
			name:           "Unauthorized",
			build:          func(msg string) *HTTPError { return Unauthorized(msg, originalErr, nil) },
			wantStatusCode: http.StatusUnauthorized,
			wantDefaultMsg: "Not authorized.",
		},
		{
			name:           "Forbidden",
			build:          func(msg string) *HTTPError { return Forbidden(msg, originalErr, nil) },
			wantStatusCode: http.StatusForbidden,
			wantDefaultMsg: "You don't have permission to perform this action.",
		},
		{
			name:           "BadGateway",
			build:          func(msg string) *HTTPError { return BadGateway(msg, originalErr, nil) },
			wantStatusCode: http.StatusBadGateway,
			wantDefaultMsg: "An upstream dependency failed while processing this request.",
		},
		{
			name:           "TooManyRequests",
			build:          func(msg string) *HTTPError { return TooManyRequests(msg, originalErr, nil) },
			wantStatusCode: http.StatusTooManyRequests,
			wantDefaultMsg: "Too many requests.",
		},
		{
			name:           "UnprocessableEntity",
			build:          func(msg string) *HTTPError { return UnprocessableEntity(msg, originalErr, nil) },
			wantStatusCode: http.StatusUnprocessableEntity,
			wantDefaultMsg: "Unprocessable entity.",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.build("")
			assert.Equal(t, tc.wantStatusCode, err.StatusCode)
			assert.Equal(t, tc.wantDefaultMsg, err.Message)
			assert.Equal(t, originalErr, err.Err)

			err = tc.build("Foo Bar " + tc.name)
			assert.Equal(t, tc.wantStatusCode, err.StatusCode)
			assert.Equal(t, "Foo Bar "+tc.name, err.Message)
		})
	}
}

func TestInternalError(t *testing.T) {
	originalErr := errors.New("original error")
	ctx := context.Background()

	t.Run("internal error with default message", func(t *testing.T) {
		// set the logger to a buffer so we can check the error message
		buf := new(strings.Builder)
		log.DefaultLogger.SetOutput(buf)

		err := InternalError(ctx, "", originalErr, map[string]interface{}{"foo": "bad server error"})
		assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
		assert.Equal(t, "An internal error occurred while processing this request.", err.Message)
		assert.Equal(t, originalErr, err.Err)
		assert.Equal(t, map[string]interface{}{"foo": "bad server error"}, err.Extras)

		// validate logs
		require.Contains(t, buf.String(), "An internal error occurred while processing this request.: original error")
	})

	t.Run("internal error with custom message", func(t *testing.T) {
		buf := new(strings.Builder)
		log.DefaultLogger.SetOutput(buf)

		err := InternalError(ctx, "Foo Bar InternalError", originalErr, nil)
		assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
		assert.Equal(t, "Foo Bar InternalError", err.Message)
		assert.Equal(t, originalErr, err.Err)
		assert.Nil(t, err.Extras)

		require.Contains(t, buf.String(), "Foo Bar InternalError: original error")
	})

	t.Run("internal error with custom ReportErrorFunc", func(t *testing.T) {
		buf := new(strings.Builder)
		log.DefaultLogger.SetOutput(buf)

		reportErrorFunc := func(ctx context.Context, err error, msg string) {
			log.Error("reported with custom ReportFunc")
		}

		SetDefaultReportErrorFunc(reportErrorFunc)

		err := InternalError(ctx, "", originalErr, nil)
		assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
		assert.Equal(t, "An internal error occurred while processing this request.", err.Message)
		assert.Equal(t, originalErr, err.Err)
		assert.Nil(t, err.Extras)

		require.Contains(t, buf.String(), "reported with custom ReportFunc")
	})
}

func TestNewHTTPError_json(t *testing.T) {
	httpErr := NewHTTPError(http.StatusAccepted, "Bad request", nil, map[string]interface{}{
		"foo": "bar",
	})

	gotJson, err := json.Marshal(httpErr)
	require.NoError(t, err)

	wantJson := `{
		"error": "Bad request",
		"extras": {
			"foo": "bar"
		}
	}`
	require.JSONEq(t, wantJson, string(gotJson))
}

type testError struct {
	Msg string
}

func (te *testError) Error() string {
	return te.Msg
}

func TestError_unwrap(t *testing.T) {
	wrappedError := testError{"wrapped error"}
	httpErr := NewHTTPError(http.StatusForbidden, "Bad request", &wrappedError, map[string]interface{}{
		"foo": "bar",
	})
	require.Equal(t, &wrappedError, httpErr.Unwrap())

	require.True(t, errors.Is(httpErr, &wrappedError))

	var e *testError
	require.True(t, errors.As(httpErr, &e))
	require.Equal(t, &wrappedError, e)
}
