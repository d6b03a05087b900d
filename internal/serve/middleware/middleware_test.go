package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/monitor"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

func Test_RecoverHandler(t *testing.T) {
	// setup logger to assert the logged texts later
	buf := new(strings.Builder)
	log.DefaultLogger.SetOutput(buf)
	log.DefaultLogger.SetLevel(log.TraceLevel)

	// setup
	r := chi.NewRouter()
	r.Use(RecoverHandler)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	// test
	req, err := http.NewRequest("GET", "/", nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	// assert response
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	wantJSON := `{
		"error": "An internal error occurred while processing this request."
	}`
	assert.JSONEq(t, wantJSON, rr.Body.String())

	// assert logged text
	assert.Contains(t, buf.String(), "panic: test panic", "should log the panic message")
}

func Test_RecoverHandler_doesNotRecoverFromErrAbortHandler(t *testing.T) {
	buf := new(strings.Builder)
	log.DefaultLogger.SetOutput(buf)

	r := chi.NewRouter()
	r.Use(RecoverHandler)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	require.Panics(t, func() {
		req, err := http.NewRequest("GET", "/", nil)
		require.NoError(t, err)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
	}, "http.ErrAbortHandler is supposed to panic")
}

func Test_MetricsRequestHandler(t *testing.T) {
	mMonitorService := &monitor.MockMonitorService{}
	t.Cleanup(func() { mMonitorService.AssertExpectations(t) })

	// setup
	r := chi.NewRouter()
	r.Use(MetricsRequestHandler(mMonitorService))
	r.Get("/mock", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(`{"status": "OK"}`))
		require.NoError(t, err)
	})

	t.Run("monitor request with valid route", func(t *testing.T) {
		mLabels := monitor.HTTPRequestLabels{
			Status: "200",
			Route:  "/mock",
			Method: "GET",
		}

		mMonitorService.On("MonitorHttpRequestDuration", mock.AnythingOfType("time.Duration"), mLabels).Return(nil).Once()

		req, err := http.NewRequest("GET", "/mock", nil)
		require.NoError(t, err)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		wantBody := `{"status": "OK"}`
		assert.JSONEq(t, wantBody, rr.Body.String())
	})

	t.Run("monitor request with invalid route", func(t *testing.T) {
		mLabels := monitor.HTTPRequestLabels{
			Status: "404",
			Route:  "undefined",
			Method: "GET",
		}

		mMonitorService.On("MonitorHttpRequestDuration", mock.AnythingOfType("time.Duration"), mLabels).Return(nil).Once()

		req, err := http.NewRequest("GET", "/invalid-route", nil)
		require.NoError(t, err)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("monitor request with method not allowed", func(t *testing.T) {
		mLabels := monitor.HTTPRequestLabels{
			Status: "405",
			Route:  "undefined",
			Method: "POST",
		}

		mMonitorService.
			On("MonitorHttpRequestDuration", mock.AnythingOfType("time.Duration"), mLabels).
			Return(nil).
			Once()

		req, err := http.NewRequest("POST", "/mock", nil)
		require.NoError(t, err)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func Test_CorsMiddleware(t *testing.T) {
	t.Run("Should work with an expected origin", func(t *testing.T) {
		r := chi.NewRouter()
		requestBaseURL := "http://myserver.com/*"
		expectedRespBody := "ok"

		r.Use(CorsMiddleware([]string{requestBaseURL}))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			_, err := w.Write([]byte(expectedRespBody))
			require.NoError(t, err)
		})

		expectedReqOrigin := "http://myserver.com/custompage"
		req, err := http.NewRequest("GET", "/", nil)
		require.NoError(t, err)
		req.Header.Add("Origin", expectedReqOrigin)

		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		resp := rr.Result()
		respBody, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Equal(t, expectedReqOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, expectedRespBody, string(respBody))
	})

	t.Run("Should not return Access-Control-Allow-Origin header with unexpected origin", func(t *testing.T) {
		r := chi.NewRouter()
		requestBaseURL := "http://myserver.com"
		expectedRespBody := "ok"

		r.Use(CorsMiddleware([]string{requestBaseURL}))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			_, err := w.Write([]byte(expectedRespBody))
			require.NoError(t, err)
		})

		reqOrigin := "http://locahost:8080"
		req, err := http.NewRequest("GET", "/", nil)
		require.NoError(t, err)
		req.Header.Add("Origin", reqOrigin)

		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		resp := rr.Result()
		respBody, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, expectedRespBody, string(respBody))
	})
}

func Test_RateLimitMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RateLimitMiddleware(2))
	r.Post("/webhooks/ml", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	fire := func() int {
		req, err := http.NewRequest("POST", "/webhooks/ml", nil)
		require.NoError(t, err)
		req.RemoteAddr = "10.0.0.9:4312"
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, fire())
	assert.Equal(t, http.StatusOK, fire())

	// Third request within the window is over the limit.
	assert.Equal(t, http.StatusTooManyRequests, fire())
}

func Test_LoggingMiddleware(t *testing.T) {
	buf := new(strings.Builder)
	log.DefaultLogger.SetOutput(buf)
	log.DefaultLogger.SetLevel(log.InfoLevel)

	r := chi.NewRouter()
	r.Use(LoggingMiddleware)
	r.Get("/queue/status", func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte("ok"))
		require.NoError(t, err)
	})

	req, err := http.NewRequest("GET", "/queue/status", nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	logged := buf.String()
	assert.Contains(t, logged, "starting request")
	assert.Contains(t, logged, "finished request")
	assert.Contains(t, logged, "/queue/status")
}
