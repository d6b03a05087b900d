package httpclient

import (
	"net/http"
	"net/url"
	"time"
)

// HTTPClientInterface is the slice of http.Client the marketplace and ERP
// clients use, so tests can swap in a mock without a listener.
type HTTPClientInterface interface {
	Do(*http.Request) (*http.Response, error)
	PostForm(url string, data url.Values) (resp *http.Response, err error)
}

const TimeoutClientInSeconds = 30

// DefaultClient returns a default HTTP client with a timeout.
func DefaultClient() HTTPClientInterface {
	return &http.Client{Timeout: TimeoutClientInSeconds * time.Second}
}

var _ HTTPClientInterface = DefaultClient()
