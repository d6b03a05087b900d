package monitor

import "strconv"

const (
	noHTTPStatus       = "0"
	successStatus      = "success"
	errorStatus        = "error"
	networkErrorStatus = "network_error"
)

// ClassifyRequestStatus maps the outcome of an outbound API call to the
// status/status_code label pair used by the request metrics. A zero status
// code means the request never reached the server.
func ClassifyRequestStatus(statusCode int) (status, code string) {
	switch {
	case statusCode == 0:
		return networkErrorStatus, noHTTPStatus
	case statusCode >= 400:
		return errorStatus, strconv.Itoa(statusCode)
	default:
		return successStatus, strconv.Itoa(statusCode)
	}
}
