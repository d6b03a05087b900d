package monitor

type HTTPRequestLabels struct {
	Status string
	Route  string
	Method string
}

type DBQueryLabels struct {
	QueryType string
}

type PaymentLabels struct {
	Seller  string
	Outcome string
}

func (p PaymentLabels) ToMap() map[string]string {
	return map[string]string{
		"seller":  p.Seller,
		"outcome": p.Outcome,
	}
}

type JobLabels struct {
	Kind   string
	Status string
}

func (j JobLabels) ToMap() map[string]string {
	return map[string]string{
		"kind":   j.Kind,
		"status": j.Status,
	}
}

// APIRequestLabels describes an outbound request to the marketplace or ERP
// API.
type APIRequestLabels struct {
	Method     string
	Endpoint   string
	Status     string
	StatusCode string
}

func (a APIRequestLabels) ToMap() map[string]string {
	return map[string]string{
		"method":      a.Method,
		"endpoint":    a.Endpoint,
		"status":      a.Status,
		"status_code": a.StatusCode,
	}
}

var APIRequestLabelNames = []string{"method", "endpoint", "status", "status_code"}
