package monitor

type MetricTag string

const (
	SuccessfulQueryDurationTag MetricTag = "successful_queries_duration"
	FailureQueryDurationTag    MetricTag = "failure_queries_duration"
	HTTPRequestDurationTag     MetricTag = "requests_duration_seconds"
	// Webhooks:
	WebhookEventsReceivedCounterTag MetricTag = "webhook_events_received_counter"
	// Payment pipeline:
	PaymentsProcessedCounterTag MetricTag = "payments_processed_counter"
	JobsProcessedCounterTag     MetricTag = "jobs_processed_counter"
	// Marketplace API requests:
	MarketplaceAPIRequestDurationTag MetricTag = "marketplace_api_request_duration_seconds"
	MarketplaceAPIRequestsTotalTag   MetricTag = "marketplace_api_requests_total"
	// ERP API requests:
	ERPAPIRequestDurationTag MetricTag = "erp_api_request_duration_seconds"
	ERPAPIRequestsTotalTag   MetricTag = "erp_api_requests_total"
)

func (m MetricTag) ListAll() []MetricTag {
	return []MetricTag{
		SuccessfulQueryDurationTag,
		FailureQueryDurationTag,
		HTTPRequestDurationTag,
		WebhookEventsReceivedCounterTag,
		PaymentsProcessedCounterTag,
		JobsProcessedCounterTag,
		MarketplaceAPIRequestDurationTag,
		MarketplaceAPIRequestsTotalTag,
		ERPAPIRequestDurationTag,
		ERPAPIRequestsTotalTag,
	}
}
