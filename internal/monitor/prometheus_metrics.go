package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

func PrometheusMetrics() map[MetricTag]prometheus.Collector {
	metrics := make(map[MetricTag]prometheus.Collector)

	for tag, summaryVec := range SummaryVecMetrics {
		metrics[tag] = summaryVec
	}

	for tag, histogramVec := range HistogramVecMetrics {
		metrics[tag] = histogramVec
	}

	for tag, counterVec := range CounterVecMetrics {
		metrics[tag] = counterVec
	}

	return metrics
}

var SummaryVecMetrics = map[MetricTag]*prometheus.SummaryVec{
	HTTPRequestDurationTag: prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: DefaultNamespace, Subsystem: "http", Name: string(HTTPRequestDurationTag),
		Help: "HTTP requests durations, sliding window = 10m",
	},
		[]string{"status", "route", "method"},
	),
	SuccessfulQueryDurationTag: prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: DefaultNamespace, Subsystem: "db", Name: string(SuccessfulQueryDurationTag),
		Help: "Successful DB query durations",
	},
		[]string{"query_type"},
	),
	FailureQueryDurationTag: prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: DefaultNamespace, Subsystem: "db", Name: string(FailureQueryDurationTag),
		Help: "Failure DB query durations",
	},
		[]string{"query_type"},
	),
}

var HistogramVecMetrics = map[MetricTag]*prometheus.HistogramVec{
	MarketplaceAPIRequestDurationTag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: DefaultNamespace, Subsystem: "marketplace", Name: string(MarketplaceAPIRequestDurationTag),
		Help: "A histogram of the marketplace API request durations",
	},
		APIRequestLabelNames,
	),
	ERPAPIRequestDurationTag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: DefaultNamespace, Subsystem: "erp", Name: string(ERPAPIRequestDurationTag),
		Help: "A histogram of the ERP API request durations",
	},
		APIRequestLabelNames,
	),
}

var CounterVecMetrics = map[MetricTag]*prometheus.CounterVec{
	WebhookEventsReceivedCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: "webhooks", Name: string(WebhookEventsReceivedCounterTag),
		Help: "A counter of marketplace webhook notifications received, by topic",
	},
		[]string{"topic"},
	),
	PaymentsProcessedCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: "business", Name: string(PaymentsProcessedCounterTag),
		Help: "A counter of payment notifications processed, by seller and outcome",
	},
		[]string{"seller", "outcome"},
	),
	JobsProcessedCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: "queue", Name: string(JobsProcessedCounterTag),
		Help: "A counter of queue jobs processed, by kind and final status",
	},
		[]string{"kind", "status"},
	),
	MarketplaceAPIRequestsTotalTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: "marketplace", Name: string(MarketplaceAPIRequestsTotalTag),
		Help: "A counter of the marketplace API requests",
	},
		APIRequestLabelNames,
	),
	ERPAPIRequestsTotalTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: "erp", Name: string(ERPAPIRequestsTotalTag),
		Help: "A counter of the ERP API requests",
	},
		APIRequestLabelNames,
	),
}
