package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics centralizes the Prometheus collectors exposed at /metrics: HTTP
// ingress counters, per-phase transaction latency, upstream call outcomes,
// policy hook duration, queue depth, and activity-stream subscriber count.
type Metrics struct {
	// HTTPRequestCounter counts ingress requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures ingress request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// TransactionPhaseDuration measures one pipeline phase's duration.
	// Labels: phase (ingress|process_request|send_upstream|process_response|send_to_client)
	TransactionPhaseDuration *prometheus.HistogramVec

	// UpstreamRequestCounter counts upstream LLM calls.
	// Labels: provider, model, status (success|error)
	UpstreamRequestCounter *prometheus.CounterVec

	// UpstreamRequestDuration measures upstream LLM call latency in seconds.
	// Labels: provider, model
	UpstreamRequestDuration *prometheus.HistogramVec

	// UpstreamTokensUsed tracks token consumption.
	// Labels: provider, model, kind (input|output)
	UpstreamTokensUsed *prometheus.CounterVec

	// PolicyHookDuration measures a single hook invocation's latency.
	// Labels: class_ref, hook
	PolicyHookDuration *prometheus.HistogramVec

	// PolicyRejections counts requests/chunks a policy terminated or rejected.
	// Labels: class_ref, reason
	PolicyRejections *prometheus.CounterVec

	// QueueDepth tracks current depth of an orchestrator stage queue.
	// Labels: queue (upstream_chunks|policy_chunks|wire_frames)
	QueueDepth *prometheus.GaugeVec

	// ActivitySubscribers tracks current /activity/stream subscriber count.
	ActivitySubscribers prometheus.Gauge

	// ErrorCounter tracks errors by kind (matching canonical.ErrorKind).
	// Labels: kind
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics registers all collectors with the default Prometheus registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "luthien_http_requests_total",
				Help: "Total number of ingress HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "luthien_http_request_duration_seconds",
				Help:    "Duration of ingress HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path", "status_code"},
		),
		TransactionPhaseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "luthien_transaction_phase_duration_seconds",
				Help:    "Duration of a single pipeline phase in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"phase"},
		),
		UpstreamRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "luthien_upstream_requests_total",
				Help: "Total number of upstream LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		UpstreamRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "luthien_upstream_request_duration_seconds",
				Help:    "Duration of upstream LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		UpstreamTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "luthien_upstream_tokens_total",
				Help: "Total number of tokens used by provider, model, and kind",
			},
			[]string{"provider", "model", "kind"},
		),
		PolicyHookDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "luthien_policy_hook_duration_seconds",
				Help:    "Duration of a single policy hook invocation in seconds",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"class_ref", "hook"},
		),
		PolicyRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "luthien_policy_rejections_total",
				Help: "Total number of policy rejections/terminations by class_ref and reason",
			},
			[]string{"class_ref", "reason"},
		),
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "luthien_queue_depth",
				Help: "Current depth of an orchestrator stage queue",
			},
			[]string{"queue"},
		),
		ActivitySubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "luthien_activity_subscribers",
				Help: "Current number of /activity/stream subscribers",
			},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "luthien_errors_total",
				Help: "Total number of errors by kind",
			},
			[]string{"kind"},
		),
	}
}
