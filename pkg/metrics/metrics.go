// Package metrics provides Prometheus instrumentation for the gateway client.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"GoGate/pkg/types"
)

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts gateway calls by method, path and status code.
	// Calls that fail before a status is known are labelled "network_error".
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gogate_requests_total",
			Help: "Gateway requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration records time to response headers (stream) or full body.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gogate_request_duration_seconds",
			Help:    "Gateway request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "path"},
	)

	// RetriesTotal counts backoff waits caused by rate limiting.
	RetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gogate_retries_total",
			Help: "Retries after HTTP 429",
		},
	)

	// RetryExhaustedTotal counts logical calls that ran out of retries.
	RetryExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gogate_retry_exhausted_total",
			Help: "Calls that stayed rate limited after all retries",
		},
	)

	// StreamsActive tracks streams currently being decoded.
	StreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gogate_streams_active",
			Help: "Active SSE streams",
		},
	)

	// StreamsTotal counts finished streams by terminal state.
	StreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gogate_streams_total",
			Help: "Finished streams",
		},
		[]string{"state"},
	)

	// StreamFragmentsTotal counts decoded fragments by kind (content, empty).
	StreamFragmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gogate_stream_fragments_total",
			Help: "Decoded stream fragments",
		},
		[]string{"kind"},
	)

	// DecodeWarningsTotal counts malformed frames skipped by the decoder.
	DecodeWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gogate_stream_decode_warnings_total",
			Help: "Malformed SSE frames skipped",
		},
	)

	// GatewayWorkers mirrors the last polled stats snapshot.
	GatewayWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gogate_gateway_workers",
			Help: "Gateway worker and queue counts from /v1/stats",
		},
		[]string{"kind"},
	)

	// GatewayUtilization is active/capacity of the last polled snapshot.
	GatewayUtilization = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gogate_gateway_utilization_ratio",
			Help: "Gateway worker utilization",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RetriesTotal,
		RetryExhaustedTotal,
		StreamsActive,
		StreamsTotal,
		StreamFragmentsTotal,
		DecodeWarningsTotal,
		GatewayWorkers,
		GatewayUtilization,
	)
}

// StatusLabel renders an HTTP status code as a label value.
func StatusLabel(code int) string {
	if code == 0 {
		return "network_error"
	}
	return strconv.Itoa(code)
}

// ObserveStats copies a snapshot into the gateway gauges.
func ObserveStats(s types.StatsSnapshot) {
	GatewayWorkers.WithLabelValues("active").Set(float64(s.Active))
	GatewayWorkers.WithLabelValues("capacity").Set(float64(s.Capacity))
	GatewayWorkers.WithLabelValues("queued").Set(float64(s.Queued))
	GatewayWorkers.WithLabelValues("max_queue").Set(float64(s.MaxQueue))
	GatewayUtilization.Set(s.Utilization())
}
