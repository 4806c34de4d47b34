// Package metrics provides Prometheus metrics for the ingest service.
package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Names of the per-message metrics emitted by the timing stage.
const (
	ResponseTimeMillis  = "response.time.millis"
	ResponseContentSize = "response.content-length.bytes"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

var millisBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var sizeBuckets = prometheus.ExponentialBuckets(64, 4, 10)

// Metrics holds all Prometheus metric collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	UploadBytes      *prometheus.CounterVec

	MessagesTotal       *prometheus.CounterVec
	ResponseTime        prometheus.Histogram
	ResponseContentSize prometheus.Histogram

	WebhookDuration  *prometheus.HistogramVec
	WebhookResponses *prometheus.CounterVec

	knownPrefixes []string
}

// New creates a Metrics instance with a custom registry and all collectors
// registered. paths are added to the bounded set of path labels.
func New(paths ...string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitrios_ingest_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aitrios_ingest_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aitrios_ingest_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitrios_ingest_upload_bytes_total",
			Help: "Declared request body bytes of uploads, by path prefix.",
		}, []string{"path_prefix"}),

		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitrios_ingest_messages_total",
			Help: "Messages emitted by the endpoint, by payload kind.",
		}, []string{"kind"}),

		ResponseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aitrios_ingest_response_time_milliseconds",
			Help:    "Time from entering the timing stage until response headers were written.",
			Buckets: millisBuckets,
		}),

		ResponseContentSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aitrios_ingest_response_content_length_bytes",
			Help:    "Declared Content-Length of endpoint responses.",
			Buckets: sizeBuckets,
		}),

		WebhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aitrios_ingest_webhook_request_duration_seconds",
			Help:    "Webhook call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		WebhookResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitrios_ingest_webhook_responses_total",
			Help: "Total webhook responses by method and status code.",
		}, []string{"method", "status_code"}),

		knownPrefixes: []string{"/healthz", "/ingest/status", "/metrics"},
	}

	for _, p := range paths {
		if p != "" && p != "/" {
			m.knownPrefixes = append(m.knownPrefixes, strings.TrimRight(p, "/"))
		}
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UploadBytes,
		m.MessagesTotal,
		m.ResponseTime,
		m.ResponseContentSize,
		m.WebhookDuration,
		m.WebhookResponses,
	)

	return m
}

// Metric records one per-message measurement. Values that do not parse as
// numbers are dropped; the message id is not a label because it is unbounded.
func (m *Metrics) Metric(name, _ string, value string) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return
	}
	switch name {
	case ResponseTimeMillis:
		m.ResponseTime.Observe(v)
	case ResponseContentSize:
		m.ResponseContentSize.Observe(v)
	}
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func (m *Metrics) NormalizePath(path string) string {
	for _, prefix := range m.knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
