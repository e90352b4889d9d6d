package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	// Upstream API metrics
	UpstreamRequestsTotal *prometheus.CounterVec
	UpstreamErrorsTotal   *prometheus.CounterVec
	UpstreamDuration      *prometheus.HistogramVec
	UpstreamStatusTotal   *prometheus.CounterVec

	// Upload metrics
	UploadsTotal      *prometheus.CounterVec
	UploadedBytes     prometheus.Counter
	UploadServesTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec
}

// defaultBuckets are the default histogram buckets for duration metrics (in seconds).
// Generation and assist calls can take tens of seconds.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

const namespace = "media_gateway"

// globalMetrics is the global metrics instance
var (
	globalMetrics *Metrics
	metricsMu     sync.Mutex
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		// Upstream API metrics
		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Total number of upstream API requests",
			},
			[]string{"service", "operation"},
		),
		UpstreamErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "errors_total",
				Help:      "Total number of upstream API errors",
			},
			[]string{"service", "operation", "error_type"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "duration_seconds",
				Help:      "Duration of upstream API calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"service", "operation"},
		),
		UpstreamStatusTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "responses_total",
				Help:      "Upstream responses by HTTP status code",
			},
			[]string{"service", "operation", "status_code"},
		),

		// Upload metrics
		UploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "uploads",
				Name:      "writes_total",
				Help:      "Total number of upload writes by result",
			},
			[]string{"result"},
		),
		UploadedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "uploads",
				Name:      "bytes_total",
				Help:      "Total number of bytes written to the uploads directory",
			},
		),
		UploadServesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "uploads",
				Name:      "serves_total",
				Help:      "Total number of upload reads by result",
			},
			[]string{"result"},
		),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "response_size_bytes",
				Help:      "Size of HTTP responses in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),
	}

	return m
}

// InitMetrics initializes the global metrics instance on the default registry.
// Calling it again returns the existing instance.
func InitMetrics() *Metrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = NewMetrics(nil)
	}
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsMu.Lock()
	m := globalMetrics
	metricsMu.Unlock()
	if m == nil {
		return InitMetrics()
	}
	return m
}

// RecordUpstreamRequest records an upstream API request
func (m *Metrics) RecordUpstreamRequest(service, operation string) {
	m.UpstreamRequestsTotal.WithLabelValues(service, operation).Inc()
}

// RecordUpstreamError records an upstream API error
func (m *Metrics) RecordUpstreamError(service, operation, errorType string) {
	m.UpstreamErrorsTotal.WithLabelValues(service, operation, errorType).Inc()
}

// RecordUpstreamDuration records the duration of an upstream API call
func (m *Metrics) RecordUpstreamDuration(service, operation string, duration time.Duration) {
	m.UpstreamDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordUpstreamStatus records the HTTP status an upstream answered with
func (m *Metrics) RecordUpstreamStatus(service, operation, statusCode string) {
	m.UpstreamStatusTotal.WithLabelValues(service, operation, statusCode).Inc()
}

// RecordUpload records an upload write and, on success, its size
func (m *Metrics) RecordUpload(result string, size int) {
	m.UploadsTotal.WithLabelValues(result).Inc()
	if result == "success" {
		m.UploadedBytes.Add(float64(size))
	}
}

// RecordUploadServe records an upload read
func (m *Metrics) RecordUploadServe(result string) {
	m.UploadServesTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration, responseSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// Timer is a helper for timing operations
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer
func (m *Metrics) NewTimer() *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: m,
	}
}

// ObserveUpstream records the upstream call duration
func (t *Timer) ObserveUpstream(service, operation string) {
	t.metrics.RecordUpstreamDuration(service, operation, time.Since(t.start))
}
