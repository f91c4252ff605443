// Package metrics implements the gateway's Prometheus collectors
// (spec.md §6.4). Cardinality is deliberately bounded: no tenant or
// principal label appears on any series, and path values are always
// the route's declared pattern, never the raw request path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{.001, .005, .010, .025, .050, .100, .250, .500, 1, 2.5, 5, 10}

// Collectors bundles every series spec.md §6.4 names, registered once
// at process startup.
type Collectors struct {
	RequestsTotal            *prometheus.CounterVec
	ErrorsTotal               *prometheus.CounterVec
	RateLimitExceededTotal    *prometheus.CounterVec
	ConcurrencyExceededTotal  *prometheus.CounterVec
	RequestsInFlight          *prometheus.GaugeVec
	RateLimitUsageRatio       prometheus.Gauge
	QueueDepth                prometheus.Gauge
	RequestDuration           *prometheus.HistogramVec
}

// New constructs Collectors and registers them against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oagw_requests_total",
			Help: "Total inbound requests processed by the gateway.",
		}, []string{"host", "path", "method", "status_class"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oagw_errors_total",
			Help: "Total gateway-originated errors by kind.",
		}, []string{"host", "path", "error_type"}),
		RateLimitExceededTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oagw_rate_limit_exceeded_total",
			Help: "Total requests denied by the rate limiter.",
		}, []string{"host", "path"}),
		ConcurrencyExceededTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oagw_concurrency_limit_exceeded_total",
			Help: "Total requests denied by the concurrency limiter.",
		}, []string{"host", "level"}),
		RequestsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oagw_requests_in_flight",
			Help: "Requests currently being processed.",
		}, []string{"host"}),
		RateLimitUsageRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oagw_rate_limit_usage_ratio",
			Help: "Most recently observed fraction of rate-limit capacity in use.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oagw_queue_depth",
			Help: "Current depth of the concurrency-limiter overflow queue.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oagw_request_duration_seconds",
			Help:    "Request duration by pipeline phase.",
			Buckets: durationBuckets,
		}, []string{"phase"}),
	}
	reg.MustRegister(
		c.RequestsTotal, c.ErrorsTotal, c.RateLimitExceededTotal, c.ConcurrencyExceededTotal,
		c.RequestsInFlight, c.RateLimitUsageRatio, c.QueueDepth, c.RequestDuration,
	)
	return c
}

// StatusClass renders an HTTP status as the "status_class" label value
// ("2xx", "4xx", ...) so the series never carries raw status codes.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "xxx"
	}
	return string(rune('0'+status/100)) + "xx"
}
