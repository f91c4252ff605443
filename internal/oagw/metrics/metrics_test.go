package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outbound-gateway/oagw/internal/oagw/metrics"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(reg)
	require.NotNil(t, c)

	c.RequestsTotal.WithLabelValues("api.example.com", "/v1/chat", "GET", "2xx").Inc()
	c.RequestsInFlight.WithLabelValues("api.example.com").Set(3)
	c.RateLimitUsageRatio.Set(0.5)
	c.QueueDepth.Set(2)
	c.RequestDuration.WithLabelValues("dispatch").Observe(0.01)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"oagw_requests_total",
		"oagw_errors_total",
		"oagw_rate_limit_exceeded_total",
		"oagw_concurrency_limit_exceeded_total",
		"oagw_requests_in_flight",
		"oagw_rate_limit_usage_ratio",
		"oagw_queue_depth",
		"oagw_request_duration_seconds",
	} {
		assert.True(t, names[want], "expected metric %q to be registered", want)
	}
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	assert.Panics(t, func() {
		metrics.New(reg)
	})
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		201: "2xx",
		404: "4xx",
		500: "5xx",
		0:   "xxx",
		600: "xxx",
		-1:  "xxx",
	}
	for status, want := range cases {
		assert.Equal(t, want, metrics.StatusClass(status))
	}
}

func TestCollectors_RequestsTotal_LabelValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(reg)
	c.RequestsTotal.WithLabelValues("api.example.com", "/v1/chat", "POST", "2xx").Inc()
	c.RequestsTotal.WithLabelValues("api.example.com", "/v1/chat", "POST", "2xx").Inc()

	got := testutil.ToFloat64(c.RequestsTotal.WithLabelValues("api.example.com", "/v1/chat", "POST", "2xx"))
	assert.Equal(t, float64(2), got)
}
