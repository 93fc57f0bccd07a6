// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency. Asset fetches can be large
// downloads, so the upper buckets run longer than typical API latencies.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asset_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asset_proxy_upstream_request_duration_seconds",
			Help:    "Upstream fetch latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"mode"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_proxy_upstream_responses_total",
			Help: "Total upstream responses by mode and status code.",
		}, []string{"mode", "status_code"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// The proxy only serves GET traffic; anything else is mapped to "other" to
// prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownRoutes lists the non-asset path label values (bounded cardinality).
var knownRoutes = []string{"/proxy", "/healthz", "/statusz", "/metrics"}

// NormalizeRoute returns a bounded route label for Prometheus metrics.
// Asset-mode paths are unbounded (one per upstream file), so they all
// collapse into the "asset" label.
func NormalizeRoute(path string) string {
	for _, route := range knownRoutes {
		if path == route || strings.HasPrefix(path, route+"?") {
			return route
		}
	}
	return "asset"
}

// ModeLabel returns the upstream mode label for a fetch.
func ModeLabel(asset bool) string {
	if asset {
		return "asset"
	}
	return "explicit"
}
