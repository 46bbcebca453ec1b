// Package metrics exposes Prometheus collectors for upstream traffic, cache
// maintenance and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	UpstreamRequests *prometheus.CounterVec
	CachePurged      prometheus.Counter
	PrefetchRuns     *prometheus.CounterVec
	APIDuration      *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		UpstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydro_upstream_requests_total",
				Help: "Upstream provider requests by outcome",
			},
			[]string{"provider", "resource", "outcome"},
		),
		CachePurged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hydro_cache_purged_total",
				Help: "Staleness cache entries removed by purges",
			},
		),
		PrefetchRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydro_prefetch_total",
				Help: "Scheduled station prefetches by result",
			},
			[]string{"provider", "result"},
		),
		APIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hydro_api_request_duration_seconds",
				Help:    "HTTP API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

// ObserveRequest implements transport.Recorder.
func (m *Metrics) ObserveRequest(provider string, resource hydro.Resource, outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(provider, string(resource), outcome).Inc()
}

// ObservePurge counts purged cache entries.
func (m *Metrics) ObservePurge(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CachePurged.Add(float64(n))
}

// ObservePrefetch counts one scheduled prefetch.
func (m *Metrics) ObservePrefetch(provider, result string) {
	if m == nil {
		return
	}
	m.PrefetchRuns.WithLabelValues(provider, result).Inc()
}

// ObserveAPI records the latency of one API request.
func (m *Metrics) ObserveAPI(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.APIDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
