// Package metrics exposes Prometheus counters for the HTTP API and the
// subscription refresher.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several instances (one per test server) can
// coexist. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	refreshRuns       *prometheus.CounterVec
	refreshDuration   prometheus.Histogram
	importedItems     *prometheus.GaugeVec
	completions       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "planner_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		refreshRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_refresh_runs_total",
			Help: "Subscription refreshes by source and result (ok, cached, error).",
		}, []string{"source", "result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_refresh_duration_seconds",
			Help:    "Duration of a full refresh over all subscriptions.",
			Buckets: prometheus.DefBuckets,
		}),
		importedItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "planner_imported_items",
			Help: "Items currently imported from each subscription.",
		}, []string{"source"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_completions_recorded_total",
			Help: "Completions recorded by kind; duplicates are not counted.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.refreshRuns,
		m.refreshDuration,
		m.importedItems,
		m.completions,
	)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request count and latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RefreshSource(source, result string, items int) {
	if m == nil {
		return
	}
	m.refreshRuns.WithLabelValues(source, result).Inc()
	if result != "error" {
		m.importedItems.WithLabelValues(source).Set(float64(items))
	}
}

func (m *Metrics) RefreshDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.refreshDuration.Observe(d.Seconds())
}

func (m *Metrics) CompletionRecorded(kind string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(kind).Inc()
}
