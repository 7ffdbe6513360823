package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/pkg/jobs"
)

const metricsNamespace = "demande_api"

// MetricsService owns the Prometheus registry and keeps running totals for
// the JSON summary served to administrators.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	transitionFails *prometheus.CounterVec

	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
	requests      atomic.Uint64
	requestNanos  atomic.Uint64
	dbQueries     atomic.Uint64
	dbQueryNanos  atomic.Uint64
	transitionsOK atomic.Uint64

	realtimeClients atomic.Pointer[func() int]
}

// NewMetricsService builds a private registry with the HTTP, cache, database
// and workflow collectors plus the standard Go runtime collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	m := &MetricsService{registry: registry}

	m.requestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
	m.cacheLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "cache_read_seconds",
		Help:      "Latency of dashboard cache reads.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	m.cacheWrite = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "cache_write_seconds",
		Help:      "Latency of dashboard cache writes.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	m.cacheLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cache_lookups_total",
		Help:      "Dashboard cache lookups by result.",
	}, []string{"result"})
	m.dbQueryDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "db_query_duration_seconds",
		Help:      "Duration of instrumented database queries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"query"})
	m.transitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "transitions_total",
		Help:      "Workflow transitions applied, by action and status change.",
	}, []string{"action", "from", "to"})
	m.transitionFails = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "transition_failures_total",
		Help:      "Workflow transitions refused, by action and error code.",
	}, []string{"action", "code"})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "realtime_clients",
		Help:      "Open websocket connections.",
	}, func() float64 { return float64(m.realtimeClientCount()) })

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// WatchRealtimeClients reports the websocket hub size through the registry.
func (m *MetricsService) WatchRealtimeClients(count func() int) {
	if m == nil || count == nil {
		return
	}
	m.realtimeClients.Store(&count)
}

// WatchQueue exports the totals of a background queue. Watching the same
// queue name twice keeps the first registration.
func (m *MetricsService) WatchQueue(name string, stats func() jobs.Stats) {
	if m == nil || stats == nil {
		return
	}
	counters := map[string]func(jobs.Stats) uint64{
		"enqueued":  func(s jobs.Stats) uint64 { return s.Enqueued },
		"processed": func(s jobs.Stats) uint64 { return s.Processed },
		"retried":   func(s jobs.Stats) uint64 { return s.Retried },
		"failed":    func(s jobs.Stats) uint64 { return s.Failed },
		"dropped":   func(s jobs.Stats) uint64 { return s.Dropped },
	}
	for outcome, pick := range counters {
		pick := pick // per-iteration copy; go.mod targets Go 1.21 loop semantics
		collector := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "queue_jobs_total",
			Help:        "Background jobs by queue and outcome.",
			ConstLabels: prometheus.Labels{"queue": name, "outcome": outcome},
		}, func() float64 { return float64(pick(stats())) })
		_ = m.registry.Register(collector)
	}
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
	m.requests.Add(1)
	m.requestNanos.Add(uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a cache read and whether it hit.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		m.cacheHits.Add(1)
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
	m.cacheMisses.Add(1)
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	m.dbQueries.Add(1)
	m.dbQueryNanos.Add(uint64(duration.Nanoseconds()))
}

// ObserveTransition counts an applied approve or reject.
func (m *MetricsService) ObserveTransition(action, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, from, to).Inc()
	m.transitionsOK.Add(1)
}

// ObserveTransitionFailure counts a refused approve or reject by error code.
func (m *MetricsService) ObserveTransitionFailure(action, code string) {
	if m == nil {
		return
	}
	m.transitionFails.WithLabelValues(action, code).Inc()
}

// Snapshot returns aggregated metrics for the admin summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits, misses := m.cacheHits.Load(), m.cacheMisses.Load()
	requests, dbQueries := m.requests.Load(), m.dbQueries.Load()

	var ratio float64
	if lookups := hits + misses; lookups > 0 {
		ratio = float64(hits) / float64(lookups)
	}

	return models.SystemMetrics{
		CacheHitRatio:            ratio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: meanMillis(m.requestNanos.Load(), requests),
		DBQueryCount:             dbQueries,
		AverageDBQueryDurationMs: meanMillis(m.dbQueryNanos.Load(), dbQueries),
		TransitionsTotal:         m.transitionsOK.Load(),
		RealtimeClients:          m.realtimeClientCount(),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func (m *MetricsService) realtimeClientCount() int {
	count := m.realtimeClients.Load()
	if count == nil {
		return 0
	}
	return (*count)()
}

func meanMillis(totalNanos, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return float64(totalNanos) / float64(n) / float64(time.Millisecond)
}
