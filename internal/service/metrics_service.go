package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/student-results-api/internal/models"
)

// Recompute outcomes used as metric labels.
const (
	RecomputeRefreshed = "refreshed"
	RecomputeFailed    = "failed"
	RecomputeConflict  = "conflict"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	cacheLatency      prometheus.Observer
	cacheWrite        prometheus.Observer
	cacheHitRatio     prometheus.Gauge
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	recomputeTotal    *prometheus.CounterVec
	recomputeDuration prometheus.Observer
	orphanedMarks     prometheus.Counter
	markWrites        *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	refreshedCount       uint64
	failedCount          uint64
	conflictCount        uint64
	orphanCount          uint64
}

// NewMetricsService registers core Prometheus collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	recomputeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "summary_recompute_total",
		Help: "Student summary recomputes by outcome",
	}, []string{"outcome"})

	recomputeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "summary_recompute_duration_seconds",
		Help:    "Time spent reloading marks and rewriting a student summary",
		Buckets: prometheus.DefBuckets,
	})

	orphanedMarks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orphaned_marks_skipped_total",
		Help: "Marks left out of a summary because their subject no longer exists",
	})

	markWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mark_writes_total",
		Help: "Mark mutations by operation",
	}, []string{"operation"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		recomputeTotal, recomputeDuration, orphanedMarks, markWrites, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		recomputeTotal:    recomputeTotal,
		recomputeDuration: recomputeDuration,
		orphanedMarks:     orphanedMarks,
		markWrites:        markWrites,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mostly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveRecompute records one recompute attempt.
func (m *MetricsService) ObserveRecompute(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.recomputeTotal.WithLabelValues(outcome).Inc()
	switch outcome {
	case RecomputeRefreshed:
		atomic.AddUint64(&m.refreshedCount, 1)
		m.recomputeDuration.Observe(duration.Seconds())
	case RecomputeFailed:
		atomic.AddUint64(&m.failedCount, 1)
		m.recomputeDuration.Observe(duration.Seconds())
	case RecomputeConflict:
		atomic.AddUint64(&m.conflictCount, 1)
	}
}

// AddOrphanedMarks counts marks skipped during aggregation.
func (m *MetricsService) AddOrphanedMarks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphanedMarks.Add(float64(n))
	atomic.AddUint64(&m.orphanCount, uint64(n))
}

// RecordMarkWrite counts a mark mutation.
func (m *MetricsService) RecordMarkWrite(operation string) {
	if m == nil {
		return
	}
	m.markWrites.WithLabelValues(operation).Inc()
}

// Snapshot returns aggregated metrics suitable for the metrics summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHits:                hits,
		CacheMisses:              misses,
		CacheHitRatio:            cacheRatio,
		RecomputesRefreshed:      atomic.LoadUint64(&m.refreshedCount),
		RecomputesFailed:         atomic.LoadUint64(&m.failedCount),
		RecomputeConflicts:       atomic.LoadUint64(&m.conflictCount),
		OrphanedMarksSkipped:     atomic.LoadUint64(&m.orphanCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
