package service

import (
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	ledgerPostings  *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	sweepRuns       *prometheus.CounterVec
	sweepFailures   *prometheus.CounterVec
	sweepDuration   *prometheus.HistogramVec
	jobAttempts     *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
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

	ledgerPostings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_postings_total",
		Help: "Points ledger entries appended, by kind",
	}, []string{"kind"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infringement_transitions_total",
		Help: "Infringement status transitions",
	}, []string{"from", "to"})

	sweepRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_runs_total",
		Help: "Batch sweep executions",
	}, []string{"sweep"})

	sweepFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_record_failures_total",
		Help: "Records a sweep failed to process",
	}, []string{"sweep"})

	sweepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of batch sweeps",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"sweep"})

	jobAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_attempts_total",
		Help: "Background job attempts by outcome",
	}, []string{"type", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		ledgerPostings, transitions, sweepRuns, sweepFailures, sweepDuration, jobAttempts, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		ledgerPostings:  ledgerPostings,
		transitions:     transitions,
		sweepRuns:       sweepRuns,
		sweepFailures:   sweepFailures,
		sweepDuration:   sweepDuration,
		jobAttempts:     jobAttempts,
	}
}

// RegisterDBStats exports connection pool statistics of db under the given name.
func (m *MetricsService) RegisterDBStats(db *sql.DB, name string) error {
	if m == nil || db == nil {
		return nil
	}
	return m.registry.Register(collectors.NewDBStatsCollector(db, name))
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

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
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
	if total := hits + misses; total > 0 {
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

// RecordLedgerPosting counts appended ledger entries.
func (m *MetricsService) RecordLedgerPosting(kind string, entries int) {
	if m == nil || entries <= 0 {
		return
	}
	m.ledgerPostings.WithLabelValues(kind).Add(float64(entries))
}

// RecordTransition counts infringement status changes.
func (m *MetricsService) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObserveSweep records one sweep run.
func (m *MetricsService) ObserveSweep(name string, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(name).Inc()
	if failed > 0 {
		m.sweepFailures.WithLabelValues(name).Add(float64(failed))
	}
	m.sweepDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// ObserveJob records a background job attempt.
func (m *MetricsService) ObserveJob(jobType string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.jobAttempts.WithLabelValues(jobType, outcome).Inc()
}
