// Package metrics exposes Prometheus instrumentation for the
// interrogation pipeline.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	interrogationsTotal   *prometheus.CounterVec
	interrogationDuration *prometheus.HistogramVec
	headerPacketsTotal    *prometheus.CounterVec
	storageOperations     *prometheus.CounterVec
	storageOpDuration     *prometheus.HistogramVec
	storageOpErrors       *prometheus.CounterVec
	centralRequestsTotal  *prometheus.CounterVec
	clientCacheHits       prometheus.Counter
	clientCacheMisses     prometheus.Counter
	clientRetries         prometheus.Counter
	claimsReclaimed       prometheus.Counter
	filesRemovedTotal     prometheus.Counter
	activeWorkers         prometheus.Gauge
	goroutines            prometheus.Gauge
	memoryAllocBytes      prometheus.Gauge
	memorySysBytes        prometheus.Gauge
}

// NewMetrics creates a new metrics instance on the default registry.
func NewMetrics() *Metrics {
	m := newMetricsWithRegistry(prometheus.DefaultRegisterer)
	m.gatherer = prometheus.DefaultGatherer
	return m
}

// NewMetricsWithRegistry creates a new metrics instance with a custom registry (for testing).
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	m := newMetricsWithRegistry(reg)
	m.gatherer = reg
	return m
}

func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		interrogationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interrogations_total",
				Help: "Total number of completed file interrogations",
			},
			[]string{"outcome"}, // "accepted", "rejected", "failed"
		),
		interrogationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "interrogation_duration_seconds",
				Help:    "Duration of a full file interrogation in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		headerPacketsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "header_packets_total",
				Help: "Total number of header packets processed during rewrapping",
			},
			[]string{"action"}, // "kept", "dropped"
		),
		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_operations_total",
				Help: "Total number of object storage operations",
			},
			[]string{"operation", "bucket"},
		),
		storageOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_operation_duration_seconds",
				Help:    "Object storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "bucket"},
		),
		storageOpErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_operation_errors_total",
				Help: "Total number of object storage operation errors",
			},
			[]string{"operation", "bucket"},
		),
		centralRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "central_requests_total",
				Help: "Total number of requests to the central API",
			},
			[]string{"operation", "result"}, // result: "ok", "error"
		),
		clientCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "client_cache_hits_total",
				Help: "Total number of central API responses served from cache",
			},
		),
		clientCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "client_cache_misses_total",
				Help: "Total number of cacheable central API requests not found in cache",
			},
		),
		clientRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "client_retries_total",
				Help: "Total number of central API request retries",
			},
		),
		claimsReclaimed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "claims_reclaimed_total",
				Help: "Total number of stale processing claims taken over",
			},
		),
		filesRemovedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "files_removed_total",
				Help: "Total number of objects removed by the cleaner",
			},
		),
		activeWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_workers",
				Help: "Number of workers currently interrogating a file",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "goroutines_total",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
	}
}

// RecordInterrogation records a completed interrogation with its outcome.
func (m *Metrics) RecordInterrogation(outcome string, duration time.Duration) {
	m.interrogationsTotal.WithLabelValues(outcome).Inc()
	m.interrogationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordHeaderPackets records how many packets survived a rewrap and
// how many were dropped as undecryptable.
func (m *Metrics) RecordHeaderPackets(kept, dropped int) {
	m.headerPacketsTotal.WithLabelValues("kept").Add(float64(kept))
	m.headerPacketsTotal.WithLabelValues("dropped").Add(float64(dropped))
}

// RecordStorageOperation records an object storage operation.
func (m *Metrics) RecordStorageOperation(operation, bucket string, duration time.Duration, err error) {
	m.storageOperations.WithLabelValues(operation, bucket).Inc()
	m.storageOpDuration.WithLabelValues(operation, bucket).Observe(duration.Seconds())
	if err != nil {
		m.storageOpErrors.WithLabelValues(operation, bucket).Inc()
	}
}

// RecordCentralRequest records a call to the central API.
func (m *Metrics) RecordCentralRequest(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.centralRequestsTotal.WithLabelValues(operation, result).Inc()
}

// RecordCacheHit records a response served from the client cache.
func (m *Metrics) RecordCacheHit() { m.clientCacheHits.Inc() }

// RecordCacheMiss records a cacheable request that missed the cache.
func (m *Metrics) RecordCacheMiss() { m.clientCacheMisses.Inc() }

// RecordRetry records a retried client request.
func (m *Metrics) RecordRetry() { m.clientRetries.Inc() }

// RecordClaimReclaimed records the takeover of a stale processing claim.
func (m *Metrics) RecordClaimReclaimed() {
	m.claimsReclaimed.Inc()
}

// RecordFilesRemoved records objects removed by the cleaner.
func (m *Metrics) RecordFilesRemoved(n int) {
	m.filesRemovedTotal.Add(float64(n))
}

// WorkerStarted and WorkerFinished track the active worker gauge.
func (m *Metrics) WorkerStarted()  { m.activeWorkers.Inc() }
func (m *Metrics) WorkerFinished() { m.activeWorkers.Dec() }

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// StartSystemMetricsCollector starts a goroutine that periodically updates system metrics.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer != nil {
		return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
