// Package metrics provides Prometheus metrics for the etude practice service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the etude service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	analysisBuckets  []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Pipeline metrics
	omrAnalyses         *prometheus.CounterVec
	omrDuration         *prometheus.HistogramVec
	omrEngineSelected   *prometheus.GaugeVec
	omrProbeFailures    *prometheus.CounterVec
	performanceAnalyses *prometheus.CounterVec
	performanceDuration prometheus.Histogram
	overallScore        prometheus.Histogram
	insufficientData    prometheus.Counter
	historyComparisons  *prometheus.CounterVec
	piecesImported      prometheus.Counter
	sessionsRecorded    prometheus.Counter

	// Job queue and workers
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueUtilization        prometheus.Gauge
	queueEnqueued           prometheus.Counter
	queueDequeued           prometheus.Counter
	queueEnqueueErrors      *prometheus.CounterVec
	workerCount             prometheus.Gauge
	workerActive            prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter
	jobOutcomes             *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec

	// Repository
	repositoryQueryLatency *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "etude",
		subsystem:        "practice",
		histogramBuckets: prometheus.DefBuckets,
		analysisBuckets:  []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // metric catalogue
	m.omrAnalyses = m.counterVec("omr_analyses_total",
		"Sheet music recognitions by engine and outcome", "engine", "outcome")
	m.omrDuration = m.histogramVec("omr_analysis_duration_seconds",
		"Sheet music recognition latency in seconds", m.analysisBuckets, "engine")
	m.omrEngineSelected = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "omr_engine_selected",
		Help:        "1 for the recognition engine bound at startup",
		ConstLabels: m.constLabels,
	}, []string{"engine"})
	m.omrProbeFailures = m.counterVec("omr_probe_failures_total",
		"Recognition engine availability probes that failed or timed out", "engine")
	m.performanceAnalyses = m.counterVec("performance_analyses_total",
		"Recording analyses by instrument and outcome", "instrument", "outcome")
	m.performanceDuration = m.histogram("performance_analysis_duration_seconds",
		"Recording analysis latency in seconds", m.analysisBuckets)
	m.overallScore = m.histogram("feedback_overall_score",
		"Distribution of overall practice scores",
		[]float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100})
	m.insufficientData = m.counter("feedback_insufficient_data_total",
		"Feedback reports produced without a usable score")
	m.historyComparisons = m.counterVec("history_comparisons_total",
		"Session comparisons by presence of a previous attempt", "has_previous")
	m.piecesImported = m.counter("pieces_total", "Pieces imported from sheet music")
	m.sessionsRecorded = m.counter("sessions_total", "Practice sessions recorded")

	m.queueSize = m.gauge("queue_size", "Current number of queued practice jobs")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum number of queued practice jobs")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size divided by capacity")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Jobs accepted by the queue")
	m.queueDequeued = m.counter("queue_dequeued_total", "Jobs handed to workers")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total",
		"Jobs rejected by the queue", "reason")
	m.workerCount = m.gauge("worker_count", "Configured number of workers")
	m.workerActive = m.gauge("worker_active_count", "Workers currently running a job")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time spent by a worker on one job in milliseconds",
		[]float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000})
	m.workerErrors = m.counter("worker_errors_total", "Jobs that finished with an error")
	m.jobOutcomes = m.counterVec("jobs_total", "Finished practice jobs by status", "status")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets, "endpoint", "method", "status_code")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total",
		"HTTP error responses by endpoint, method and error type", "endpoint", "method", "error_type")

	m.repositoryQueryLatency = m.histogramVec("repository_query_latency_milliseconds",
		"Repository operation latency in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500}, "operation")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordOMRAnalysis records one recognition attempt.
func RecordOMRAnalysis(engine, outcome string, d time.Duration) {
	globalManager.omrAnalyses.WithLabelValues(engine, outcome).Inc()
	globalManager.omrDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// SetSelectedEngine marks engine as the bound recognition engine.
func SetSelectedEngine(engine string) {
	globalManager.omrEngineSelected.Reset()
	globalManager.omrEngineSelected.WithLabelValues(engine).Set(1)
}

// RecordOMRProbeFailure counts an engine that failed its availability probe.
func RecordOMRProbeFailure(engine string) {
	globalManager.omrProbeFailures.WithLabelValues(engine).Inc()
}

// RecordPerformanceAnalysis records one recording analysis.
func RecordPerformanceAnalysis(instrument, outcome string, d time.Duration) {
	globalManager.performanceAnalyses.WithLabelValues(instrument, outcome).Inc()
	globalManager.performanceDuration.Observe(d.Seconds())
}

// RecordOverallScore observes a scored feedback report.
func RecordOverallScore(score int) {
	globalManager.overallScore.Observe(float64(score))
}

// RecordInsufficientData counts a report that could not be scored.
func RecordInsufficientData() {
	globalManager.insufficientData.Inc()
}

// RecordHistoryComparison counts a session comparison.
func RecordHistoryComparison(hasPrevious bool) {
	globalManager.historyComparisons.WithLabelValues(strconv.FormatBool(hasPrevious)).Inc()
}

// RecordPieceImported increments the imported pieces counter.
func RecordPieceImported() {
	globalManager.piecesImported.Inc()
}

// RecordSessionRecorded increments the recorded sessions counter.
func RecordSessionRecorded() {
	globalManager.sessionsRecorded.Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue counts an accepted job.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue counts a job handed to a worker.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError counts a rejected job.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerActive adjusts the number of busy workers.
func AddWorkerActive(delta float64) {
	globalManager.workerActive.Add(delta)
}

// RecordWorkerProcessingLatency records job processing time in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed job.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordJobOutcome counts a finished job by final status.
func RecordJobOutcome(status string) {
	globalManager.jobOutcomes.WithLabelValues(status).Inc()
}

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint counts an HTTP error response.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordRepositoryQueryLatency records a repository operation in milliseconds.
func RecordRepositoryQueryLatency(operation string, latencyMs float64) {
	globalManager.repositoryQueryLatency.WithLabelValues(operation).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records average GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
