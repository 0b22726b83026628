// Package metrics provides Prometheus metrics for the songrank service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ranking sessions
	sessionsCreated   prometheus.Counter
	sessionsDeleted   prometheus.Counter
	sessionsActive    prometheus.Gauge
	decisions         *prometheus.CounterVec
	undos             prometheus.Counter
	duplicateRequests prometheus.Counter
	rankingsCompleted prometheus.Counter
	rankingsWithdrawn prometheus.Counter
	decisionsPerRank  prometheus.Histogram

	// Community standings
	eventsProcessed   prometheus.Counter
	scoringLatency    prometheus.Histogram
	standingsUpdates  prometheus.Counter
	standingsEntries  prometheus.Gauge
	standingsUpdateMs prometheus.Histogram
	standingsQueryMs  prometheus.Histogram

	// Snapshots of the standings store
	snapshotRebuildMs   prometheus.Histogram
	snapshotLastUnix    prometheus.Gauge
	snapshotCount       prometheus.Counter
	snapshotLastLatency prometheus.Gauge

	// Storage backends
	sessionStoreLatency *prometheus.HistogramVec
	catalogQueryLatency prometheus.Histogram
	catalogEntries      prometheus.Gauge

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	queueLatency       prometheus.Histogram

	// Workers
	workerCount   prometheus.Gauge
	workerActive  prometheus.Gauge
	workerIdle    prometheus.Gauge
	workerLatency prometheus.Histogram
	workerErrors  prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByType      *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// Process
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

// NewManager creates a metrics manager. Collectors register on the given
// registry, prometheus.DefaultRegisterer otherwise.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "songrank",
		subsystem:        "ranking",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	b := m.histogramBuckets

	m.sessionsCreated = m.counter("sessions_created_total", "Total number of ranking sessions created")
	m.sessionsDeleted = m.counter("sessions_deleted_total", "Total number of ranking sessions deleted")
	m.sessionsActive = m.gauge("sessions_active", "Sessions currently held by the session store")
	m.decisions = m.counterVec("decisions_total", "Pairwise decisions recorded, by preferred side", "side")
	m.undos = m.counter("undos_total", "Decisions withdrawn by undo")
	m.duplicateRequests = m.counter("duplicate_requests_total", "Decide or undo requests ignored because their request id was already applied")
	m.rankingsCompleted = m.counter("rankings_completed_total", "Sessions that reached a complete ordering")
	m.rankingsWithdrawn = m.counter("rankings_withdrawn_total", "Completed sessions that were undone, resubmitted or deleted")
	m.decisionsPerRank = m.histogram("decisions_per_ranking", "Decisions needed to complete a ranking",
		[]float64{1, 3, 10, 25, 50, 100, 150, 200, 300, 500})

	m.eventsProcessed = m.counter("ranking_events_processed_total", "Ranking events applied to the community standings")
	m.scoringLatency = m.histogram("scoring_latency_milliseconds", "Time to turn a ranking into points", b)
	m.standingsUpdates = m.counter("standings_updates_total", "Contributions written to the community standings")
	m.standingsEntries = m.gauge("standings_entries", "Entries with a non-zero community score")
	m.standingsUpdateMs = m.histogram("standings_update_latency_milliseconds", "Standings write latency in milliseconds", b)
	m.standingsQueryMs = m.histogram("standings_query_latency_milliseconds", "Standings read latency in milliseconds", b)

	m.snapshotRebuildMs = m.histogram("standings_snapshot_rebuild_duration_milliseconds", "Time to rebuild a standings snapshot",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
	m.snapshotLastUnix = m.gauge("standings_snapshot_last_unix", "Unix time of the last standings snapshot")
	m.snapshotCount = m.counter("standings_snapshot_total", "Standings snapshots published")
	m.snapshotLastLatency = m.gauge("standings_snapshot_last_duration_milliseconds", "Duration of the last standings snapshot")

	m.sessionStoreLatency = m.histogramVec("session_store_latency_milliseconds", "Session store operation latency", "backend", "op")
	m.catalogQueryLatency = m.histogram("catalog_query_latency_milliseconds", "Catalog query latency in milliseconds", b)
	m.catalogEntries = m.gauge("catalog_entries_loaded", "Entries returned by the last catalog query")

	m.queueSize = m.gauge("queue_size", "Ranking events waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue fill ratio (0-1)")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Ranking events enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Ranking events dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Enqueue attempts rejected")
	m.queueLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds", b)

	m.workerCount = m.gauge("worker_count", "Configured workers")
	m.workerActive = m.gauge("worker_active_count", "Workers currently applying an event")
	m.workerIdle = m.gauge("worker_idle_count", "Workers waiting for an event")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Time to apply one event", b)
	m.workerErrors = m.counter("worker_errors_total", "Events a worker failed to apply")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorsByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Ranking sessions.

// RecordSessionCreated increments the created sessions counter.
func RecordSessionCreated() { globalManager.sessionsCreated.Inc() }

// RecordSessionDeleted increments the deleted sessions counter.
func RecordSessionDeleted() { globalManager.sessionsDeleted.Inc() }

// UpdateSessionsActive sets the number of stored sessions.
func UpdateSessionsActive(n int) { globalManager.sessionsActive.Set(float64(n)) }

// RecordDecision counts a decision by the side that won.
func RecordDecision(preferLeft bool) {
	side := "right"
	if preferLeft {
		side = "left"
	}
	globalManager.decisions.WithLabelValues(side).Inc()
}

// RecordUndo increments the undo counter.
func RecordUndo() { globalManager.undos.Inc() }

// RecordDuplicateRequest increments the duplicate request counter.
func RecordDuplicateRequest() { globalManager.duplicateRequests.Inc() }

// RecordRankingCompleted counts a completion and the decisions it took.
func RecordRankingCompleted(decisions int) {
	globalManager.rankingsCompleted.Inc()
	globalManager.decisionsPerRank.Observe(float64(decisions))
}

// RecordRankingWithdrawn counts a completed ranking leaving the standings.
func RecordRankingWithdrawn() { globalManager.rankingsWithdrawn.Inc() }

// Community standings.

// RecordEventProcessed increments the processed ranking events counter.
func RecordEventProcessed() { globalManager.eventsProcessed.Inc() }

// RecordScoringLatency records scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) { globalManager.scoringLatency.Observe(latencyMs) }

// RecordStandingsUpdate increments the standings update counter.
func RecordStandingsUpdate() { globalManager.standingsUpdates.Inc() }

// UpdateStandingsEntries sets the number of scored entries.
func UpdateStandingsEntries(n int) { globalManager.standingsEntries.Set(float64(n)) }

// RecordStandingsUpdateLatency records a standings write latency.
func RecordStandingsUpdateLatency(latencyMs float64) {
	globalManager.standingsUpdateMs.Observe(latencyMs)
}

// RecordStandingsQueryLatency records a standings read latency.
func RecordStandingsQueryLatency(latencyMs float64) {
	globalManager.standingsQueryMs.Observe(latencyMs)
}

// RecordSnapshot records a published standings snapshot.
func RecordSnapshot(durationMs float64, unix int64) {
	globalManager.snapshotRebuildMs.Observe(durationMs)
	globalManager.snapshotLastLatency.Set(durationMs)
	globalManager.snapshotLastUnix.Set(float64(unix))
	globalManager.snapshotCount.Inc()
}

// Storage backends.

// RecordSessionStoreLatency records one session store call.
func RecordSessionStoreLatency(backend, op string, latencyMs float64) {
	globalManager.sessionStoreLatency.WithLabelValues(backend, op).Observe(latencyMs)
}

// RecordCatalogQuery records a catalog query and the number of entries it returned.
func RecordCatalogQuery(latencyMs float64, entries int) {
	globalManager.catalogQueryLatency.Observe(latencyMs)
	globalManager.catalogEntries.Set(float64(entries))
}

// Queue.

// UpdateQueueSize sets the queue backlog.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue fill ratio.
func UpdateQueueUtilization(ratio float64) { globalManager.queueUtilization.Set(ratio) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError increments the rejected enqueue counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordQueueProcessingLatency records enqueue latency in milliseconds.
func RecordQueueProcessingLatency(latencyMs float64) { globalManager.queueLatency.Observe(latencyMs) }

// Workers.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// UpdateWorkerActiveCount sets the busy worker count.
func UpdateWorkerActiveCount(count int) { globalManager.workerActive.Set(float64(count)) }

// UpdateWorkerIdleCount sets the idle worker count.
func UpdateWorkerIdleCount(count int) { globalManager.workerIdle.Set(float64(count)) }

// RecordWorkerProcessingLatency records the time to apply one event.
func RecordWorkerProcessingLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// HTTP.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorsByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// Process.

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Value reads the current value of a plain counter or gauge on the global
// registry by its short name (without namespace and subsystem). It backs the
// /stats endpoint and tests.
func Value(name string) (float64, error) {
	full := prometheus.BuildFQName(globalManager.namespace, globalManager.subsystem, name)
	families, err := customRegistry.Gather()
	if err != nil {
		return 0, fmt.Errorf("gather: %w", err)
	}
	for _, f := range families {
		if f.GetName() != full {
			continue
		}
		var total float64
		for _, metric := range f.GetMetric() {
			total += sample(metric)
		}
		return total, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
}

func sample(metric *dto.Metric) float64 {
	switch {
	case metric.GetCounter() != nil:
		return metric.GetCounter().GetValue()
	case metric.GetGauge() != nil:
		return metric.GetGauge().GetValue()
	case metric.GetHistogram() != nil:
		return float64(metric.GetHistogram().GetSampleCount())
	default:
		return 0
	}
}
