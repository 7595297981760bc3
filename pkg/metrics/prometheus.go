// Package metrics provides Prometheus metrics for the Argos telemetry service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the Argos service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Decoding
	framesDecoded prometheus.Counter
	decodeErrors  prometheus.Counter
	checksums     *prometheus.CounterVec

	// Selection
	selections        *prometheus.CounterVec
	passesEvaluated   prometheus.Counter
	evaluationLatency prometheus.Histogram

	// Ingestion
	batches *prometheus.CounterVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Repository
	storeRecords prometheus.Gauge
	storeLatency *prometheus.HistogramVec

	// Publishing
	publishes *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "argos",
		subsystem:        "telemetry",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.framesDecoded = auto.NewCounter(m.counterOpts("frames_decoded_total", "Total number of frames decoded"))
	m.decodeErrors = auto.NewCounter(m.counterOpts("decode_errors_total", "Total number of frames rejected as malformed"))
	m.checksums = auto.NewCounterVec(m.counterOpts("checksums_total", "Checksum verifications by outcome"), []string{"valid"})

	m.selections = auto.NewCounterVec(m.counterOpts("selections_total", "Pass selections by quality tier"), []string{"tier"})
	m.passesEvaluated = auto.NewCounter(m.counterOpts("passes_evaluated_total", "Total number of passes evaluated"))
	m.evaluationLatency = auto.NewHistogram(m.histogramOpts("evaluation_latency_milliseconds", "Batch evaluation latency in milliseconds"))

	m.batches = auto.NewCounterVec(m.counterOpts("batches_total", "Submitted batches by outcome"), []string{"outcome"})

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current size of the batch queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Total number of batches enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Total number of batches dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Total number of enqueue errors"))

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured number of workers"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Number of workers currently evaluating a batch"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds"))
	m.workerErrorRate = auto.NewCounter(m.counterOpts("worker_errors_total", "Total number of worker errors"))

	m.storeRecords = auto.NewGauge(m.gaugeOpts("store_records", "Number of platforms with a stored evaluation"))
	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_latency_milliseconds", "Store operation latency in milliseconds"), []string{"op"})

	m.publishes = auto.NewCounterVec(m.counterOpts("publishes_total", "Published evaluations by result"), []string{"result"})

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Total number of errors by component"),
		[]string{"component", "error_type"},
	)
	m.errorRateByEndpoint = auto.NewCounterVec(
		m.counterOpts("errors_by_endpoint_total", "Total number of errors by endpoint"),
		[]string{"endpoint", "method", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
}

// RecordFrameDecoded increments the decoded frames counter.
func (m *Manager) RecordFrameDecoded() { m.framesDecoded.Inc() }

// RecordDecodeError increments the malformed frames counter.
func (m *Manager) RecordDecodeError() { m.decodeErrors.Inc() }

// RecordChecksum counts one checksum verification.
func (m *Manager) RecordChecksum(valid bool) {
	label := "false"
	if valid {
		label = "true"
	}
	m.checksums.WithLabelValues(label).Inc()
}

// RecordSelection counts one pass selection at the given tier name.
func (m *Manager) RecordSelection(tier string) {
	m.passesEvaluated.Inc()
	m.selections.WithLabelValues(tier).Inc()
}

// RecordEvaluationLatency records batch evaluation latency in milliseconds.
func (m *Manager) RecordEvaluationLatency(latencyMs float64) { m.evaluationLatency.Observe(latencyMs) }

// RecordBatch counts a submitted batch by outcome (accepted, duplicate, rejected).
func (m *Manager) RecordBatch(outcome string) { m.batches.WithLabelValues(outcome).Inc() }

// UpdateQueue sets size, capacity and utilization of the batch queue.
func (m *Manager) UpdateQueue(size, capacity int) {
	m.queueSize.Set(float64(size))
	m.queueCapacity.Set(float64(capacity))
	if capacity > 0 {
		m.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func (m *Manager) RecordQueueEnqueue() { m.queueEnqueueRate.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func (m *Manager) RecordQueueDequeue() { m.queueDequeueRate.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func (m *Manager) RecordQueueEnqueueError() { m.queueEnqueueErrors.Inc() }

// UpdateWorkerCount sets the configured worker count.
func (m *Manager) UpdateWorkerCount(count int) { m.workerCount.Set(float64(count)) }

// AddWorkerActive moves the active worker gauge by delta.
func (m *Manager) AddWorkerActive(delta int) { m.workerActiveCount.Add(float64(delta)) }

// RecordWorkerProcessingLatency records worker processing latency.
func (m *Manager) RecordWorkerProcessingLatency(latencyMs float64) {
	m.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func (m *Manager) RecordWorkerError() { m.workerErrorRate.Inc() }

// UpdateStoreRecords sets the number of platforms with a stored evaluation.
func (m *Manager) UpdateStoreRecords(count int) { m.storeRecords.Set(float64(count)) }

// RecordStoreLatency records the latency of a store operation.
func (m *Manager) RecordStoreLatency(op string, latencyMs float64) {
	m.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordPublish counts a publish attempt.
func (m *Manager) RecordPublish(ok bool) {
	label := "error"
	if ok {
		label = "ok"
	}
	m.publishes.WithLabelValues(label).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Manager) RecordHTTPRequest(endpoint, method, statusCode string) {
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func (m *Manager) RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func (m *Manager) RecordErrorByComponent(component, errorType string) {
	m.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func (m *Manager) RecordErrorByEndpoint(endpoint, method, errorType string) {
	m.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystem sets the memory usage and goroutine gauges.
func (m *Manager) UpdateSystem(memBytes uint64, goroutines int) {
	m.systemMemoryUsage.Set(float64(memBytes))
	m.systemGoroutineCount.Set(float64(goroutines))
}

// Package-level helpers write to the global manager.

// RecordFrameDecoded increments the decoded frames counter.
func RecordFrameDecoded() { globalManager.RecordFrameDecoded() }

// RecordDecodeError increments the malformed frames counter.
func RecordDecodeError() { globalManager.RecordDecodeError() }

// RecordChecksum counts one checksum verification.
func RecordChecksum(valid bool) { globalManager.RecordChecksum(valid) }

// RecordSelection counts one pass selection at the given tier name.
func RecordSelection(tier string) { globalManager.RecordSelection(tier) }

// RecordEvaluationLatency records batch evaluation latency in milliseconds.
func RecordEvaluationLatency(latencyMs float64) { globalManager.RecordEvaluationLatency(latencyMs) }

// RecordBatch counts a submitted batch by outcome.
func RecordBatch(outcome string) { globalManager.RecordBatch(outcome) }

// UpdateQueue sets size, capacity and utilization of the batch queue.
func UpdateQueue(size, capacity int) { globalManager.UpdateQueue(size, capacity) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.RecordQueueEnqueue() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.RecordQueueDequeue() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.RecordQueueEnqueueError() }

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) { globalManager.UpdateWorkerCount(count) }

// AddWorkerActive moves the active worker gauge by delta.
func AddWorkerActive(delta int) { globalManager.AddWorkerActive(delta) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.RecordWorkerProcessingLatency(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.RecordWorkerError() }

// UpdateStoreRecords sets the number of platforms with a stored evaluation.
func UpdateStoreRecords(count int) { globalManager.UpdateStoreRecords(count) }

// RecordStoreLatency records the latency of a store operation.
func RecordStoreLatency(op string, latencyMs float64) { globalManager.RecordStoreLatency(op, latencyMs) }

// RecordPublish counts a publish attempt.
func RecordPublish(ok bool) { globalManager.RecordPublish(ok) }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.RecordHTTPRequest(endpoint, method, statusCode)
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.RecordHTTPRequestDuration(endpoint, method, statusCode, duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.RecordErrorByComponent(component, errorType)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.RecordErrorByEndpoint(endpoint, method, errorType)
}

// UpdateSystem sets the memory usage and goroutine gauges.
func UpdateSystem(memBytes uint64, goroutines int) { globalManager.UpdateSystem(memBytes, goroutines) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
