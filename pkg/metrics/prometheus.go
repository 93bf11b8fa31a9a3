// Package metrics provides Prometheus metrics for the noticeledger service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream states reported by UpdateStreamState.
const (
	StreamDisconnected = 0
	StreamConnected    = 1
	StreamReconnecting = 2
)

// Manager manages all Prometheus metrics for the noticeledger service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Notice pipeline
	noticesReceived    prometheus.Counter
	noticesProcessed   prometheus.Counter
	noticesSkipped     *prometheus.CounterVec
	extractionErrors   *prometheus.CounterVec
	identitiesCreated  prometheus.Counter
	identityAmbiguous  prometheus.Counter
	retractions        prometheus.Counter
	transactionLatency prometheus.Histogram

	// Ledger
	ledgerAppends      prometheus.Counter
	ledgerAppendErrors prometheus.Counter
	ledgerCorruptRows  prometheus.Counter

	// Active window
	windowSize        prometheus.Gauge
	windowEvictions   prometheus.Counter
	windowCorruptRows prometheus.Counter
	windowWriteErrors prometheus.Counter
	backups           prometheus.Counter
	backupFailures    prometheus.Counter

	// Stream
	streamState        prometheus.Gauge
	reconnectAttempts  prometheus.Counter
	reconnectSuccesses prometheus.Counter
	heartbeatAge       prometheus.Gauge
	queueSize          prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	spoolDuplicates    prometheus.Counter

	// Sink
	sinkDelivered prometheus.Counter
	sinkDropped   prometheus.Counter

	// Catalog
	catalogReloads prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorRateByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "noticeledger",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.noticesReceived = m.counter("notices_received_total", "Total number of raw notices polled from the stream")
	m.noticesProcessed = m.counter("notices_processed_total", "Total number of notices committed to the ledger")
	m.noticesSkipped = m.counterVec("notices_skipped_total", "Notices dropped before the ledger, by reason", "reason")
	m.extractionErrors = m.counterVec("extraction_errors_total", "Extraction failures by facility", "facility")
	m.identitiesCreated = m.counter("identities_created_total", "Total number of new event identities")
	m.identityAmbiguous = m.counter("identity_ambiguous_total", "Notices matching more than one identity")
	m.retractions = m.counter("retractions_total", "Total number of false-trigger retractions")
	m.transactionLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("transaction_latency_milliseconds"),
		Help:        "Duration of one notice transaction in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})

	m.ledgerAppends = m.counter("ledger_appends_total", "Total number of ledger rows appended")
	m.ledgerAppendErrors = m.counter("ledger_append_errors_total", "Total number of failed ledger appends")
	m.ledgerCorruptRows = m.counter("ledger_corrupt_rows_total", "Malformed ledger rows skipped while scanning")

	m.windowSize = m.gauge("window_size", "Current number of events in the active window")
	m.windowEvictions = m.counter("window_evictions_total", "Least-recently-updated evictions from the active window")
	m.windowCorruptRows = m.counter("window_corrupt_rows_total", "Malformed active window rows dropped on load")
	m.windowWriteErrors = m.counter("window_write_errors_total", "Failed active window file writes")
	m.backups = m.counter("window_backups_total", "Active window backups written")
	m.backupFailures = m.counter("window_backup_failures_total", "Active window backups that failed")

	m.streamState = m.gauge("stream_state", "Stream connection state (0 disconnected, 1 connected, 2 reconnecting)")
	m.reconnectAttempts = m.counter("stream_reconnect_attempts_total", "Stream reconnect attempts")
	m.reconnectSuccesses = m.counter("stream_reconnect_successes_total", "Stream reconnects that replaced the handle")
	m.heartbeatAge = m.gauge("stream_heartbeat_age_seconds", "Seconds since the last heartbeat or message")
	m.queueSize = m.gauge("queue_size", "Current number of buffered stream messages")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Total number of messages buffered by a source")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Messages rejected by a full or closed source")
	m.spoolDuplicates = m.counter("spool_duplicates_total", "Spool files skipped because their content was already seen")

	m.sinkDelivered = m.counter("sink_delivered_total", "Summaries handed to the notification sink")
	m.sinkDropped = m.counter("sink_dropped_total", "Summaries dropped because the sink buffer was full")

	m.catalogReloads = m.counter("catalog_reloads_total", "Successful facility catalog reloads")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_request_duration_milliseconds"),
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: m.customLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Total number of errors by component", "component", "error_type")
}

// Enabled reports whether recording is switched on.
func (m *Manager) Enabled() bool { return m.enabled }

// RecordNoticeReceived counts a polled notice.
func RecordNoticeReceived() {
	if globalManager.enabled {
		globalManager.noticesReceived.Inc()
	}
}

// RecordNoticeProcessed counts a notice committed to the ledger.
func RecordNoticeProcessed() {
	if globalManager.enabled {
		globalManager.noticesProcessed.Inc()
	}
}

// RecordNoticeSkipped counts a notice dropped before the ledger.
func RecordNoticeSkipped(reason string) {
	if globalManager.enabled {
		globalManager.noticesSkipped.WithLabelValues(reason).Inc()
	}
}

// RecordExtractionError counts an extraction failure for facility.
func RecordExtractionError(facility string) {
	if globalManager.enabled {
		globalManager.extractionErrors.WithLabelValues(facility).Inc()
	}
}

// RecordIdentityCreated counts a newly named identity.
func RecordIdentityCreated() {
	if globalManager.enabled {
		globalManager.identitiesCreated.Inc()
	}
}

// RecordIdentityAmbiguous counts a notice matching several identities.
func RecordIdentityAmbiguous() {
	if globalManager.enabled {
		globalManager.identityAmbiguous.Inc()
	}
}

// RecordRetraction counts a false-trigger retraction.
func RecordRetraction() {
	if globalManager.enabled {
		globalManager.retractions.Inc()
	}
}

// RecordTransactionLatency records one notice transaction in milliseconds.
func RecordTransactionLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.transactionLatency.Observe(latencyMs)
	}
}

// RecordLedgerAppend counts an appended ledger row.
func RecordLedgerAppend() {
	if globalManager.enabled {
		globalManager.ledgerAppends.Inc()
	}
}

// RecordLedgerAppendError counts a failed ledger append.
func RecordLedgerAppendError() {
	if globalManager.enabled {
		globalManager.ledgerAppendErrors.Inc()
	}
}

// RecordLedgerCorruptRow counts a malformed ledger row.
func RecordLedgerCorruptRow() {
	if globalManager.enabled {
		globalManager.ledgerCorruptRows.Inc()
	}
}

// UpdateWindowSize sets the active window size.
func UpdateWindowSize(size int) {
	if globalManager.enabled {
		globalManager.windowSize.Set(float64(size))
	}
}

// RecordWindowEviction counts an LRU eviction.
func RecordWindowEviction() {
	if globalManager.enabled {
		globalManager.windowEvictions.Inc()
	}
}

// RecordWindowCorruptRow counts a malformed window row dropped on load.
func RecordWindowCorruptRow() {
	if globalManager.enabled {
		globalManager.windowCorruptRows.Inc()
	}
}

// RecordWindowWriteError counts a failed window file write.
func RecordWindowWriteError() {
	if globalManager.enabled {
		globalManager.windowWriteErrors.Inc()
	}
}

// RecordBackup counts a written backup.
func RecordBackup() {
	if globalManager.enabled {
		globalManager.backups.Inc()
	}
}

// RecordBackupFailure counts a failed backup.
func RecordBackupFailure() {
	if globalManager.enabled {
		globalManager.backupFailures.Inc()
	}
}

// UpdateStreamState sets the stream connection state.
func UpdateStreamState(state int) {
	if globalManager.enabled {
		globalManager.streamState.Set(float64(state))
	}
}

// RecordReconnectAttempt counts a reconnect attempt.
func RecordReconnectAttempt() {
	if globalManager.enabled {
		globalManager.reconnectAttempts.Inc()
	}
}

// RecordReconnectSuccess counts a successful handle swap.
func RecordReconnectSuccess() {
	if globalManager.enabled {
		globalManager.reconnectSuccesses.Inc()
	}
}

// UpdateHeartbeatAge sets the time since the last heartbeat.
func UpdateHeartbeatAge(age time.Duration) {
	if globalManager.enabled {
		globalManager.heartbeatAge.Set(age.Seconds())
	}
}

// UpdateQueueSize sets the number of buffered stream messages.
func UpdateQueueSize(size int) {
	if globalManager.enabled {
		globalManager.queueSize.Set(float64(size))
	}
}

// RecordQueueEnqueue counts a buffered message.
func RecordQueueEnqueue() {
	if globalManager.enabled {
		globalManager.queueEnqueue.Inc()
	}
}

// RecordQueueEnqueueError counts a rejected message.
func RecordQueueEnqueueError() {
	if globalManager.enabled {
		globalManager.queueEnqueueErrors.Inc()
	}
}

// RecordSpoolDuplicate counts a spool file skipped as already seen.
func RecordSpoolDuplicate() {
	if globalManager.enabled {
		globalManager.spoolDuplicates.Inc()
	}
}

// RecordSinkDelivered counts a summary handed to the sink.
func RecordSinkDelivered() {
	if globalManager.enabled {
		globalManager.sinkDelivered.Inc()
	}
}

// RecordSinkDropped counts a summary dropped by a full sink buffer.
func RecordSinkDropped() {
	if globalManager.enabled {
		globalManager.sinkDropped.Inc()
	}
}

// RecordCatalogReload counts a successful catalog reload.
func RecordCatalogReload() {
	if globalManager.enabled {
		globalManager.catalogReloads.Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordErrorByComponent records an error by component and type.
func RecordErrorByComponent(component, errorType string) {
	if globalManager.enabled {
		globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
