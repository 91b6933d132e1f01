// Package metrics provides Prometheus metrics for the kpisync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backoff delays and KPI latencies are recorded in milliseconds.
var (
	defaultRetryDelayBuckets = []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000}
	defaultKpiLatencyBuckets = []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}
)

// Manager manages all Prometheus metrics for the kpisync service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets  []float64
	retryDelayBuckets []float64
	kpiLatencyBuckets []float64
	customLabels      map[string]string
	metricPrefix      string
	registry          prometheus.Registerer

	// Upstream client
	upstreamRequests    *prometheus.CounterVec
	upstreamRateLimited prometheus.Counter
	upstreamRetryDelay  prometheus.Histogram

	// Pagination
	pagesFetched    prometheus.Counter
	pageCapHits     prometheus.Counter
	attemptFailures *prometheus.CounterVec

	// Snapshot ingestion
	snapshotRefreshes  *prometheus.CounterVec
	snapshotRowsMerged prometheus.Counter
	snapshotRowsLast   prometheus.Gauge

	// Caches
	rangeCacheLookups *prometheus.CounterVec

	// Enrichment
	contactLookups    *prometheus.CounterVec
	geoDirectoryBuild *prometheus.CounterVec
	enrichPoolWidth   prometheus.Gauge

	// Queries
	kpiRequestDuration prometheus.Histogram

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
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
		namespace:         "kpisync",
		subsystem:         "pipeline",
		histogramBuckets:  prometheus.DefBuckets,
		retryDelayBuckets: defaultRetryDelayBuckets,
		kpiLatencyBuckets: defaultKpiLatencyBuckets,
		customLabels:      make(map[string]string),
		registry:          prometheus.DefaultRegisterer,
	}

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

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every series
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.upstreamRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("upstream_requests_total"),
		Help:        "Upstream API requests by endpoint and status class",
		ConstLabels: labels,
	}, []string{"endpoint", "status_class"})

	m.upstreamRateLimited = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("upstream_rate_limited_total"),
		Help:        "Upstream responses classified as rate limited",
		ConstLabels: labels,
	})

	m.upstreamRetryDelay = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("upstream_retry_delay_milliseconds"),
		Help:        "Backoff delay applied before retrying a rate-limited request",
		Buckets:     m.retryDelayBuckets,
		ConstLabels: labels,
	})

	m.pagesFetched = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("pages_fetched_total"),
		Help:        "Transaction pages fetched from upstream",
		ConstLabels: labels,
	})

	m.pageCapHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("page_cap_hits_total"),
		Help:        "Pagination runs that stopped at the page cap",
		ConstLabels: labels,
	})

	m.attemptFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("pagination_attempt_failures_total"),
		Help:        "Pagination strategy attempts that failed",
		ConstLabels: labels,
	}, []string{"attempt"})

	m.snapshotRefreshes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("snapshot_refreshes_total"),
		Help:        "Ingestion decisions by refresh reason",
		ConstLabels: labels,
	}, []string{"reason"})

	m.snapshotRowsMerged = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("snapshot_rows_merged_total"),
		Help:        "Fetched rows merged into snapshots",
		ConstLabels: labels,
	})

	m.snapshotRowsLast = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("snapshot_rows_last"),
		Help:        "Row count of the most recently written snapshot",
		ConstLabels: labels,
	})

	m.rangeCacheLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("range_cache_lookups_total"),
		Help:        "Range cache lookups by layer and result",
		ConstLabels: labels,
	}, []string{"layer", "result"})

	m.contactLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("contact_lookups_total"),
		Help:        "Contact profile lookups by result",
		ConstLabels: labels,
	}, []string{"result"})

	m.geoDirectoryBuild = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("geo_directory_builds_total"),
		Help:        "Geo directory builds by result",
		ConstLabels: labels,
	}, []string{"result"})

	m.enrichPoolWidth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("enrich_pool_width"),
		Help:        "Workers used by the most recent contact enrichment batch",
		ConstLabels: labels,
	})

	m.kpiRequestDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("kpi_request_duration_milliseconds"),
		Help:        "End-to-end KPI query latency in milliseconds",
		Buckets:     m.kpiLatencyBuckets,
		ConstLabels: labels,
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_requests_total"),
			Help:        "Total number of HTTP requests by endpoint and method",
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_request_duration_milliseconds"),
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("errors_by_component_total"),
			Help:        "Total number of errors by component",
			ConstLabels: labels,
		},
		[]string{"component", "error_type"},
	)

	m.errorRateByType = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("errors_by_type_total"),
			Help:        "Total number of errors by type",
			ConstLabels: labels,
		},
		[]string{"error_type", "severity"},
	)

	m.errorRateByEndpoint = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("errors_by_endpoint_total"),
			Help:        "Total number of errors by endpoint",
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "error_type"},
	)

	m.errorLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("error_latency_milliseconds"),
			Help:        "Latency of operations that resulted in errors",
			Buckets:     m.histogramBuckets,
			ConstLabels: labels,
		},
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_memory_usage_bytes"),
		Help:        "System memory usage in bytes",
		ConstLabels: labels,
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_goroutine_count"),
		Help:        "Number of goroutines",
		ConstLabels: labels,
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_gc_pause_time_milliseconds"),
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: labels,
	})
}

// Upstream client.

// RecordUpstreamRequest counts one upstream HTTP exchange.
func RecordUpstreamRequest(endpoint, statusClass string) {
	globalManager.upstreamRequests.WithLabelValues(endpoint, statusClass).Inc()
}

// RecordRateLimited counts a rate-limited upstream response.
func RecordRateLimited() {
	globalManager.upstreamRateLimited.Inc()
}

// RecordRetryDelay records the backoff applied before a retry.
func RecordRetryDelay(delayMs float64) {
	globalManager.upstreamRetryDelay.Observe(delayMs)
}

// Pagination.

// RecordPageFetched counts one fetched transaction page.
func RecordPageFetched() {
	globalManager.pagesFetched.Inc()
}

// RecordPageCapHit counts a pagination run stopped by its cap.
func RecordPageCapHit() {
	globalManager.pageCapHits.Inc()
}

// RecordAttemptFailure counts a failed pagination attempt.
func RecordAttemptFailure(attempt string) {
	globalManager.attemptFailures.WithLabelValues(attempt).Inc()
}

// Snapshot ingestion.

// RecordSnapshotRefresh counts an ingestion decision.
func RecordSnapshotRefresh(reason string) {
	globalManager.snapshotRefreshes.WithLabelValues(reason).Inc()
}

// RecordSnapshotRowsMerged adds fetched rows merged into a snapshot.
func RecordSnapshotRowsMerged(rows int) {
	globalManager.snapshotRowsMerged.Add(float64(rows))
}

// UpdateSnapshotRows sets the row count of the last written snapshot.
func UpdateSnapshotRows(rows int) {
	globalManager.snapshotRowsLast.Set(float64(rows))
}

// Caches.

// RecordRangeCacheLookup counts a range cache lookup; result is hit, miss or skip.
func RecordRangeCacheLookup(layer, result string) {
	globalManager.rangeCacheLookups.WithLabelValues(layer, result).Inc()
}

// Enrichment.

// RecordContactLookup counts a contact lookup; result is resolved, unknown or failed.
func RecordContactLookup(result string) {
	globalManager.contactLookups.WithLabelValues(result).Inc()
}

// RecordGeoDirectoryBuild counts a directory build; result is ok or failed.
func RecordGeoDirectoryBuild(result string) {
	globalManager.geoDirectoryBuild.WithLabelValues(result).Inc()
}

// UpdateEnrichPoolWidth sets the worker count of the latest enrichment batch.
func UpdateEnrichPoolWidth(width int) {
	globalManager.enrichPoolWidth.Set(float64(width))
}

// Queries.

// RecordKpiRequestDuration records the latency of a KPI query.
func RecordKpiRequestDuration(durationMs float64) {
	globalManager.kpiRequestDuration.Observe(durationMs)
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
