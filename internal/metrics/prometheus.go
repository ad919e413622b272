// Package metrics exports operational counters/gauges for the storage
// engine, transaction coordinator, and query layer using the real
// Prometheus client library, grounded on the warren and storage-engine
// example repos (both direct users of github.com/prometheus/client_golang)
// rather than the teacher's original hand-rolled text exposition format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kartikbazzad/docdb/internal/errors"
)

// Exporter owns every metric this engine publishes and the registry they
// are bound to, so a caller can mount promhttp.HandlerFor(exporter.Registry(), ...)
// on whatever HTTP mux the embedding application already runs.
type Exporter struct {
	registry *prometheus.Registry

	operationsTotal    *prometheus.CounterVec
	operationDurations *prometheus.HistogramVec
	documentsTotal     prometheus.Gauge
	walSizeBytes       prometheus.Gauge
	lockWaitDuration   *prometheus.HistogramVec
	deadlocksTotal     prometheus.Counter
	cursorsOpen        prometheus.Gauge
	errorsByCategory   *prometheus.CounterVec
	errorsByCode       *prometheus.GaugeVec

	tracker *errors.ErrorTracker
}

// NewExporter registers every metric against a fresh registry. tracker may
// be nil if error-code gauges aren't wanted.
func NewExporter(tracker *errors.ErrorTracker) *Exporter {
	reg := prometheus.NewRegistry()

	e := &Exporter{
		registry: reg,
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docdb_operations_total",
			Help: "Total number of operations by type and status.",
		}, []string{"operation", "status"}),
		operationDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docdb_operation_duration_seconds",
			Help:    "Operation duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		documentsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docdb_documents_total",
			Help: "Total number of resident documents across collections.",
		}),
		walSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docdb_wal_size_bytes",
			Help: "Total size of on-disk WAL segments in bytes.",
		}),
		lockWaitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docdb_lock_wait_seconds",
			Help:    "Time spent waiting to acquire a resource lock.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		deadlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docdb_deadlocks_total",
			Help: "Total number of deadlocks detected and resolved by victim abort.",
		}),
		cursorsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docdb_cursors_open",
			Help: "Number of currently open query cursors.",
		}),
		errorsByCategory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docdb_errors_by_category_total",
			Help: "Total number of errors by retry-policy category.",
		}, []string{"category"}),
		errorsByCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docdb_errors_total",
			Help: "Total number of errors observed by stable error code.",
		}, []string{"code"}),
		tracker: tracker,
	}

	reg.MustRegister(
		e.operationsTotal,
		e.operationDurations,
		e.documentsTotal,
		e.walSizeBytes,
		e.lockWaitDuration,
		e.deadlocksTotal,
		e.cursorsOpen,
		e.errorsByCategory,
		e.errorsByCode,
	)
	return e
}

// Registry is mounted behind promhttp.HandlerFor by the embedding server.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Handler returns the scrape endpoint for this exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) RecordOperation(operation, status string, duration time.Duration) {
	e.operationsTotal.WithLabelValues(operation, status).Inc()
	e.operationDurations.WithLabelValues(operation).Observe(duration.Seconds())
}

func (e *Exporter) SetDocumentsTotal(count uint64) { e.documentsTotal.Set(float64(count)) }

func (e *Exporter) SetWALSizeBytes(bytes uint64) { e.walSizeBytes.Set(float64(bytes)) }

func (e *Exporter) RecordLockWait(mode string, d time.Duration) {
	e.lockWaitDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (e *Exporter) RecordDeadlock() { e.deadlocksTotal.Inc() }

func (e *Exporter) SetCursorsOpen(n int) { e.cursorsOpen.Set(float64(n)) }

func (e *Exporter) RecordError(err error, category errors.ErrorCategory) {
	e.errorsByCategory.WithLabelValues(categoryString(category)).Inc()
	if e.tracker != nil {
		e.tracker.RecordError(err, category)
		e.refreshCodeGauges()
	}
}

// refreshCodeGauges republishes the tracker's snapshot onto the per-code
// gauge vector; called after every RecordError so scrapes always see the
// latest cumulative counts without a separate collection goroutine.
func (e *Exporter) refreshCodeGauges() {
	for code, count := range e.tracker.Snapshot() {
		e.errorsByCode.WithLabelValues(string(code)).Set(float64(count))
	}
}

func categoryString(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryTransient:
		return "transient"
	case errors.CategoryPermanent:
		return "permanent"
	case errors.CategoryCritical:
		return "critical"
	case errors.CategoryValidation:
		return "validation"
	default:
		return "unknown"
	}
}
