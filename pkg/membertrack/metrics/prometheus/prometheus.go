package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements membertrack.Metrics using Prometheus.
type Metrics struct {
	ingestTotal        *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	scanPagesTotal     prometheus.Counter
	scanObservations   prometheus.Histogram
	storageOpsDuration *prometheus.HistogramVec
	storageOpsErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ingestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Total number of ingested observations by outcome.",
		}, []string{"result"}),

		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of processed transition notifications.",
		}, []string{"kind"}),

		scanPagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_pages_total",
			Help:      "Total number of pages fetched during backfill scans.",
		}),

		scanObservations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_page_observations",
			Help:      "Distribution of observations per fetched page.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordIngest(result string) {
	m.ingestTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordNotification(kind string) {
	m.notificationsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordScanPage(observations int) {
	m.scanPagesTotal.Inc()
	m.scanObservations.Observe(float64(observations))
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
