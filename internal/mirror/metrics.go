package mirror

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation labels used in metrics and logs.
const (
	opUpsert = "upsert"
	opDelete = "delete"
	opQuery  = "query"
)

// Metrics holds the Prometheus collectors of the mirror.
type Metrics struct {
	Operations     *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	Batches        prometheus.Counter
	BatchChanges   prometheus.Histogram
	Backfills      prometheus.Counter
	ActiveSessions prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in main and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripsync_mirror_operations_total",
			Help: "Store operations issued by the trip mirror, by operation.",
		}, []string{"op"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripsync_mirror_failures_total",
			Help: "Store operations issued by the trip mirror that failed, by operation.",
		}, []string{"op"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripsync_mirror_operation_duration_seconds",
			Help:    "Latency of store operations issued by the trip mirror.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "tripsync_mirror_batches_total",
			Help: "Change batches applied to the trips collection.",
		}),
		BatchChanges: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripsync_mirror_batch_changes",
			Help:    "Number of changes per applied batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		Backfills: factory.NewCounter(prometheus.CounterOpts{
			Name: "tripsync_mirror_backfills_total",
			Help: "Completed backfill passes.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tripsync_mirror_active_sessions",
			Help: "Mirror sessions currently running (0 or 1).",
		}),
	}
}

func (m *Metrics) observe(op string, elapsed time.Duration, err error) {
	m.Operations.WithLabelValues(op).Inc()
	m.Duration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.Failures.WithLabelValues(op).Inc()
	}
}
