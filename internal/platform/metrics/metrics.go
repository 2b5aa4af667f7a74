package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the registry.
type Metrics struct {
	RegistrationsWritten *prometheus.CounterVec
	EventsCreated        prometheus.Counter
	ReceiptsRecorded     prometheus.Counter
	PushesDelivered      prometheus.Counter
	PushesFailed         prometheus.Counter
	PushDurationMs       prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		RegistrationsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "addrreg_registrations_written_total",
			Help: "Total registration rows appended, by entity type",
		}, []string{"type"}),
		EventsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "addrreg_events_created_total",
			Help: "Total outbox events created",
		}),
		ReceiptsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "addrreg_receipts_recorded_total",
			Help: "Total consumer receipts recorded",
		}),
		PushesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "addrreg_pushes_delivered_total",
			Help: "Total events delivered to the push destination",
		}),
		PushesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "addrreg_pushes_failed_total",
			Help: "Total event deliveries that failed",
		}),
		PushDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "addrreg_push_duration_ms",
			Help:    "Latency of individual push deliveries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
	}
}

// ObservePush records the outcome and latency of one delivery attempt.
// Nil-safe so components can run without metrics wired.
func (m *Metrics) ObservePush(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PushDurationMs.Observe(float64(d.Microseconds()) / 1000.0)
	if err != nil {
		m.PushesFailed.Inc()
		return
	}
	m.PushesDelivered.Inc()
}

// IncRegistrations counts one appended registration row. Nil-safe.
func (m *Metrics) IncRegistrations(entityType string) {
	if m == nil {
		return
	}
	m.RegistrationsWritten.WithLabelValues(entityType).Inc()
}

// IncEvents counts one created outbox event. Nil-safe.
func (m *Metrics) IncEvents() {
	if m == nil {
		return
	}
	m.EventsCreated.Inc()
}

// IncReceipts counts one recorded receipt. Nil-safe.
func (m *Metrics) IncReceipts() {
	if m == nil {
		return
	}
	m.ReceiptsRecorded.Inc()
}
