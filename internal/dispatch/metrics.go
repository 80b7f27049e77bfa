package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for one dispatcher instance. All
// methods are safe on a nil receiver so that metrics stay optional.
type Metrics struct {
	// Events accepted into the queue, labeled by kind (tick/bar)
	EventsTotal *prometheus.CounterVec

	// Events dropped by the overflow policy
	DropsTotal prometheus.Counter

	// Sink call failures, labeled by sink name
	SinkErrors *prometheus.CounterVec

	// Current queue occupancy
	QueueDepth prometheus.Gauge

	// Duration of a full fan-out for one event
	DeliveryDuration prometheus.Histogram
}

// NewMetrics creates and registers dispatcher metrics against reg. Pass a
// fresh prometheus.NewRegistry() per dispatcher instance; registering two
// instances on the same registry panics on duplicate collectors.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of events accepted into the dispatch queue, labeled by kind",
			},
			[]string{"kind"},
		),

		DropsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drops_total",
				Help:      "Total number of events shed by the bounded-queue overflow policy",
			},
		),

		SinkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_errors_total",
				Help:      "Total number of failed sink calls, labeled by sink",
			},
			[]string{"sink"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current number of events waiting in the dispatch queue",
			},
		),

		DeliveryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Duration of fanning one event out to all sinks",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// RecordAccepted increments the accepted-event counter for kind.
func (m *Metrics) RecordAccepted(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// RecordDrop increments the overflow-drop counter.
func (m *Metrics) RecordDrop() {
	if m == nil {
		return
	}
	m.DropsTotal.Inc()
}

// RecordSinkError increments the failure counter for the named sink.
func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// SetQueueDepth records the current queue occupancy.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// ObserveDelivery records the duration of one full fan-out.
func (m *Metrics) ObserveDelivery(seconds float64) {
	if m == nil {
		return
	}
	m.DeliveryDuration.Observe(seconds)
}
