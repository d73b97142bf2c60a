package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus primitives for the outbox dispatcher and the
// board engine.
type Metrics struct {
	outboxDispatch     *prometheus.CounterVec
	outboxEvents       *prometheus.CounterVec
	outboxDispatchTime *prometheus.HistogramVec
	outboxBacklog      prometheus.Gauge
	handlerDuration    *prometheus.HistogramVec
	handlerErrors      *prometheus.CounterVec
	rebalances         *prometheus.CounterVec
	sequenceConflicts  prometheus.Counter
}

// NewMetrics registers and returns Prometheus metrics for the dispatcher.
func NewMetrics() *Metrics {
	outboxDispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracklane_outbox_dispatch_total",
		Help: "Counts dispatcher batches by status.",
	}, []string{"status"})

	outboxEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracklane_outbox_events_total",
		Help: "Counts dispatched events by status.",
	}, []string{"status"})

	outboxDispatchTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracklane_outbox_dispatch_duration_seconds",
		Help:    "Dispatcher batch durations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	outboxBacklog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracklane_outbox_backlog",
		Help: "Number of pending events in the outbox.",
	})

	handlerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracklane_event_handler_duration_seconds",
		Help:    "Event handler durations by subject.",
		Buckets: prometheus.DefBuckets,
	}, []string{"subject", "status"})

	handlerErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracklane_event_handler_errors_total",
		Help: "Counts handler errors by subject.",
	}, []string{"subject"})

	rebalances := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracklane_position_rebalance_total",
		Help: "Counts order key rebalances by scope.",
	}, []string{"scope"})

	sequenceConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracklane_sequence_conflict_total",
		Help: "Counts sequence allocations that lost the counter race.",
	})

	prometheus.MustRegister(
		outboxDispatch,
		outboxEvents,
		outboxDispatchTime,
		outboxBacklog,
		handlerDuration,
		handlerErrors,
		rebalances,
		sequenceConflicts,
	)

	return &Metrics{
		outboxDispatch:     outboxDispatch,
		outboxEvents:       outboxEvents,
		outboxDispatchTime: outboxDispatchTime,
		outboxBacklog:      outboxBacklog,
		handlerDuration:    handlerDuration,
		handlerErrors:      handlerErrors,
		rebalances:         rebalances,
		sequenceConflicts:  sequenceConflicts,
	}
}

// RecordOutboxBatch registers dispatch batch metrics.
func (m *Metrics) RecordOutboxBatch(status string, count int, duration time.Duration) {
	if m == nil {
		return
	}
	m.outboxDispatch.WithLabelValues(status).Inc()
	m.outboxEvents.WithLabelValues(status).Add(float64(count))
	m.outboxDispatchTime.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRebalance counts an order key rebalance. Scope is "column" for task
// moves and "board" for column moves.
func (m *Metrics) RecordRebalance(scope string) {
	if m == nil {
		return
	}
	m.rebalances.WithLabelValues(sanitizeLabel(scope)).Inc()
}

// RecordSequenceConflict counts an allocation retry surfaced to a caller.
func (m *Metrics) RecordSequenceConflict() {
	if m == nil {
		return
	}
	m.sequenceConflicts.Inc()
}

// SetOutboxBacklog updates the backlog gauge.
func (m *Metrics) SetOutboxBacklog(value float64) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(value)
}

// RecordHandler observes handler invocations.
func (m *Metrics) RecordHandler(subject, status string, duration time.Duration) {
	if m == nil {
		return
	}
	subject = sanitizeLabel(subject)
	m.handlerDuration.WithLabelValues(subject, status).Observe(duration.Seconds())
	if status != "success" {
		m.handlerErrors.WithLabelValues(subject).Inc()
	}
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
