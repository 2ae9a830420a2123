package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox delivery outcomes.
const (
	OutboxPublished  = "published"
	OutboxRetry      = "retry"
	OutboxDeadLetter = "dead_letter"
)

// OutboxMetrics tracks the publisher's per-event outcomes and batch latency.
type OutboxMetrics struct {
	events *prometheus.CounterVec
	batch  prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "batch_seconds",
		Help:      "Time to claim, publish and settle one outbox batch.",
		Buckets:   prometheus.DefBuckets,
	})
	if !register(reg, events, batch) {
		return &OutboxMetrics{}
	}
	return &OutboxMetrics{events: events, batch: batch}
}

func (m *OutboxMetrics) IncEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveBatch records a batch that started at started.
func (m *OutboxMetrics) ObserveBatch(started time.Time) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(time.Since(started).Seconds())
}
