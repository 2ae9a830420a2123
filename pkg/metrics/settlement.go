package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks gateway traffic and webhook outcomes.
type SettlementMetrics struct {
	webhooks  *prometheus.CounterVec
	gateway   *prometheus.HistogramVec
	transfers *prometheus.CounterVec
}

func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "settlement",
		Name:      "webhook_events_total",
		Help:      "Gateway webhook deliveries by event and outcome.",
	}, []string{"event", "outcome"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "settlement",
		Name:      "gateway_call_seconds",
		Help:      "Latency of payment gateway calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "result"})
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "settlement",
		Name:      "transfers_total",
		Help:      "Provider payout transfers by status.",
	}, []string{"status"})
	if !register(reg, webhooks, gateway, transfers) {
		return &SettlementMetrics{}
	}
	return &SettlementMetrics{webhooks: webhooks, gateway: gateway, transfers: transfers}
}

// IncWebhook counts a webhook delivery.
func (m *SettlementMetrics) IncWebhook(event, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

// ObserveGateway records one gateway round trip.
func (m *SettlementMetrics) ObserveGateway(operation string, started time.Time, err error) {
	if m == nil || m.gateway == nil {
		return
	}
	m.gateway.WithLabelValues(normalizeLabel(operation), outcome(err)).Observe(time.Since(started).Seconds())
}

func (m *SettlementMetrics) IncTransfer(status string) {
	if m == nil || m.transfers == nil {
		return
	}
	m.transfers.WithLabelValues(normalizeLabel(status)).Inc()
}
