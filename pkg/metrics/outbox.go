package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts publish attempts by event type and result.
type OutboxMetrics struct {
	publishes *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	publishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_publish_total",
		Help:      "Outbox publish attempts by event type and result.",
	}, []string{"event_type", "result"})
	reg.MustRegister(publishes)
	return &OutboxMetrics{publishes: publishes}
}

func (m *OutboxMetrics) ObservePublish(eventType, result string) {
	if m == nil || m.publishes == nil {
		return
	}
	m.publishes.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
