package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orgplans"

// BillingMetrics tracks webhook intake, subscription transitions and gateway calls.
type BillingMetrics struct {
	webhooks    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	gateway     *prometheus.HistogramVec
	checkouts   *prometheus.CounterVec
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Gateway webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscription_transitions_total",
		Help:      "Subscription transitions by kind, writer and outcome.",
	}, []string{"kind", "source", "outcome"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_call_duration_seconds",
		Help:      "Latency of payment gateway calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
	}, []string{"operation", "result"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_sessions_total",
		Help:      "Checkout sessions opened by plan.",
	}, []string{"plan"})
	reg.MustRegister(webhooks, transitions, gateway, checkouts)
	return &BillingMetrics{
		webhooks:    webhooks,
		transitions: transitions,
		gateway:     gateway,
		checkouts:   checkouts,
	}
}

func (m *BillingMetrics) IncWebhook(eventType, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *BillingMetrics) IncTransition(kind, source, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(kind), normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *BillingMetrics) ObserveGatewayCall(operation, result string, took time.Duration) {
	if m == nil || m.gateway == nil {
		return
	}
	m.gateway.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Observe(took.Seconds())
}

func (m *BillingMetrics) IncCheckout(plan string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(plan)).Inc()
}
