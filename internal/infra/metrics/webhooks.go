package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhookEventsTotal, webhookUnsignedTotal) }

var (
	// outcome: routed|duplicate|ignored|bad_request|error
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Provider webhook deliveries by event type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	webhookUnsignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_unsigned_total",
			Help: "Webhook deliveries missing one or more signature headers.",
		},
	)
)

func IncWebhookEvent(eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(eventType, norm(outcome)).Inc()
}

func IncWebhookUnsigned() { webhookUnsignedTotal.Inc() }
