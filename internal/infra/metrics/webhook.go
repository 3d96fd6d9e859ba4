package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookAttempts,
		webhookDeliveries,
	)
}

var (
	// result: ok|transport_error|http_error|app_error
	webhookAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_attempts_total",
			Help: "Individual webhook delivery attempts by event type and result.",
		},
		[]string{"type", "result"},
	)

	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Overall webhook delivery outcomes (after retries) by event type.",
		},
		[]string{"type", "delivered"},
	)
)

func IncWebhookAttempt(eventType, result string) {
	webhookAttempts.WithLabelValues(norm(eventType), norm(result)).Inc()
}

func IncWebhookDelivery(eventType string, delivered bool) {
	d := "false"
	if delivered {
		d = "true"
	}
	webhookDeliveries.WithLabelValues(norm(eventType), d).Inc()
}
