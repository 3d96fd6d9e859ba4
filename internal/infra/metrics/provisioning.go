package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		provisionTotal,
		subscriptionsActive,
	)
}

var (
	// result: ok|auth_error|create_error
	provisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_provision_total",
			Help: "Panel user-creation calls by panel kind and result.",
		},
		[]string{"panel", "result"},
	)

	subscriptionsActive = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_activated_total",
			Help: "Subscriptions that reached active, by panel kind.",
		},
		[]string{"panel"},
	)
)

func IncProvision(panel, result string) {
	provisionTotal.WithLabelValues(norm(panel), norm(result)).Inc()
}

func IncActivated(panel string) {
	subscriptionsActive.WithLabelValues(norm(panel)).Inc()
}
