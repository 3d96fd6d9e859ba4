package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		paymentVerifyRequests,
		paymentVerifyDuration,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by provider and status (initiated/paid/failed).",
		},
		[]string{"provider", "status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "Total monetary value of verified payments, labeled by provider.",
		},
		[]string{"provider"},
	)

	// result: paid|pending|failed|malformed|error
	paymentVerifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verify_requests_total",
			Help: "Count of gateway verification calls by provider and result.",
		},
		[]string{"provider", "result"},
	)

	paymentVerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_verify_duration_seconds",
			Help:    "Duration of gateway verification calls in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"provider"},
	)
)

func IncPayment(provider, status string) {
	paymentsTotal.WithLabelValues(norm(provider), norm(status)).Inc()
}

func AddRevenue(provider string, amountIRR int64) {
	paymentsRevenueTotal.WithLabelValues(norm(provider)).Add(float64(amountIRR))
}

func IncVerify(provider, result string) {
	paymentVerifyRequests.WithLabelValues(norm(provider), norm(result)).Inc()
}

func ObserveVerifyDuration(provider string, seconds float64) {
	paymentVerifyDuration.WithLabelValues(norm(provider)).Observe(seconds)
}
