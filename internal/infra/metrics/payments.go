package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		verifyRequests,
		verifyDuration,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by terminal status (verified/rejected/expired).",
		},
		[]string{"status", "method"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of verified payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	verifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verify_requests_total",
			Help: "Verification attempts by channel (callback/webhook/admin/reconcile) and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	verifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_verify_duration_ms",
			Help:    "Verification latency distribution in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600, 3000},
		},
		[]string{"channel"},
	)
)

func IncPayment(status, method string) {
	paymentsTotal.WithLabelValues(norm(status), norm(method)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func ObserveVerify(channel, outcome string, latencyMs float64) {
	verifyRequests.WithLabelValues(norm(channel), norm(outcome)).Inc()
	verifyDuration.WithLabelValues(norm(channel)).Observe(latencyMs)
}
