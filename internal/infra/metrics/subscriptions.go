package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsActivated,
		subscriptionsRevoked,
		tamperDetected,
		fraudBlocks,
	)
}

var (
	subscriptionsActivated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_activated_total",
			Help: "Subscriptions activated, by plan.",
		},
		[]string{"plan"},
	)

	subscriptionsRevoked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_revoked_total",
			Help: "Subscriptions deactivated, by cause (tamper/admin).",
		},
		[]string{"cause"},
	)

	tamperDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_tamper_detected_total",
			Help: "Gated requests denied because recorded duration exceeded plan entitlement.",
		},
	)

	fraudBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_blocks_total",
			Help: "Submissions/signups rejected by the fraud guard, by reason.",
		},
		[]string{"reason"},
	)
)

func IncSubscriptionActivated(plan string) {
	subscriptionsActivated.WithLabelValues(norm(plan)).Inc()
}

func IncSubscriptionRevoked(cause string) {
	subscriptionsRevoked.WithLabelValues(norm(cause)).Inc()
}

func IncTamperDetected() { tamperDetected.Inc() }

func IncFraudBlock(reason string) {
	fraudBlocks.WithLabelValues(norm(reason)).Inc()
}
