package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		paymentVerifyDuration,
		paymentEffectFailures,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment transactions by terminal outcome (initiated/completed/failed/timeout).",
		},
		[]string{"status", "type"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "Total monetary value of completed payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	paymentVerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_verify_duration_seconds",
			Help:    "Wall-clock duration of a full verification call.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 45},
		},
		[]string{"result"},
	)

	paymentEffectFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_effect_failures_total",
			Help: "Completed payments whose entitlement write failed (needs manual reconciliation).",
		},
	)
)

func IncPayment(status, txType string) {
	paymentsTotal.WithLabelValues(norm(status), norm(txType)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func ObserveVerifyDuration(result string, seconds float64) {
	paymentVerifyDuration.WithLabelValues(norm(result)).Observe(seconds)
}

func IncEffectFailure() { paymentEffectFailures.Inc() }
