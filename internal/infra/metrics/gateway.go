package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(gatewayRequestsTotal)
}

var gatewayRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Requests to the payment gateway by endpoint and outcome.",
	},
	[]string{"endpoint", "outcome"},
)

func IncGatewayRequest(endpoint, outcome string) {
	gatewayRequestsTotal.WithLabelValues(norm(endpoint), norm(outcome)).Inc()
}
