package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "issuer_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "issuer_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	authorizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "issuer_authorizations_total",
		Help: "Authorization decisions by outcome",
	}, []string{"outcome", "reason"})
)

func countDecisionMetrics(outcome, reason string) {
	authorizationsTotal.WithLabelValues(outcome, reason).Inc()
}
