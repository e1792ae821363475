// Package monitoring exposes the service's Prometheus metrics.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mkopaji"

var (
	stkPushMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stk_push_total",
		Help:      "STK push attempts by provider and outcome",
	}, []string{"provider", "outcome"})
	statusCheckMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_check_total",
		Help:      "Transaction status checks by provider and reported status",
	}, []string{"provider", "status"})
	callbackMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "callback_total",
		Help:      "STK callbacks received by resulting status",
	}, []string{"status"})
	pendingMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_requests",
		Help:      "Payment requests waiting for the customer",
	})
	expiredMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pending_expired_total",
		Help:      "Pending requests dropped after the timeout",
	})
)

func RecordSTKPush(provider, outcome string) {
	stkPushMetric.WithLabelValues(provider, outcome).Inc()
}

func RecordStatusCheck(provider, status string) {
	statusCheckMetric.WithLabelValues(provider, status).Inc()
}

func RecordCallback(status string) {
	callbackMetric.WithLabelValues(status).Inc()
}

func SetPending(n int) {
	pendingMetric.Set(float64(n))
}

func RecordExpired(n int) {
	expiredMetric.Add(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
