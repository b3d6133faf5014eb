package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	PaymentIntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_intents_total",
			Help: "Payment intent creation attempts by outcome",
		},
		[]string{"outcome"},
	)

	CheckoutSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_sessions_total",
			Help: "Hosted checkout session creation attempts by outcome",
		},
		[]string{"outcome"},
	)

	WebhookOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_outcomes_total",
			Help: "Outcomes of payment webhooks",
		},
		[]string{"status"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_notifications_total",
			Help: "Order notification forwards by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	StockLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_lookups_total",
			Help: "Stock API lookups by outcome",
		},
		[]string{"outcome"},
	)

	StockLookupLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stock_lookup_latency_seconds",
			Help:    "Latency of upstream stock API calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		PaymentIntentsTotal,
		CheckoutSessionsTotal,
		WebhookOutcomesTotal,
		NotificationsTotal,
		StockLookupsTotal,
		StockLookupLatencySeconds,
		RateLimitedTotal,
	)
}

// ObserveHTTPRequest records metrics for an HTTP request
func ObserveHTTPRequest(method, path, status string, startedAt time.Time) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDurationSeconds.WithLabelValues(method, path, status).Observe(time.Since(startedAt).Seconds())
}
