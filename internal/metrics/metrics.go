package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterpay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meterpay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	PaymentIntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterpay_payment_intents_total",
			Help: "Total number of payment intents by outcome",
		},
		[]string{"status"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterpay_webhook_events_total",
			Help: "Total number of webhook events by result",
		},
		[]string{"type", "result"},
	)

	SessionsSettledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterpay_sessions_settled_total",
			Help: "Total number of settled sessions",
		},
		[]string{"type"},
	)

	SessionShortfallsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meterpay_session_shortfalls_total",
			Help: "Sessions closed with a charge capped below the full amount",
		},
	)

	TokensTransferredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meterpay_tokens_transferred_total",
			Help: "Total tokens moved between accounts by session settlement",
		},
	)

	PayoutRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meterpay_payout_runs_total",
			Help: "Total number of withdrawal batch runs",
		},
	)

	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterpay_payouts_total",
			Help: "Per-account payout outcomes within batch runs",
		},
		[]string{"result"},
	)

	OutboxQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meterpay_outbox_queue_length",
			Help: "Current length of the notification outbox queue",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordPaymentIntent(status string) {
	PaymentIntentsTotal.WithLabelValues(status).Inc()
}

func RecordWebhookEvent(eventType, result string) {
	WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}

func RecordSessionSettled(sessionType string, tokens int64, shortfall bool) {
	SessionsSettledTotal.WithLabelValues(sessionType).Inc()
	TokensTransferredTotal.Add(float64(tokens))
	if shortfall {
		SessionShortfallsTotal.Inc()
	}
}

func RecordPayout(result string) {
	PayoutsTotal.WithLabelValues(result).Inc()
}

func RecordPayoutRun() {
	PayoutRunsTotal.Inc()
}
