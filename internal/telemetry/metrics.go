package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	CarrierErrors      *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	RateLimitRejects   *prometheus.CounterVec
	FallbacksTotal     *prometheus.CounterVec
	WebhooksTotal      *prometheus.CounterVec
	WebhookQueueDepth  prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrier_requests_total",
				Help: "Total carrier requests by operation, carrier, and status",
			},
			[]string{"operation", "carrier", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carrier_request_duration_seconds",
				Help:    "Carrier request duration in seconds by operation and carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "carrier"},
		),
		CarrierErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrier_errors_total",
				Help: "Total carrier API errors by carrier and error class",
			},
			[]string{"carrier", "class"},
		),
		BreakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrier_breaker_transitions_total",
				Help: "Circuit breaker state transitions by carrier and target state",
			},
			[]string{"carrier", "to"},
		),
		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "carrier_breaker_state",
				Help: "Current breaker state per carrier (0=closed, 1=half_open, 2=open)",
			},
			[]string{"carrier"},
		),
		RateLimitRejects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrier_rate_limit_rejects_total",
				Help: "Requests rejected by the outbound rate limiter per carrier",
			},
			[]string{"carrier"},
		),
		FallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrier_fallbacks_total",
				Help: "Fallback advances by failed carrier and route",
			},
			[]string{"carrier", "route"},
		),
		WebhooksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrier_webhooks_total",
				Help: "Inbound webhooks by carrier and outcome",
			},
			[]string{"carrier", "outcome"},
		),
		WebhookQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "carrier_webhook_queue_depth",
				Help: "Webhook events waiting for a worker",
			},
		),
	}
}

// RecordRequest records a carrier request metric.
func (m *Metrics) RecordRequest(operation, carrier, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(operation, carrier, status).Inc()
	m.RequestDuration.WithLabelValues(operation, carrier).Observe(duration)
}

// RecordError records a carrier error metric.
func (m *Metrics) RecordError(carrier, class string) {
	m.CarrierErrors.WithLabelValues(carrier, class).Inc()
}
