// Package metrics holds the Prometheus collectors for the settlement path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_settlements_total",
			Help: "Settlement attempts by entry point and outcome",
		},
		[]string{"source", "outcome"},
	)

	CreditsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_credits_applied_total",
			Help: "Wallet credits that moved a balance, by entry point",
		},
		[]string{"source"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_verify_duration_seconds",
			Help:    "Duration of gateway verify calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 15},
		},
		[]string{"provider", "result"},
	)

	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Webhook deliveries by provider and result",
		},
		[]string{"provider", "result"},
	)

	PollerSwept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_poller_swept_total",
			Help: "Deposits examined by the reconciliation poller",
		},
		[]string{"sweep", "result"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_event_publish_errors_total",
			Help: "Settlement events that could not be published",
		},
		[]string{"sink"},
	)
)
