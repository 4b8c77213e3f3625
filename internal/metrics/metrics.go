// Package metrics exposes Prometheus collectors for the delivery pipeline
// and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messenger_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15},
		},
		[]string{"method", "path"},
	)

	// Pipeline metrics
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_dispatches_total",
			Help: "Total dispatch attempts by outcome",
		},
		[]string{"outcome"}, // "sent", "blocked", "duplicate", "failed"
	)

	DispatchBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_dispatch_blocked_total",
			Help: "Dispatches blocked before the outbound call, by reason",
		},
		[]string{"reason"},
	)

	GraphAPIErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_graph_api_errors_total",
			Help: "Vendor errors returned by the Graph API, by error kind",
		},
		[]string{"kind"},
	)

	DuplicatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_duplicates_suppressed_total",
			Help: "Outbound calls suppressed by the idempotency guard",
		},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_webhook_events_total",
			Help: "Inbound webhook events received, by type",
		},
		[]string{"type"},
	)
)
