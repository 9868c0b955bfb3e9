// Package metrics defines the Prometheus collectors for the chat backend.
// Collectors register themselves via promauto on the default registry and
// are exposed by the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketplace_ws_connections",
			Help: "Currently open WebSocket sessions",
		},
	)

	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_messages_relayed_total",
			Help: "Total chat messages relayed",
		},
		[]string{"result"}, // "ok", "rejected", "error"
	)

	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_deliveries_dropped_total",
			Help: "Total per-connection deliveries dropped on backpressure",
		},
	)

	SeenUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_messages_seen_total",
			Help: "Total messages flipped to viewed",
		},
	)

	TypingForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_typing_forwarded_total",
			Help: "Total typing indicators forwarded",
		},
	)
)
