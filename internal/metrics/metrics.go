package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linehub_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linehub_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Hub metrics
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linehub_messages_appended_total",
			Help: "Messages appended to line logs",
		},
		[]string{"direction"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linehub_status_transitions_total",
			Help: "Line status transitions by target status",
		},
		[]string{"status"},
	)

	LinesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linehub_lines_created_total",
			Help: "Lines created explicitly or by auto-provisioning",
		},
	)

	HubFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linehub_hub_failures_total",
			Help: "Hub operations that failed, by error code",
		},
		[]string{"operation", "code"},
	)

	// Gateway metrics
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linehub_gateway_connections",
			Help: "Open real-time connections",
		},
	)

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linehub_gateway_requests_total",
			Help: "Real-time requests by type and result",
		},
		[]string{"type", "result"},
	)

	GatewayDroppedPushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linehub_gateway_dropped_pushes_total",
			Help: "Broadcast pushes dropped because a connection's buffer was full",
		},
	)

	// Adapter metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linehub_adapter_deliveries_total",
			Help: "Outbound deliveries handed to transport adapters",
		},
		[]string{"adapter", "result"},
	)
)
