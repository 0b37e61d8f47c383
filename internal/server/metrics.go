package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventshot_http_requests_total",
			Help: "Total number of status server HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventshot_http_request_duration_seconds",
			Help:    "Status server request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventshot_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"window"}, // minute, hour
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventshot_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventshot_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"type"}, // transition, stats, dropped
	)
)
