package enhance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remoteCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventshot_enhance_remote_call_duration_seconds",
			Help:    "Duration of single remote enhancement calls in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)

	remoteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventshot_enhance_remote_errors_total",
			Help: "Total number of failed remote enhancement calls",
		},
		[]string{"kind"}, // kind: timeout, rate_limited, invalid
	)

	fallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventshot_enhance_fallbacks_total",
			Help: "Total number of auto mode fallbacks to local enhancement",
		},
	)
)
