package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventshot_items_total",
			Help: "Total number of work items by lifecycle event",
		},
		[]string{"event"}, // event: discovered, processed, delivered, failed, abandoned
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventshot_item_retries_total",
			Help: "Total number of per-item retries scheduled",
		},
	)

	fallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventshot_item_fallbacks_total",
			Help: "Total number of items whose candidate came from the local fallback",
		},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventshot_stage_duration_seconds",
			Help:    "Time spent per pipeline stage in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	inFlightItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventshot_items_in_flight",
			Help: "Number of items currently occupying a worker",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventshot_queue_depth",
			Help: "Number of items waiting in the dispatch queue",
		},
	)
)
