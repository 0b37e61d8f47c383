package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/eventshot/internal/pipeline"
)

// Stats aggregates pipeline counters. All methods are safe for concurrent use
// and every update commutes, so completion order never matters.
type Stats interface {
	Discovered()
	Processed()
	Delivered()
	Failed()
	Retried()
	Abandoned(n int)
	Fallback()
	ObserveStage(s pipeline.Stage, d time.Duration)
	Snapshot() StatsSnapshot
}

// StageTiming accumulates time spent in one stage.
type StageTiming struct {
	Count int64         `json:"count"`
	Total time.Duration `json:"total_ns"`
}

// Mean returns the average duration, or 0 when nothing was observed.
func (s StageTiming) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Discovered int64                          `json:"discovered"`
	Processed  int64                          `json:"processed"`
	Delivered  int64                          `json:"delivered"`
	Failed     int64                          `json:"failed"`
	Retried    int64                          `json:"retried"`
	Abandoned  int64                          `json:"abandoned"`
	Fallbacks  int64                          `json:"fallbacks"`
	Stages     map[pipeline.Stage]StageTiming `json:"stages"`
}

// Errors is the number of items that ended in Failed.
func (s StatsSnapshot) Errors() int64 { return s.Failed }

type stageCounter struct {
	count atomic.Int64
	total atomic.Int64
}

// AtomicStats implements Stats with atomic counters.
type AtomicStats struct {
	discovered atomic.Int64
	processed  atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64
	retried    atomic.Int64
	abandoned  atomic.Int64
	fallbacks  atomic.Int64
	stages     [pipeline.Failed + 1]stageCounter
}

func NewAtomicStats() *AtomicStats { return &AtomicStats{} }

func (a *AtomicStats) Discovered()     { a.discovered.Add(1) }
func (a *AtomicStats) Processed()      { a.processed.Add(1) }
func (a *AtomicStats) Delivered()      { a.delivered.Add(1) }
func (a *AtomicStats) Failed()         { a.failed.Add(1) }
func (a *AtomicStats) Retried()        { a.retried.Add(1) }
func (a *AtomicStats) Abandoned(n int) { a.abandoned.Add(int64(n)) }
func (a *AtomicStats) Fallback()       { a.fallbacks.Add(1) }

func (a *AtomicStats) ObserveStage(s pipeline.Stage, d time.Duration) {
	if s < 0 || int(s) >= len(a.stages) {
		return
	}
	a.stages[s].count.Add(1)
	a.stages[s].total.Add(int64(d))
}

func (a *AtomicStats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Discovered: a.discovered.Load(),
		Processed:  a.processed.Load(),
		Delivered:  a.delivered.Load(),
		Failed:     a.failed.Load(),
		Retried:    a.retried.Load(),
		Abandoned:  a.abandoned.Load(),
		Fallbacks:  a.fallbacks.Load(),
		Stages:     make(map[pipeline.Stage]StageTiming),
	}
	for i := range a.stages {
		n := a.stages[i].count.Load()
		if n == 0 {
			continue
		}
		snap.Stages[pipeline.Stage(i)] = StageTiming{Count: n, Total: time.Duration(a.stages[i].total.Load())}
	}
	return snap
}

// PrometheusStats forwards every update to the wrapped Stats and to the
// process metrics.
type PrometheusStats struct {
	Stats
}

// NewPrometheusStats wraps inner, which defaults to a fresh AtomicStats.
func NewPrometheusStats(inner Stats) *PrometheusStats {
	if inner == nil {
		inner = NewAtomicStats()
	}
	return &PrometheusStats{Stats: inner}
}

func (p *PrometheusStats) Discovered() { p.Stats.Discovered(); itemsTotal.WithLabelValues("discovered").Inc() }
func (p *PrometheusStats) Processed()  { p.Stats.Processed(); itemsTotal.WithLabelValues("processed").Inc() }
func (p *PrometheusStats) Delivered()  { p.Stats.Delivered(); itemsTotal.WithLabelValues("delivered").Inc() }
func (p *PrometheusStats) Failed()     { p.Stats.Failed(); itemsTotal.WithLabelValues("failed").Inc() }
func (p *PrometheusStats) Retried()    { p.Stats.Retried(); retriesTotal.Inc() }
func (p *PrometheusStats) Fallback()   { p.Stats.Fallback(); fallbacksTotal.Inc() }

func (p *PrometheusStats) Abandoned(n int) {
	p.Stats.Abandoned(n)
	itemsTotal.WithLabelValues("abandoned").Add(float64(n))
}

func (p *PrometheusStats) ObserveStage(s pipeline.Stage, d time.Duration) {
	p.Stats.ObserveStage(s, d)
	stageDuration.WithLabelValues(s.String()).Observe(d.Seconds())
}
