package orchestrator

import (
	"log/slog"
	"time"

	"github.com/MeKo-Tech/eventshot/internal/pipeline"
)

// Transition describes one stage change of an item.
type Transition struct {
	ItemID   string         `json:"item_id"`
	Path     string         `json:"path"`
	From     pipeline.Stage `json:"from"`
	To       pipeline.Stage `json:"to"`
	Attempt  int            `json:"attempt"`
	Outcome  Outcome        `json:"outcome,omitempty"`
	Error    string         `json:"error,omitempty"`
	Location string         `json:"location,omitempty"`
	At       time.Time      `json:"at"`
}

// Observer is notified of every transition. Calls come from worker
// goroutines concurrently and must not block.
type Observer interface {
	OnTransition(t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// NoOpObserver ignores all transitions.
type NoOpObserver struct{}

func (NoOpObserver) OnTransition(Transition) {}

// MultiObserver fans out to every observer in order.
type MultiObserver []Observer

func (m MultiObserver) OnTransition(t Transition) {
	for _, o := range m {
		o.OnTransition(t)
	}
}

// LogObserver logs transitions: terminal ones at Info (Warn for failures),
// everything else at Debug.
type LogObserver struct {
	Logger *slog.Logger
}

func (l LogObserver) OnTransition(t Transition) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"item", t.ItemID, "path", t.Path, "from", t.From.String(), "to", t.To.String(), "attempt", t.Attempt}
	switch {
	case t.To == pipeline.Failed:
		logger.Warn("Item failed", append(attrs, "error", t.Error)...)
	case t.To == pipeline.Delivered:
		logger.Info("Item delivered", append(attrs, "location", t.Location)...)
	case t.To == pipeline.Discovered && t.From != pipeline.Discovered:
		logger.Info("Item scheduled for retry", append(attrs, "error", t.Error)...)
	case t.Outcome == OutcomeAbandoned:
		logger.Info("Item abandoned", attrs...)
	default:
		logger.Debug("Item stage changed", attrs...)
	}
}
