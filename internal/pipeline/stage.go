package pipeline

import (
	"fmt"
	"strings"
)

// Stage is the lifecycle position of one item.
type Stage int

const (
	Discovered Stage = iota
	Enhancing
	Compositing
	Grading
	Cropping
	Watermarking
	Delivering
	Delivered
	Failed
)

var stageNames = [...]string{
	Discovered:   "discovered",
	Enhancing:    "enhancing",
	Compositing:  "compositing",
	Grading:      "grading",
	Cropping:     "cropping",
	Watermarking: "watermarking",
	Delivering:   "delivering",
	Delivered:    "delivered",
	Failed:       "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// MarshalText lets stages appear by name in JSON and logs.
func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a stage name.
func (s *Stage) UnmarshalText(b []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(b)))
	for i, n := range stageNames {
		if n == name {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", name)
}

// Terminal reports whether no further transitions happen from s.
func (s Stage) Terminal() bool { return s == Delivered || s == Failed }

// Active reports whether s is past Discovered and not terminal, i.e. the
// item occupies a worker.
func (s Stage) Active() bool { return s > Discovered && s < Delivered }

// ProcessingStages lists the in-worker stages in execution order.
func ProcessingStages() []Stage {
	return []Stage{Enhancing, Compositing, Grading, Cropping, Watermarking, Delivering}
}

// CanTransition reports whether from -> to is a legal move. Any active stage
// may fall back to Discovered for a retry or end in Failed.
func CanTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	switch {
	case to == Failed:
		return true
	case to == Discovered:
		return from.Active()
	case from == Delivering:
		return to == Delivered
	default:
		return to == from+1
	}
}
