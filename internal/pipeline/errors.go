package pipeline

import (
	"errors"
	"fmt"
)

// ErrConfigInvalid marks configuration that must stop the process before any
// work begins. Validation errors wrap it.
var ErrConfigInvalid = errors.New("invalid configuration")

// FatalStartupError reports a model or asset that could not be loaded.
// Every image would fail identically, so the process must not start.
type FatalStartupError struct {
	Component string
	Err       error
}

func (e *FatalStartupError) Error() string {
	return fmt.Sprintf("fatal startup error in %s: %v", e.Component, e.Err)
}

func (e *FatalStartupError) Unwrap() error { return e.Err }

// NewFatalStartup wraps err for component.
func NewFatalStartup(component string, err error) error {
	if err == nil {
		return nil
	}
	return &FatalStartupError{Component: component, Err: err}
}

// StageError is a recoverable per-item failure raised by one stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err for stage, keeping an existing StageError intact.
func NewStageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// RetryExhaustedError records the final StageError of an item whose retry
// budget has been consumed.
type RetryExhaustedError struct {
	ItemID   string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("item %s failed after %d attempts: %v", e.ItemID, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// IsFatal reports whether err must abort the process.
func IsFatal(err error) bool {
	var fs *FatalStartupError
	return errors.As(err, &fs) || errors.Is(err, ErrConfigInvalid)
}

// StageOf returns the stage an error was raised in, or Failed when err does
// not carry one.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return Failed
}
