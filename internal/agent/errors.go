package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrTurnLimit ends a run that used up its planner calls without
	// producing a final answer.
	ErrTurnLimit = errors.New("turn limit reached")

	// ErrDeadline ends a run that exceeded its wall-clock budget.
	ErrDeadline = errors.New("time budget exhausted")

	// ErrDelivery is returned alongside a completed Result when the event
	// sink failed mid-run. The Result itself is complete.
	ErrDelivery = errors.New("event delivery failed")
)

// ReasoningError reports a reasoning-engine failure. It is loop-fatal:
// there is no partial state to resume from.
type ReasoningError struct {
	Stage string // planner or reflection
	Err   error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("%s: reasoning engine failed: %v", e.Stage, e.Err)
}

func (e *ReasoningError) Unwrap() error { return e.Err }
