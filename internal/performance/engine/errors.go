package engine

import (
	"errors"
	"fmt"
)

// Phase names a step of the run lifecycle.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseSetup     Phase = "setup"
	PhaseScenarios Phase = "scenarios"
	PhaseTeardown  Phase = "teardown"
	PhaseSummary   Phase = "summary"
)

// ErrAlreadyRun is returned when Run is called twice on the same engine.
var ErrAlreadyRun = errors.New("engine has already run")

// LifecycleError is a failure of one lifecycle phase.
type LifecycleError struct {
	Phase Phase
	Err   error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// Fatal reports whether the error fails the run. Summary rendering failures
// fall back to the default summary and are not fatal.
func (e *LifecycleError) Fatal() bool {
	return e.Phase != PhaseSummary
}

// PanicError is a panic recovered from a lifecycle hook.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
