package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/timeline"
)

// Status is the lifecycle position of a test run.
type Status string

const (
	StatusCreated   Status = "created"
	StatusSetup     Status = "setup"
	StatusRunning   Status = "running"
	StatusTeardown  Status = "teardown"
	StatusSummary   Status = "summary"
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
	StatusInterrupt Status = "interrupted"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusAborted, StatusInterrupt:
		return true
	default:
		return false
	}
}

// TestRun is the identity and shared state of one execution.
type TestRun struct {
	ID        string
	Clock     *timeline.Clock
	Scenarios []string

	mu     sync.RWMutex
	data   performance.SetupData
	status Status
}

func newTestRun(scenarios []string) *TestRun {
	return &TestRun{
		ID:        uuid.NewString(),
		Clock:     timeline.NewClock(nil),
		Scenarios: scenarios,
		status:    StatusCreated,
	}
}

// Status returns the current lifecycle status.
func (r *TestRun) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// SetupData returns the value produced by setup.
func (r *TestRun) SetupData() performance.SetupData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data
}

func (r *TestRun) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *TestRun) setData(d performance.SetupData) {
	r.mu.Lock()
	r.data = d
	r.mu.Unlock()
}
