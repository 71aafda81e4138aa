// Package executor provides the load generation strategies a scenario can
// be driven by.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate maintains a fixed iteration start rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingArrivalRate ramps the iteration start rate according to stages.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"

	// TypePerVUIterations runs a fixed number of iterations per VU.
	TypePerVUIterations Type = "per-vu-iterations"

	// TypeSharedIterations shares a total iteration count across VUs.
	TypeSharedIterations Type = "shared-iterations"

	// TypeExternallyControlled lets the control API set the VU count.
	TypeExternallyControlled Type = "externally-controlled"
)

// Types lists every executor type.
func Types() []Type {
	return []Type{
		TypeConstantVUs,
		TypeRampingVUs,
		TypeConstantArrivalRate,
		TypeRampingArrivalRate,
		TypePerVUIterations,
		TypeSharedIterations,
		TypeExternallyControlled,
	}
}

// Executor defines the interface for load generation strategies.
//
// Executors control HOW load is generated: by managing a number of looping
// virtual users, or by starting iterations at a target rate on VUs drawn
// from a pool.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init validates and stores the configuration. Called once before Run.
	Init(ctx context.Context, config *Config) error

	// Run drives the scenario and blocks until it terminates: the regular
	// duration plus the grace window, the iteration budget, or a stop.
	Run(ctx context.Context, env *Env) error

	// Stop ends the scenario early. A graceful stop lets in-flight
	// iterations finish within the grace window; otherwise they are
	// interrupted at once.
	Stop(graceful bool)

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns how many VUs are claimed.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats
}

// Env carries what an executor needs to run iterations.
type Env struct {
	// Runner executes one iteration on a VU and records its outcome.
	Runner *performance.Runner

	// Metrics receives the executor's own samples (dropped iterations).
	Metrics *metrics.Aggregator

	Logger *zap.Logger

	// Transports creates the request layer of every new VU.
	Transports performance.TransportFactory
}

func (e *Env) logger() *zap.Logger {
	if e == nil || e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Stats contains real-time executor statistics.
type Stats struct {
	Name string `json:"name"`
	Type Type   `json:"type"`

	// Timing
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`
	MaxVUs    int `json:"maxVUs"`
	PeakVUs   int `json:"peakVUs"`

	// Iteration stats
	Iterations      int64 `json:"iterations"`
	Interrupted     int64 `json:"interrupted"`
	Dropped         int64 `json:"dropped"`
	TotalIterations int64 `json:"totalIterations,omitempty"`

	// Stage info (for ramping executors)
	CurrentStage int `json:"currentStage"`
	TotalStages  int `json:"totalStages"`

	// CurrentRate is the target start rate per time unit (arrival-rate
	// executors).
	CurrentRate float64 `json:"currentRate,omitempty"`

	Done bool `json:"done"`
}
