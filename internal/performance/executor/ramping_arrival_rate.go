package executor

import (
	"context"
	"time"

	"github.com/masoud-msk/dev-stack/internal/performance/rate"
	"github.com/masoud-msk/dev-stack/internal/performance/timeline"
)

// RampingArrivalRate ramps the iteration start rate linearly through its
// stages, starting from startRate. It shares the pool and drop mechanics of
// ConstantArrivalRate; every iteration carries the stage tags of its start.
type RampingArrivalRate struct {
	base
	schedule timeline.Schedule
	arrivals *rate.RampingArrivals
}

// NewRampingArrivalRate creates a new ramping arrival rate executor.
func NewRampingArrivalRate() *RampingArrivalRate {
	return &RampingArrivalRate{}
}

// Type returns the executor type.
func (e *RampingArrivalRate) Type() Type {
	return TypeRampingArrivalRate
}

// Init initializes the executor with configuration.
func (e *RampingArrivalRate) Init(ctx context.Context, config *Config) error {
	if err := e.init(config, TypeRampingArrivalRate); err != nil {
		return err
	}
	e.schedule = timeline.Schedule{Start: config.StartRate, Stages: config.Stages}
	e.arrivals = rate.NewRampingArrivals(config.StartRate, config.Stages, config.TimeUnit).Scale(config.RateScale)
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingArrivalRate) Run(ctx context.Context, env *Env) error {
	regularCtx, maxCtx, finish, err := e.begin(ctx, env, e.config.MaxVUs)
	if err != nil {
		return err
	}
	defer finish()

	e.pool.Preallocate(e.config.PreAllocatedVUs)
	e.drive(regularCtx, maxCtx, e.arrivals, func(offset time.Duration) map[string]string {
		return e.schedule.At(offset).Tags()
	})
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingArrivalRate) GetProgress() float64 {
	return e.timeProgress()
}

// GetStats returns executor statistics.
func (e *RampingArrivalRate) GetStats() *Stats {
	s := e.stats()
	if e.config == nil {
		return s
	}
	s.TargetVUs = e.config.PreAllocatedVUs
	s.TotalStages = len(e.config.Stages)
	s.TotalIterations = int64(e.arrivals.Total())
	s.CurrentStage = e.schedule.At(s.Elapsed).Index
	s.CurrentRate = e.arrivals.RateAt(s.Elapsed)
	return s
}

// Ensure RampingArrivalRate implements Executor
var _ Executor = (*RampingArrivalRate)(nil)
