package executor

import (
	"context"

	"github.com/masoud-msk/dev-stack/internal/performance/rate"
)

// ConstantArrivalRate starts iterations at a fixed rate per time unit,
// regardless of how long they take (open model).
//
// This is different from VU-based executors: the rate is held constant and
// VUs are drawn from a pool pre-sized to preAllocatedVUs that grows up to
// maxVUs. A start that finds every VU busy is dropped.
type ConstantArrivalRate struct {
	base
	arrivals *rate.ConstantArrivals
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if err := e.init(config, TypeConstantArrivalRate); err != nil {
		return err
	}
	e.arrivals = rate.NewConstantArrivals(config.Rate, config.TimeUnit, config.Duration)
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantArrivalRate) Run(ctx context.Context, env *Env) error {
	regularCtx, maxCtx, finish, err := e.begin(ctx, env, e.config.MaxVUs)
	if err != nil {
		return err
	}
	defer finish()

	e.pool.Preallocate(e.config.PreAllocatedVUs)
	e.drive(regularCtx, maxCtx, e.arrivals, nil)
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantArrivalRate) GetProgress() float64 {
	return e.timeProgress()
}

// GetStats returns executor statistics.
func (e *ConstantArrivalRate) GetStats() *Stats {
	s := e.stats()
	if e.config != nil {
		s.TargetVUs = e.config.PreAllocatedVUs
		s.CurrentRate = e.config.Rate
		s.TotalIterations = e.arrivals.Expected()
	}
	return s
}

// Ensure ConstantArrivalRate implements Executor
var _ Executor = (*ConstantArrivalRate)(nil)
