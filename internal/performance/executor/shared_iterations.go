package executor

import (
	"context"
	"sync"
	"sync/atomic"
)

// SharedIterations runs a total number of iterations shared by a fixed set
// of VUs. Every VU is reserved one iteration up front; after that each VU
// claims the next iteration as soon as it is free, so fast VUs run more of
// them. The run ends when the budget is used up or maxDuration elapses.
type SharedIterations struct {
	base
	claimed atomic.Int64
}

// NewSharedIterations creates a new shared iterations executor.
func NewSharedIterations() *SharedIterations {
	return &SharedIterations{}
}

// Type returns the executor type.
func (e *SharedIterations) Type() Type {
	return TypeSharedIterations
}

// Init initializes the executor with configuration.
func (e *SharedIterations) Init(ctx context.Context, config *Config) error {
	return e.init(config, TypeSharedIterations)
}

// Run starts the executor and blocks until completion.
func (e *SharedIterations) Run(ctx context.Context, env *Env) error {
	vus := e.config.VUs
	if int64(vus) > e.config.Iterations {
		vus = int(e.config.Iterations)
	}
	regularCtx, maxCtx, finish, err := e.begin(ctx, env, vus)
	if err != nil {
		return err
	}
	defer finish()

	total := e.config.Iterations
	e.claimed.Store(int64(vus))

	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		vu, ok := e.pool.TryAcquire()
		if !ok {
			break
		}
		reserved := true
		next := func() (map[string]string, bool) {
			if reserved {
				reserved = false
				return nil, true
			}
			return nil, e.claimed.Add(1) <= total
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.pool.Release(vu)
			e.loop(regularCtx, maxCtx, vu, next)
		}()
	}
	wg.Wait()

	if regularCtx.Err() != nil && e.iterations.Load()+e.interrupted.Load() < total {
		e.logger.Info("maxDuration reached before all iterations ran")
	}
	return nil
}

// GetProgress returns the share of the iteration budget that has run.
func (e *SharedIterations) GetProgress() float64 {
	if e.done.Load() {
		return 1.0
	}
	if e.config == nil || e.config.Iterations <= 0 {
		return 0.0
	}
	progress := float64(e.iterations.Load()) / float64(e.config.Iterations)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetStats returns executor statistics.
func (e *SharedIterations) GetStats() *Stats {
	s := e.stats()
	if e.config != nil {
		s.TargetVUs = e.config.VUs
		s.TotalIterations = e.config.Iterations
	}
	return s
}

// Ensure SharedIterations implements Executor
var _ Executor = (*SharedIterations)(nil)
