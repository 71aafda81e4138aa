package executor

import (
	"context"
	"sync"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// This is the simplest executor: start N VUs and let them run iterations
// back to back until the duration expires (closed model). Iterations still
// running at that point get the graceful stop window to finish.
type ConstantVUs struct {
	base
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	return e.init(config, TypeConstantVUs)
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, env *Env) error {
	regularCtx, maxCtx, finish, err := e.begin(ctx, env, e.config.VUs)
	if err != nil {
		return err
	}
	defer finish()

	var wg sync.WaitGroup
	for i := 0; i < e.config.VUs; i++ {
		vu, ok := e.pool.TryAcquire()
		if !ok {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.pool.Release(vu)
			e.loop(regularCtx, maxCtx, vu, always)
		}()
	}
	wg.Wait()
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	return e.timeProgress()
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	s := e.stats()
	if e.config != nil {
		s.TargetVUs = e.config.VUs
	}
	return s
}

func always() (map[string]string, bool) {
	return nil, true
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
