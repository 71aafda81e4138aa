package executor

import (
	"context"
	"sync"
)

// PerVUIterations has every VU run exactly the configured number of
// iterations, independently of the others. The run ends when all VUs are
// done or maxDuration elapses.
type PerVUIterations struct {
	base
}

// NewPerVUIterations creates a new per-VU iterations executor.
func NewPerVUIterations() *PerVUIterations {
	return &PerVUIterations{}
}

// Type returns the executor type.
func (e *PerVUIterations) Type() Type {
	return TypePerVUIterations
}

// Init initializes the executor with configuration.
func (e *PerVUIterations) Init(ctx context.Context, config *Config) error {
	return e.init(config, TypePerVUIterations)
}

// Run starts the executor and blocks until completion.
func (e *PerVUIterations) Run(ctx context.Context, env *Env) error {
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

		var n int64
		next := func() (map[string]string, bool) {
			n++
			return nil, n <= e.config.Iterations
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.pool.Release(vu)
			e.loop(regularCtx, maxCtx, vu, next)
		}()
	}
	wg.Wait()
	return nil
}

// GetProgress returns the share of all VUs' iterations that has run.
func (e *PerVUIterations) GetProgress() float64 {
	if e.done.Load() {
		return 1.0
	}
	total := e.total()
	if total <= 0 {
		return 0.0
	}
	progress := float64(e.iterations.Load()) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

func (e *PerVUIterations) total() int64 {
	if e.config == nil {
		return 0
	}
	return int64(e.config.VUs) * e.config.Iterations
}

// GetStats returns executor statistics.
func (e *PerVUIterations) GetStats() *Stats {
	s := e.stats()
	if e.config != nil {
		s.TargetVUs = e.config.VUs
		s.TotalIterations = e.total()
	}
	return s
}

// Ensure PerVUIterations implements Executor
var _ Executor = (*PerVUIterations)(nil)
