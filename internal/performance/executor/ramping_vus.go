package executor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/timeline"
)

// rampTick is how often the target VU count is re-evaluated.
var rampTick = 100 * time.Millisecond

// RampingVUs ramps the number of looping VUs through its stages.
//
// The target is interpolated linearly within each stage, starting from
// startVUs. Scaling up first revives VUs that were asked to stop but are
// still finishing an iteration, then claims new ones; scaling down asks the
// most recently started VUs to stop at their next iteration boundary and
// interrupts them if they are still busy after gracefulRampDown.
type RampingVUs struct {
	base
	schedule timeline.Schedule

	regularCtx context.Context
	maxCtx     context.Context

	mu     sync.Mutex
	live   []*performance.VirtualUser
	target atomic.Int64
	wg     sync.WaitGroup
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if err := e.init(config, TypeRampingVUs); err != nil {
		return err
	}
	e.schedule = timeline.Schedule{Start: int64(config.StartVUs), Stages: config.Stages}
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, env *Env) error {
	regularCtx, maxCtx, finish, err := e.begin(ctx, env, e.config.MaxPoolVUs())
	if err != nil {
		return err
	}
	defer finish()

	e.mu.Lock()
	e.regularCtx, e.maxCtx = regularCtx, maxCtx
	e.mu.Unlock()

	total := e.schedule.TotalDuration()
	start := e.started()
	e.scale(e.config.StartVUs)

	ticker := time.NewTicker(rampTick)
loop:
	for {
		select {
		case <-regularCtx.Done():
			break loop
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if elapsed >= total {
				break loop
			}
			e.scale(e.targetAt(elapsed))
		}
	}
	ticker.Stop()

	// The last stage may end on a lower target than the last tick applied.
	last := e.config.Stages[len(e.config.Stages)-1].Target
	e.scaleDown(int(last))

	e.wg.Wait()
	return nil
}

// targetAt converts the interpolated schedule value into a VU count. The
// count changes exactly when the value crosses an integer, in either
// direction.
func (e *RampingVUs) targetAt(elapsed time.Duration) int {
	v := e.schedule.ValueAt(elapsed)
	if e.schedule.At(elapsed).Profile == timeline.ProfileRampDown {
		return int(math.Ceil(v - 1e-9))
	}
	return int(math.Floor(v + 1e-9))
}

func isLive(vu *performance.VirtualUser) bool {
	s := vu.State()
	return s == performance.VUStateStarting || s == performance.VUStateRunning
}

// scale brings the number of live VUs to n.
func (e *RampingVUs) scale(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.target.Store(int64(n))

	running := 0
	for _, vu := range e.live {
		if isLive(vu) {
			running++
		}
	}

	for i := len(e.live) - 1; i >= 0 && running < n; i-- {
		if e.live[i].Revive() {
			running++
		}
	}

	for running < n && e.regularCtx.Err() == nil {
		vu, ok := e.pool.TryAcquire()
		if !ok {
			break
		}
		e.live = append(e.live, vu)
		e.wg.Add(1)
		go e.runVU(vu)
		running++
	}

	e.stopExcessLocked(running, n)
}

// scaleDown only ever removes VUs.
func (e *RampingVUs) scaleDown(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int64(n) < e.target.Load() {
		e.target.Store(int64(n))
	}

	running := 0
	for _, vu := range e.live {
		if isLive(vu) {
			running++
		}
	}
	e.stopExcessLocked(running, n)
}

func (e *RampingVUs) stopExcessLocked(running, n int) {
	for i := len(e.live) - 1; i >= 0 && running > n; i-- {
		vu := e.live[i]
		gen, ok := vu.RequestStop()
		if !ok {
			continue
		}
		running--
		e.logger.Debug("ramping down VU", zap.Int("vu", vu.ID), zap.Int("target", n))

		grace := e.config.GracefulRampDown
		if grace <= 0 {
			vu.HardStopIf(gen)
			continue
		}
		time.AfterFunc(grace, func() { vu.HardStopIf(gen) })
	}
}

func (e *RampingVUs) runVU(vu *performance.VirtualUser) {
	defer e.wg.Done()

	start := e.started()
	e.loop(e.regularCtx, e.maxCtx, vu, func() (map[string]string, bool) {
		return e.schedule.At(time.Since(start)).Tags(), true
	})

	e.mu.Lock()
	for i, v := range e.live {
		if v == vu {
			e.live = append(e.live[:i], e.live[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	e.pool.Release(vu)

	// A stop confirmed while the controller wanted the VU back leaves the
	// count short; top it up now instead of on the next tick.
	if e.regularCtx.Err() == nil {
		e.scale(int(e.target.Load()))
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	return e.timeProgress()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	s := e.stats()
	if e.config == nil {
		return s
	}
	s.TargetVUs = int(e.target.Load())
	s.TotalStages = len(e.config.Stages)
	s.CurrentStage = e.schedule.At(s.Elapsed).Index
	return s
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
