package performance

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// IterationResult is the outcome of one iteration.
type IterationResult struct {
	VUID      int           `json:"vuId"`
	Iteration int64         `json:"iteration"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	// Interrupted is set when a hard stop cut the iteration short. Such
	// iterations are counted apart from completed ones.
	Interrupted bool         `json:"interrupted,omitempty"`
	Err         error        `json:"-"`
	Tags        metrics.Tags `json:"tags,omitempty"`
}

// IterationError wraps a fault raised inside an iteration body.
type IterationError struct {
	VUID      int
	Iteration int64
	Err       error
}

func (e *IterationError) Error() string {
	return fmt.Sprintf("VU %d iteration %d: %v", e.VUID, e.Iteration, e.Err)
}

func (e *IterationError) Unwrap() error { return e.Err }

// Runner executes single iterations on behalf of a scenario's executor. It
// stamps tags, isolates panics, enforces the minimum iteration duration and
// records the outcome samples.
type Runner struct {
	Scenario string
	Exec     IterationFunc
	Data     SetupData
	Env      map[string]string
	Tags     map[string]string
	Metrics  *metrics.Aggregator
	Logger   *zap.Logger

	MinIterationDuration time.Duration

	// OnResult, when set, observes every result after it was recorded.
	OnResult func(IterationResult)

	started  atomic.Int64
	failures atomic.Int64
}

// Started returns how many iterations this runner has begun.
func (r *Runner) Started() int64 {
	return r.started.Load()
}

// Run executes one iteration on vu. ctx is the VU's activation context;
// cancelling it interrupts the iteration. extraTags are applied on top of the
// scenario tags, typically the stage tags of ramping executors.
func (r *Runner) Run(ctx context.Context, vu *VirtualUser, extraTags map[string]string) IterationResult {
	start := time.Now()
	tags := metrics.Tags{"scenario": r.Scenario}.With(r.Tags).With(extraTags)

	it := &Iteration{
		Scenario:          r.Scenario,
		VU:                vu.ID,
		Number:            vu.nextIteration(),
		ScenarioIteration: r.started.Add(1) - 1,
		Setup:             r.Data,
		Env:               copyEnv(r.Env),
		Transport:         vu.Transport,
		aggregator:        r.Metrics,
		tags:              tags,
	}
	if vu.Transport != nil {
		vu.Transport.NewIteration()
	}

	err := r.call(ctx, it)
	if err == nil && r.MinIterationDuration > 0 {
		sleepCtx(ctx, r.MinIterationDuration-time.Since(start))
	}

	res := IterationResult{
		VUID:      vu.ID,
		Iteration: it.Number,
		StartTime: start,
		Duration:  time.Since(start),
		Success:   err == nil,
		Err:       err,
		Tags:      it.Tags(),
	}
	if err != nil && ctx.Err() != nil {
		res.Interrupted = true
	}
	r.record(res)
	return res
}

func (r *Runner) call(ctx context.Context, it *Iteration) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &IterationError{
				VUID:      it.VU,
				Iteration: it.Number,
				Err:       fmt.Errorf("panic: %v\n%s", p, debug.Stack()),
			}
		}
	}()

	data, derr := it.Setup.Value()
	if derr != nil {
		return &IterationError{VUID: it.VU, Iteration: it.Number, Err: derr}
	}
	it.Data = data

	if r.Exec == nil {
		return nil
	}
	if err := r.Exec(ctx, it); err != nil {
		var iterErr *IterationError
		if errors.As(err, &iterErr) {
			return err
		}
		return &IterationError{VUID: it.VU, Iteration: it.Number, Err: err}
	}
	return nil
}

func (r *Runner) record(res IterationResult) {
	if r.Metrics != nil {
		now := time.Now()
		if res.Interrupted {
			r.Metrics.Add(metrics.Sample{Metric: metrics.Interrupted, Kind: metrics.Counter, Value: 1, Tags: res.Tags, Time: now})
		} else {
			r.Metrics.Add(metrics.Sample{Metric: metrics.Iterations, Kind: metrics.Counter, Value: 1, Tags: res.Tags, Time: now})
			r.Metrics.Add(metrics.Sample{
				Metric: metrics.IterationDuration,
				Kind:   metrics.Trend,
				Value:  float64(res.Duration) / float64(time.Millisecond),
				Tags:   res.Tags,
				Time:   now,
			})
			if !res.Success {
				r.Metrics.Add(metrics.Sample{Metric: metrics.IterationsFailed, Kind: metrics.Counter, Value: 1, Tags: res.Tags, Time: now})
			}
		}
	}

	if !res.Success && !res.Interrupted && r.Logger != nil {
		// The first failure is a warning, the rest go to debug.
		if r.failures.Add(1) == 1 {
			r.Logger.Warn("iteration failed", zap.String("scenario", r.Scenario), zap.Int("vu", res.VUID), zap.Error(res.Err))
		} else {
			r.Logger.Debug("iteration failed", zap.String("scenario", r.Scenario), zap.Int("vu", res.VUID), zap.Error(res.Err))
		}
	}

	if r.OnResult != nil {
		r.OnResult(res)
	}
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
