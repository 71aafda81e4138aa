package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// ErrNoRunner is returned by Run when the environment has no iteration runner.
var ErrNoRunner = errors.New("executor environment has no iteration runner")

// base holds what every executor shares: the duration contexts, the VU pool
// and iteration counters.
//
// Two contexts bound a run. The regular context ends when no new iterations
// may start; VUs observe it only between iterations. The max context ends
// after the grace window and interrupts whatever is still running.
type base struct {
	config *Config
	env    *Env
	logger *zap.Logger
	pool   *performance.Pool

	mu            sync.Mutex
	startTime     time.Time
	endTime       time.Time
	cancelRegular context.CancelFunc
	cancelMax     context.CancelFunc
	graceTimer    *time.Timer
	pendingStop   *bool

	running     atomic.Bool
	done        atomic.Bool
	iterations  atomic.Int64
	interrupted atomic.Int64
	dropped     atomic.Int64
}

func (b *base) init(config *Config, want Type) error {
	if config == nil {
		return fmt.Errorf("nil config for %s executor", want)
	}
	if config.Type != want {
		return fmt.Errorf("invalid config type: expected %s, got %s", want, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	b.config = config
	return nil
}

// begin creates the pool and the duration contexts. The returned function
// must be called once Run is done.
func (b *base) begin(ctx context.Context, env *Env, poolMax int) (context.Context, context.Context, func(), error) {
	if b.config == nil {
		return nil, nil, nil, fmt.Errorf("executor not initialized")
	}
	if env == nil || env.Runner == nil {
		return nil, nil, nil, ErrNoRunner
	}

	b.env = env
	b.logger = env.logger().With(
		zap.String("scenario", b.config.Name),
		zap.String("executor", string(b.config.Type)),
	)
	b.pool = performance.NewPool(b.config.Name, poolMax, env.Transports)

	regular := b.config.RegularDuration()
	grace := b.config.GracefulWindow()

	var (
		maxCtx, regularCtx       context.Context
		cancelMax, cancelRegular context.CancelFunc
	)
	if regular > 0 {
		maxCtx, cancelMax = context.WithTimeout(ctx, regular+grace)
		regularCtx, cancelRegular = context.WithTimeout(maxCtx, regular)
	} else {
		maxCtx, cancelMax = context.WithCancel(ctx)
		regularCtx, cancelRegular = context.WithCancel(maxCtx)
	}

	b.mu.Lock()
	b.startTime = time.Now()
	b.cancelRegular = cancelRegular
	b.cancelMax = cancelMax
	pending := b.pendingStop
	b.mu.Unlock()

	b.running.Store(true)
	b.logger.Debug("executor started",
		zap.Int("maxVUs", poolMax),
		zap.Duration("duration", regular),
		zap.Duration("gracefulStop", grace))

	if pending != nil {
		b.stop(*pending)
	}

	finish := func() {
		b.mu.Lock()
		if b.graceTimer != nil {
			b.graceTimer.Stop()
		}
		b.endTime = time.Now()
		b.mu.Unlock()
		cancelRegular()
		cancelMax()
		b.pool.Close()
		b.running.Store(false)
		b.done.Store(true)
		b.logger.Debug("executor finished",
			zap.Int64("iterations", b.iterations.Load()),
			zap.Int64("interrupted", b.interrupted.Load()),
			zap.Int64("dropped", b.dropped.Load()))
	}
	return regularCtx, maxCtx, finish, nil
}

// Stop ends the run early. A graceful stop ends the regular window and
// leaves the grace window for in-flight iterations.
func (b *base) Stop(graceful bool) {
	b.stop(graceful)
}

func (b *base) stop(graceful bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancelMax == nil {
		b.pendingStop = &graceful
		return
	}
	grace := b.config.GracefulWindow()
	if !graceful || grace <= 0 {
		b.cancelMax()
		return
	}
	b.cancelRegular()
	if b.graceTimer == nil {
		b.graceTimer = time.AfterFunc(grace, b.cancelMax)
	}
}

// loop runs iterations on vu until next reports no more work, the regular
// window ends or the VU is asked to stop. The caller releases the VU.
func (b *base) loop(regularCtx, maxCtx context.Context, vu *performance.VirtualUser, next func() (map[string]string, bool)) {
	vuCtx, err := vu.Activate(maxCtx)
	if err != nil {
		b.logger.Error("cannot activate VU", zap.Int("vu", vu.ID), zap.Error(err))
		return
	}
	defer vu.Deactivate()
	vu.MarkRunning()

	for regularCtx.Err() == nil && vuCtx.Err() == nil {
		if vu.StopRequested() && vu.ConfirmStop() {
			return
		}
		tags, ok := next()
		if !ok {
			return
		}
		b.runOnce(vuCtx, vu, tags)
	}
}

// runSingle activates vu for exactly one iteration, as arrival-rate
// executors do.
func (b *base) runSingle(maxCtx context.Context, vu *performance.VirtualUser, tags map[string]string) {
	vuCtx, err := vu.Activate(maxCtx)
	if err != nil {
		b.logger.Error("cannot activate VU", zap.Int("vu", vu.ID), zap.Error(err))
		return
	}
	defer vu.Deactivate()
	vu.MarkRunning()
	b.runOnce(vuCtx, vu, tags)
}

func (b *base) runOnce(ctx context.Context, vu *performance.VirtualUser, tags map[string]string) performance.IterationResult {
	res := b.env.Runner.Run(ctx, vu, tags)
	if res.Interrupted {
		b.interrupted.Add(1)
	} else {
		b.iterations.Add(1)
	}
	return res
}

// drop records an iteration start that found no free VU.
func (b *base) drop(tags map[string]string) {
	if b.dropped.Add(1) == 1 {
		b.logger.Warn("insufficient VUs, dropping iterations",
			zap.Int("maxVUs", b.pool.Max()))
	}
	if b.env.Metrics != nil {
		b.env.Metrics.Emit(metrics.DroppedIterations, metrics.Counter, 1, b.tags().With(tags))
	}
}

func (b *base) tags() metrics.Tags {
	return metrics.Tags{"scenario": b.config.Name}.With(b.config.Tags)
}

func (b *base) elapsed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startTime.IsZero() {
		return 0
	}
	if !b.endTime.IsZero() {
		return b.endTime.Sub(b.startTime)
	}
	return time.Since(b.startTime)
}

func (b *base) started() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startTime
}

// timeProgress is the share of the regular duration that has elapsed.
func (b *base) timeProgress() float64 {
	if b.done.Load() {
		return 1.0
	}
	if !b.running.Load() {
		return 0.0
	}
	total := b.config.RegularDuration()
	if total <= 0 {
		return 0.0
	}
	progress := float64(b.elapsed()) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns how many VUs are claimed.
func (b *base) GetActiveVUs() int {
	if !b.running.Load() || b.pool == nil {
		return 0
	}
	return b.pool.Active()
}

func (b *base) stats() *Stats {
	if b.config == nil {
		return &Stats{}
	}
	s := &Stats{
		Name:          b.config.Name,
		Type:          b.config.Type,
		StartTime:     b.started(),
		Elapsed:       b.elapsed(),
		TotalDuration: b.config.RegularDuration(),
		ActiveVUs:     b.GetActiveVUs(),
		MaxVUs:        b.config.MaxPoolVUs(),
		Iterations:    b.iterations.Load(),
		Interrupted:   b.interrupted.Load(),
		Dropped:       b.dropped.Load(),
		Done:          b.done.Load(),
	}
	if b.running.Load() || b.done.Load() {
		s.PeakVUs = b.pool.Peak()
	}
	return s
}

// sleepUntil waits until t or until ctx is done, reporting whether t was
// reached.
func sleepUntil(ctx context.Context, t time.Time) bool {
	wait := time.Until(t)
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
