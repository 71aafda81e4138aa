package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/performance"
)

// ErrFinished is returned when controlling an executor that is done.
var ErrFinished = errors.New("scenario has finished")

// ControlStatus is the live state of an externally controlled scenario.
type ControlStatus struct {
	VUs     int  `json:"vus"`
	MaxVUs  int  `json:"vusMax"`
	Active  int  `json:"active"`
	Running bool `json:"running"`
	Stopped bool `json:"stopped"`
}

// Controllable is implemented by executors whose VU count can be changed
// while they run.
type Controllable interface {
	UpdateConfig(vus, maxVUs int) error
	Status() ControlStatus
	Stop(graceful bool)
}

// ExternallyControlled runs a VU count set through the control API. It has
// no graceful stop: scaling down and stopping interrupt VUs mid-iteration.
// A zero duration runs until stopped.
type ExternallyControlled struct {
	base

	mu         sync.Mutex
	vus        int
	maxVUs     int
	started    bool
	stopped    bool
	regularCtx context.Context
	maxCtx     context.Context
	live       []*performance.VirtualUser
	wg         sync.WaitGroup
}

// NewExternallyControlled creates a new externally controlled executor.
func NewExternallyControlled() *ExternallyControlled {
	return &ExternallyControlled{}
}

// Type returns the executor type.
func (e *ExternallyControlled) Type() Type {
	return TypeExternallyControlled
}

// Init initializes the executor with configuration.
func (e *ExternallyControlled) Init(ctx context.Context, config *Config) error {
	if err := e.init(config, TypeExternallyControlled); err != nil {
		return err
	}
	e.vus = config.VUs
	e.maxVUs = config.MaxVUs
	return nil
}

// Run starts the executor and blocks until the duration ends or it is stopped.
func (e *ExternallyControlled) Run(ctx context.Context, env *Env) error {
	e.mu.Lock()
	maxVUs := e.maxVUs
	e.mu.Unlock()

	regularCtx, maxCtx, finish, err := e.begin(ctx, env, maxVUs)
	if err != nil {
		return err
	}
	defer finish()

	e.mu.Lock()
	e.regularCtx, e.maxCtx = regularCtx, maxCtx
	e.started = true
	e.scaleLocked(e.vus)
	e.mu.Unlock()

	<-regularCtx.Done()

	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

// UpdateConfig changes the live and maximum VU count.
func (e *ExternallyControlled) UpdateConfig(vus, maxVUs int) error {
	if vus < 0 || maxVUs < 0 {
		return fmt.Errorf("vus and maxVUs must be >= 0")
	}
	if vus > maxVUs {
		return fmt.Errorf("vus (%d) must be <= maxVUs (%d)", vus, maxVUs)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || e.done.Load() {
		return ErrFinished
	}

	e.vus, e.maxVUs = vus, maxVUs
	if !e.started {
		return nil
	}

	if err := e.pool.SetMax(maxVUs); err != nil {
		return err
	}
	e.scaleLocked(vus)
	e.logger.Info("scenario scaled", zap.Int("vus", vus), zap.Int("maxVUs", maxVUs))
	return nil
}

// Status returns the live state.
func (e *ExternallyControlled) Status() ControlStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ControlStatus{
		VUs:     e.vus,
		MaxVUs:  e.maxVUs,
		Active:  e.GetActiveVUs(),
		Running: e.started && !e.stopped,
		Stopped: e.stopped || e.done.Load(),
	}
}

// Stop interrupts every VU at once; the graceful flag is ignored.
func (e *ExternallyControlled) Stop(graceful bool) {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.stop(false)
}

func (e *ExternallyControlled) scaleLocked(n int) {
	running := 0
	for _, vu := range e.live {
		if isLive(vu) {
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

	for i := len(e.live) - 1; i >= 0 && running > n; i-- {
		vu := e.live[i]
		if _, ok := vu.RequestStop(); ok {
			vu.HardStop()
			running--
		}
	}
}

func (e *ExternallyControlled) runVU(vu *performance.VirtualUser) {
	defer e.wg.Done()
	e.loop(e.regularCtx, e.maxCtx, vu, always)

	e.mu.Lock()
	for i, v := range e.live {
		if v == vu {
			e.live = append(e.live[:i], e.live[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	e.pool.Release(vu)
}

// GetProgress returns current progress, 0 while running without a duration.
func (e *ExternallyControlled) GetProgress() float64 {
	return e.timeProgress()
}

// GetStats returns executor statistics.
func (e *ExternallyControlled) GetStats() *Stats {
	s := e.stats()
	e.mu.Lock()
	s.TargetVUs = e.vus
	s.MaxVUs = e.maxVUs
	e.mu.Unlock()
	return s
}

// Ensure ExternallyControlled implements Executor and Controllable
var (
	_ Executor     = (*ExternallyControlled)(nil)
	_ Controllable = (*ExternallyControlled)(nil)
)
