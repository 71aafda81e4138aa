package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// setup runs the setup hook once under setupTimeout and serializes its
// result.
func (e *Engine) setup(ctx context.Context) (performance.SetupData, error) {
	if e.script.Setup == nil {
		return performance.SetupData{}, nil
	}

	it, done := e.phaseIteration(PhaseSetup, performance.SetupData{})
	defer done()

	var value any
	start := time.Now()
	err := callPhase(ctx, PhaseSetup, e.opts.setupTimeout(), func(ctx context.Context) error {
		v, err := e.script.Setup(ctx, it)
		value = v
		return err
	})
	if err != nil {
		return performance.SetupData{}, err
	}

	data, err := performance.NewSetupData(value)
	if err != nil {
		return performance.SetupData{}, err
	}
	e.logger.Debug("setup finished", zap.Duration("took", time.Since(start)), zap.Int("bytes", len(data.Raw())))
	return data, nil
}

// teardown runs the teardown hook once. It is not cancelled by ctx so that a
// stopped run still cleans up; teardownTimeout bounds it.
func (e *Engine) teardown(ctx context.Context, data performance.SetupData) error {
	if e.script.Teardown == nil {
		return nil
	}
	it, done := e.phaseIteration(PhaseTeardown, data)
	defer done()
	return callPhase(context.WithoutCancel(ctx), PhaseTeardown, e.opts.teardownTimeout(), func(ctx context.Context) error {
		return e.script.Teardown(ctx, it)
	})
}

// phaseIteration builds the iteration context of a setup or teardown hook.
// The returned func releases its transport.
func (e *Engine) phaseIteration(phase Phase, data performance.SetupData) (*performance.Iteration, func()) {
	env := make(map[string]string, len(e.opts.Env))
	for k, v := range e.opts.Env {
		env[k] = v
	}
	it := performance.NewIteration(string(phase), data, e.agg, metrics.Tags{"scenario": string(phase)}, env)
	if e.opts.Transports == nil {
		return it, func() {}
	}
	it.Transport = e.opts.Transports(0)
	if it.Transport == nil {
		return it, func() {}
	}
	return it, it.Transport.Close
}

// callPhase runs fn with a deadline. A hook that ignores its context is
// abandoned when the deadline passes.
func callPhase(ctx context.Context, phase Phase, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- protect(func() error { return fn(ctx) })
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out after %s", phase, timeout)
		}
		return ctx.Err()
	}
}

// protect converts a panic in fn into a *PanicError.
func protect(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return fn()
}
