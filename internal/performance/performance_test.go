package performance_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

type fakeTransport struct {
	resets atomic.Int64
	closed atomic.Bool
}

func (f *fakeTransport) NewIteration() { f.resets.Add(1) }
func (f *fakeTransport) Close()        { f.closed.Store(true) }

func TestVirtualUser_ConfirmStopRacesRevive(t *testing.T) {
	vu := performance.NewVirtualUser(1, "s", nil)
	_, err := vu.Activate(context.Background())
	require.NoError(t, err)
	require.True(t, vu.MarkRunning())

	_, ok := vu.RequestStop()
	require.True(t, ok)
	require.True(t, vu.Revive())
	assert.False(t, vu.ConfirmStop(), "a revived VU keeps running")
	assert.Equal(t, performance.VUStateRunning, vu.State())

	_, ok = vu.RequestStop()
	require.True(t, ok)
	require.True(t, vu.ConfirmStop())
	assert.False(t, vu.Revive(), "a confirmed stop cannot be revived")
	assert.Equal(t, performance.VUStateStopped, vu.State())

	vu.Deactivate()
	assert.Equal(t, performance.VUStateStopped, vu.State())
}

func TestVUState_String(t *testing.T) {
	assert.Equal(t, "idle", performance.VUStateIdle.String())
	assert.Equal(t, "starting", performance.VUStateStarting.String())
	assert.Equal(t, "running", performance.VUStateRunning.String())
	assert.Equal(t, "stopping", performance.VUStateStopping.String())
	assert.Equal(t, "stopped", performance.VUStateStopped.String())
	assert.Equal(t, "unknown", performance.VUState(42).String())
}

func TestVirtualUser_StateMachine(t *testing.T) {
	vu := performance.NewVirtualUser(1, "s", nil)
	assert.Equal(t, performance.VUStateIdle, vu.State())

	ctx, err := vu.Activate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, performance.VUStateStarting, vu.State())

	_, err = vu.Activate(context.Background())
	assert.Error(t, err, "a claimed VU cannot be activated twice")

	assert.True(t, vu.MarkRunning())
	assert.Equal(t, performance.VUStateRunning, vu.State())

	gen, ok := vu.RequestStop()
	require.True(t, ok)
	assert.True(t, vu.StopRequested())

	assert.True(t, vu.Revive())
	assert.Equal(t, performance.VUStateRunning, vu.State())
	assert.False(t, vu.HardStopIf(gen), "revived VU ignores the stale stop request")
	assert.NoError(t, ctx.Err())

	gen2, ok := vu.RequestStop()
	require.True(t, ok)
	assert.NotEqual(t, gen, gen2)
	assert.True(t, vu.HardStopIf(gen2))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	vu.Deactivate()
	assert.Equal(t, performance.VUStateStopped, vu.State())
	_, ok = vu.RequestStop()
	assert.False(t, ok)
}

func TestPool_NeverExceedsMax(t *testing.T) {
	var created atomic.Int64
	pool := performance.NewPool("s", 3, func(id int) performance.Transport {
		created.Add(1)
		return &fakeTransport{}
	})

	assert.Equal(t, 2, pool.Preallocate(2))
	assert.Equal(t, int64(2), created.Load())

	var vus []*performance.VirtualUser
	for i := 0; i < 5; i++ {
		if vu, ok := pool.TryAcquire(); ok {
			vus = append(vus, vu)
		}
	}
	assert.Len(t, vus, 3)
	assert.Equal(t, 3, pool.Active())
	assert.Equal(t, 3, pool.Peak())

	pool.Release(vus[0])
	assert.Equal(t, 2, pool.Active())

	vu, ok := pool.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, vus[0].ID, vu.ID, "released VUs are reused")
	assert.Equal(t, 3, pool.Created())
}

func TestPool_ConcurrentAcquireRelease(t *testing.T) {
	pool := performance.NewPool("s", 4, nil)
	var peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				vu, ok := pool.TryAcquire()
				if !ok {
					continue
				}
				if n := int64(pool.Active()); n > peak.Load() {
					peak.Store(n)
				}
				pool.Release(vu)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, pool.Peak(), 4)
	assert.LessOrEqual(t, peak.Load(), int64(4))
	assert.Equal(t, 0, pool.Active())
}

func TestPool_SetMaxShrinks(t *testing.T) {
	var transports []*fakeTransport
	pool := performance.NewPool("s", 4, func(int) performance.Transport {
		ft := &fakeTransport{}
		transports = append(transports, ft)
		return ft
	})
	pool.Preallocate(4)

	a, _ := pool.TryAcquire()
	b, _ := pool.TryAcquire()
	require.NoError(t, pool.SetMax(1))
	assert.Equal(t, 2, pool.Created(), "idle VUs beyond the maximum are destroyed")

	_, ok := pool.TryAcquire()
	assert.False(t, ok)

	pool.Release(a)
	assert.Equal(t, 1, pool.Created())
	pool.Release(b)
	assert.Equal(t, 1, pool.Created())

	assert.Error(t, pool.SetMax(-1))
}

func TestSetupData_DeepCopy(t *testing.T) {
	data, err := performance.NewSetupData(map[string]any{
		"data": map[string]any{"origin": "10.0.0.1", "list": []any{1, 2}},
	})
	require.NoError(t, err)

	var first map[string]any
	require.NoError(t, data.Decode(&first))
	first["data"].(map[string]any)["origin"] = "mutated"

	second, err := data.Value()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", second.(map[string]any)["data"].(map[string]any)["origin"])

	assert.Equal(t, "10.0.0.1", data.Get("$.data.origin").String())
	assert.Equal(t, int64(2), data.Get("data.list.1").Int())

	raw := data.Raw()
	raw[0] = 'x'
	assert.Equal(t, byte('{'), data.Raw()[0])

	_, err = performance.NewSetupData(func() {})
	assert.Error(t, err)

	empty, err := performance.NewSetupData(nil)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func newRunner(t *testing.T, exec performance.IterationFunc) (*performance.Runner, *metrics.Aggregator) {
	agg := metrics.NewAggregator(zaptest.NewLogger(t))
	data, err := performance.NewSetupData(map[string]any{"token": "abc"})
	require.NoError(t, err)
	return &performance.Runner{
		Scenario: "contacts",
		Exec:     exec,
		Data:     data,
		Env:      map[string]string{"MY_HOSTNAME": "example.test"},
		Tags:     map[string]string{"team": "core"},
		Metrics:  agg,
		Logger:   zaptest.NewLogger(t),
	}, agg
}

func activeVU(t *testing.T, transport performance.Transport) (*performance.VirtualUser, context.Context) {
	vu := performance.NewVirtualUser(7, "contacts", transport)
	ctx, err := vu.Activate(context.Background())
	require.NoError(t, err)
	vu.MarkRunning()
	return vu, ctx
}

func TestRunner_RecordsSuccess(t *testing.T) {
	var seen *performance.Iteration
	runner, agg := newRunner(t, func(ctx context.Context, it *performance.Iteration) error {
		seen = it
		it.SetTag("custom", "1")
		it.Trend("my_trend", 5)
		it.Data.(map[string]any)["token"] = "changed"
		return nil
	})

	ft := &fakeTransport{}
	vu, ctx := activeVU(t, ft)
	res := runner.Run(ctx, vu, map[string]string{"stage": "0", "stage_profile": "ramp-up"})

	assert.True(t, res.Success)
	assert.Equal(t, int64(0), res.Iteration)
	assert.Equal(t, "contacts", res.Tags["scenario"])
	assert.Equal(t, "core", res.Tags["team"])
	assert.Equal(t, "ramp-up", res.Tags["stage_profile"])
	assert.Equal(t, "1", res.Tags["custom"])
	assert.Equal(t, int64(1), ft.resets.Load())
	assert.Equal(t, "example.test", seen.Env["MY_HOSTNAME"])
	assert.Equal(t, 7, seen.VU)

	assert.Equal(t, 1.0, agg.Counter(metrics.Iterations))
	assert.Equal(t, 0.0, agg.Counter(metrics.IterationsFailed))
	_, sink, ok := agg.Lookup("my_trend")
	require.True(t, ok)
	assert.Equal(t, int64(1), sink.Count())

	// The next iteration gets its own copy of the setup value.
	runner.Exec = func(ctx context.Context, it *performance.Iteration) error {
		assert.Equal(t, "abc", it.Data.(map[string]any)["token"])
		return nil
	}
	res = runner.Run(ctx, vu, nil)
	assert.Equal(t, int64(1), res.Iteration)
	assert.Equal(t, int64(2), runner.Started())
}

func TestRunner_RecoversPanics(t *testing.T) {
	runner, agg := newRunner(t, func(ctx context.Context, it *performance.Iteration) error {
		panic("boom")
	})
	vu, ctx := activeVU(t, nil)

	res := runner.Run(ctx, vu, nil)
	assert.False(t, res.Success)
	var iterErr *performance.IterationError
	require.ErrorAs(t, res.Err, &iterErr)
	assert.Contains(t, iterErr.Error(), "boom")
	assert.Equal(t, 1.0, agg.Counter(metrics.Iterations))
	assert.Equal(t, 1.0, agg.Counter(metrics.IterationsFailed))
}

func TestRunner_InterruptedIteration(t *testing.T) {
	runner, agg := newRunner(t, func(ctx context.Context, it *performance.Iteration) error {
		<-ctx.Done()
		return ctx.Err()
	})
	vu, ctx := activeVU(t, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		vu.HardStop()
	}()
	res := runner.Run(ctx, vu, nil)

	assert.True(t, res.Interrupted)
	assert.True(t, errors.Is(res.Err, context.Canceled))
	assert.Equal(t, 0.0, agg.Counter(metrics.Iterations))
	assert.Equal(t, 1.0, agg.Counter(metrics.Interrupted))
}

func TestRunner_MinIterationDuration(t *testing.T) {
	runner, _ := newRunner(t, func(ctx context.Context, it *performance.Iteration) error { return nil })
	runner.MinIterationDuration = 50 * time.Millisecond
	vu, ctx := activeVU(t, nil)

	res := runner.Run(ctx, vu, nil)
	assert.GreaterOrEqual(t, res.Duration, 50*time.Millisecond)
}

func TestIteration_Check(t *testing.T) {
	agg := metrics.NewAggregator(nil)
	require.NoError(t, agg.AddSubmetric("checks{check:status is 200}"))
	it := performance.NewIteration("setup", performance.SetupData{}, agg, metrics.Tags{"phase": "setup"}, nil)

	ok := it.Check(map[string]bool{"status is 200": true, "body not empty": false})
	assert.False(t, ok)

	_, sink, found := agg.Lookup("checks{check:status is 200}")
	require.True(t, found)
	rate, _ := sink.Value("rate", 0)
	assert.Equal(t, 1.0, rate)
}
