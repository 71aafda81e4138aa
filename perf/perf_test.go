package perf_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/masoud-msk/dev-stack/perf"
)

const doc = `
scenarios:
  smoke:
    executor: per-vu-iterations
    vus: 3
    iterations: 2
    env:
      STAGE: smoke
thresholds:
  iterations: ["count==6"]
`

func TestRunner_Run(t *testing.T) {
	cfg, err := perf.Parse([]byte(doc), perf.FormatYAML)
	require.NoError(t, err)

	var calls atomic.Int64
	var sawEnv atomic.Bool
	script := &perf.Script{
		Exec: map[string]perf.IterationFunc{"default": func(ctx context.Context, it *perf.Iteration) error {
			calls.Add(1)
			if it.Env["STAGE"] == "smoke" && it.Env["OWNER"] == "perf-test" {
				sawEnv.Store(true)
			}
			return nil
		}},
	}

	runner := perf.NewRunner(cfg, script)
	runner.Env = map[string]string{"OWNER": "perf-test"}
	runner.Logger = zaptest.NewLogger(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := runner.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(6), calls.Load())
	assert.True(t, sawEnv.Load(), "scenario env is merged over the runner env")
	assert.True(t, res.Passed)
	assert.Equal(t, perf.Status("passed"), res.Status)

	var stdout, stderr bytes.Buffer
	require.NoError(t, perf.WriteSummary(res, &stdout, &stderr))
	assert.NotEmpty(t, stdout.String())
}

func TestRunner_HTTP(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cfg, err := perf.Parse([]byte(`{"scenarios":{"api":{"executor":"shared-iterations","vus":2,"iterations":5}}}`), perf.FormatJSON)
	require.NoError(t, err)

	script := &perf.Script{
		Exec: map[string]perf.IterationFunc{"default": func(ctx context.Context, it *perf.Iteration) error {
			s, err := perf.HTTP(ctx, it)
			if err != nil {
				return err
			}
			resp, err := s.Do(perf.Get(srv.URL + "/health"))
			if err != nil {
				return err
			}
			it.Check(map[string]bool{"ok": resp.JSON("ok").Bool()})
			return nil
		}},
	}

	res, err := perf.NewRunner(cfg, script).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), hits.Load())
	assert.Equal(t, float64(5), res.Metrics.Metrics["http_reqs"].Values["count"])
	assert.Equal(t, 1.0, res.Metrics.Metrics["checks"].Values["rate"])
}

func TestRunner_BuildErrors(t *testing.T) {
	_, err := (&perf.Runner{}).Build()
	assert.Error(t, err)

	cfg, err := perf.Parse([]byte(doc), perf.FormatYAML)
	require.NoError(t, err)
	_, err = perf.NewRunner(cfg, nil).Build()
	assert.Error(t, err, "a script is required")

	_, err = perf.NewRunner(cfg, &perf.Script{}).Build()
	assert.Error(t, err, "the default exec function is missing")
}

func TestEnviron(t *testing.T) {
	t.Setenv("PERF_ENVIRON_TEST", "a=b")
	assert.Equal(t, "a=b", perf.Environ()["PERF_ENVIRON_TEST"])
}
