package sample_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	lhttp "github.com/masoud-msk/dev-stack/internal/http"
	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/engine"
	"github.com/masoud-msk/dev-stack/internal/performance/executor"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
	"github.com/masoud-msk/dev-stack/internal/performance/summary"
	"github.com/masoud-msk/dev-stack/internal/sample"
)

func TestScript_RunsAgainstServer(t *testing.T) {
	var crocodiles atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/get":
			assert.Equal(t, "foo", r.URL.Query().Get("id"))
			assert.Equal(t, "bar", r.URL.Query().Get("sort"))
			w.Write([]byte(`{"args":{"id":"foo"}}`))
		case strings.HasPrefix(r.URL.Path, "/public/crocodiles/"):
			crocodiles.Add(1)
			w.Write([]byte(`{"id":1,"name":"Bert","sex":"M","date_of_birth":"2010-06-27"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	agg := metrics.NewAggregator(logger)
	opts := lhttp.DefaultOptions()
	opts.InsecureSkipTLSVerify = true
	factory, err := lhttp.NewFactory(opts, agg, logger)
	require.NoError(t, err)

	script := sample.Script(logger)
	script.HandleSummary = func(*summary.Data) (map[string]string, error) { return map[string]string{}, nil }

	eng, err := engine.New(engine.Options{
		Scenarios: []*executor.Config{{
			Name: "main", Type: executor.TypeSharedIterations, Exec: "default",
			VUs: 1, Iterations: 2, MaxDuration: 10 * time.Second,
		}},
		Env: map[string]string{
			"MY_HOSTNAME": strings.TrimPrefix(srv.URL, "https://"),
			"TARGET_URL":  srv.URL,
		},
		Metrics:    agg,
		Transports: factory.NewTransport,
	}, script, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	res, err := eng.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(6), crocodiles.Load())
	assert.JSONEq(t, `{"data":{"args":{"id":"foo"}}}`, eng.TestRun().SetupData().String())
	assert.Equal(t, 2.0, agg.Counter(metrics.Iterations))

	_, sink, ok := agg.Lookup("checks")
	require.True(t, ok)
	assert.Equal(t, int64(12), sink.Count(), "two checks per crocodile")
	rate, _ := sink.Value("rate", 0)
	assert.Equal(t, 1.0, rate)

	_, _, ok = agg.Lookup(sample.GroupDuration)
	assert.True(t, ok)
	assert.Equal(t, engine.StatusPassed, res.Status)
}

func TestScript_SetupWithoutHost(t *testing.T) {
	script := sample.Script(nil)
	it := performance.NewIteration("setup", performance.SetupData{}, nil, nil, map[string]string{})

	data, err := script.Setup(context.Background(), it)
	require.NoError(t, err)
	raw, err := performance.NewSetupData(data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":null}`, raw.String())

	assert.ErrorIs(t, script.Exec["default"](context.Background(), it), lhttp.ErrNoClient)
}
