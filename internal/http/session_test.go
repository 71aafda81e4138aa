package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

func newSession(t *testing.T, opts Options) (*Session, *Client, *metrics.Aggregator) {
	t.Helper()
	agg := metrics.NewAggregator(zaptest.NewLogger(t))
	f, err := NewFactory(opts, agg, zaptest.NewLogger(t))
	require.NoError(t, err)

	client := f.NewClient(1)
	t.Cleanup(client.Close)

	it := performance.NewIteration("api", performance.SetupData{}, agg, metrics.Tags{"scenario": "api"}, nil)
	it.Transport = client
	s, err := From(context.Background(), it)
	require.NoError(t, err)
	return s, client, agg
}

func TestSession_DoRecordsSamples(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "loadrun/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "42", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"origin":"10.0.0.1"}}`))
	}))
	defer server.Close()

	s, _, agg := newSession(t, DefaultOptions())
	require.NoError(t, agg.AddSubmetric("http_reqs{status:200}"))
	require.NoError(t, agg.AddSubmetric("http_reqs{scenario:api}"))

	resp, err := s.Do(Get(server.URL + "/contacts").WithQueryParam("id", "42").WithName("contacts"))
	require.NoError(t, err)
	require.NoError(t, resp.Error)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.IsSuccess())
	assert.False(t, resp.Failed())
	assert.Equal(t, "10.0.0.1", resp.JSON("$.data.origin").String())
	assert.Equal(t, "application/json", resp.GetHeader("Content-Type"))

	assert.Equal(t, 1.0, agg.Counter(metrics.HTTPReqs))
	assert.Equal(t, float64(len(`{"data":{"origin":"10.0.0.1"}}`)), agg.Counter(metrics.DataReceived))

	for _, sel := range []string{"http_reqs{status:200}", "http_reqs{scenario:api}"} {
		_, sink, ok := agg.Lookup(sel)
		require.True(t, ok, sel)
		assert.Equal(t, int64(1), sink.Count(), sel)
	}

	_, failed, ok := agg.Lookup(metrics.HTTPReqFailed)
	require.True(t, ok)
	rate, _ := failed.Value("rate", 0)
	assert.Equal(t, 0.0, rate)

	_, duration, ok := agg.Lookup(metrics.HTTPReqDuration)
	require.True(t, ok)
	assert.Equal(t, int64(1), duration.Count())
	assert.GreaterOrEqual(t, resp.Timings.Duration, resp.Timings.Waiting)
}

func TestSession_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"x"}`, string(body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	s, _, agg := newSession(t, DefaultOptions())
	resp, err := s.Post(server.URL, map[string]string{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(len(`{"name":"x"}`)), agg.Counter(metrics.DataSent))
}

func TestSession_FailuresAreSamples(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	s, _, agg := newSession(t, DefaultOptions())
	resp, err := s.Get(server.URL)
	require.NoError(t, err)
	assert.True(t, resp.IsServerError())
	assert.True(t, resp.Failed())

	server.Close()
	resp, err = s.Get(server.URL)
	require.NoError(t, err, "transport errors are reported on the response")
	assert.Error(t, resp.Error)
	assert.Equal(t, 0, resp.StatusCode)

	assert.Equal(t, 2.0, agg.Counter(metrics.HTTPReqs))
	_, failed, _ := agg.Lookup(metrics.HTTPReqFailed)
	rate, _ := failed.Value("rate", 0)
	assert.Equal(t, 1.0, rate)
}

func TestSession_InvalidRequest(t *testing.T) {
	s, _, agg := newSession(t, DefaultOptions())
	_, err := s.Do(NewRequest("GET", "://bad"))
	assert.Error(t, err)
	assert.Equal(t, 0.0, agg.Counter(metrics.HTTPReqs))
}

func TestSession_DiscardResponseBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 1024)))
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.DiscardResponseBodies = true
	s, _, agg := newSession(t, opts)

	resp, err := s.Get(server.URL)
	require.NoError(t, err)
	assert.Nil(t, resp.Body)
	assert.Equal(t, int64(1024), resp.BytesReceived)
	assert.Equal(t, 1024.0, agg.Counter(metrics.DataReceived))
}

func TestSession_BatchPerHost(t *testing.T) {
	var inFlight, peak atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.BatchPerHost = 2
	s, _, agg := newSession(t, opts)

	var reqs []*Request
	for _, p := range []string{"/a", "/b", "/c", "/d", "/e", "/f"} {
		reqs = append(reqs, Get(server.URL+p))
	}
	resps, err := s.Batch(reqs...)
	require.NoError(t, err)
	require.Len(t, resps, 6)

	for i, resp := range resps {
		assert.Equal(t, reqs[i].URL[len(server.URL):], string(resp.Body), "responses keep request order")
	}
	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, 6.0, agg.Counter(metrics.HTTPReqs))
}

func TestClient_CookiesResetPerIteration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1", Path: "/"})
			return
		}
		if _, err := r.Cookie("session"); err == nil {
			w.Write([]byte("yes"))
			return
		}
		w.Write([]byte("no"))
	}))
	defer server.Close()

	check := func(opts Options) string {
		s, client, _ := newSession(t, opts)
		_, err := s.Get(server.URL + "/login")
		require.NoError(t, err)
		client.NewIteration()
		resp, err := s.Get(server.URL + "/me")
		require.NoError(t, err)
		return string(resp.Body)
	}

	assert.Equal(t, "no", check(DefaultOptions()))

	keep := DefaultOptions()
	keep.NoCookiesReset = true
	assert.Equal(t, "yes", check(keep))
}

func TestSession_TraceHeader(t *testing.T) {
	var mu sync.Mutex
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		header = r.Header.Get("traceparent")
		mu.Unlock()
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.TracesOutput = TracesLog
	s, _, _ := newSession(t, opts)

	resp, err := s.Get(server.URL)
	require.NoError(t, err)
	require.Len(t, resp.TraceID, 32)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "00-"+resp.TraceID+"-"+resp.TraceID[:16]+"-01", header)
}

func TestTraceID(t *testing.T) {
	id := uuid.MustParse("0af76519-16cd-43dd-8448-eb211c80319c")
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", traceID(id))
}

func TestSession_CancelledIteration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	s, _, agg := newSession(t, DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.ctx = ctx

	_, err := s.Get(server.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0.0, agg.Counter(metrics.HTTPReqs))
}

func TestFrom_NoClient(t *testing.T) {
	it := performance.NewIteration("api", performance.SetupData{}, nil, nil, nil)
	_, err := From(context.Background(), it)
	assert.ErrorIs(t, err, ErrNoClient)
}
