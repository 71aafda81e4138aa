package http

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// Request phase trends, in milliseconds.
const (
	ReqBlocked        = "http_req_blocked"
	ReqConnecting     = "http_req_connecting"
	ReqTLSHandshaking = "http_req_tls_handshaking"
	ReqSending        = "http_req_sending"
	ReqWaiting        = "http_req_waiting"
	ReqReceiving      = "http_req_receiving"
)

// ErrNoClient is returned when an iteration's VU has no HTTP client.
var ErrNoClient = errors.New("iteration has no http client")

// Session binds a VU's client to one iteration so that samples carry the
// iteration tags and requests are interrupted with it.
type Session struct {
	ctx    context.Context
	client *Client
	it     *performance.Iteration
}

// From returns the session of the iteration running under ctx.
func From(ctx context.Context, it *performance.Iteration) (*Session, error) {
	client, ok := it.Transport.(*Client)
	if !ok || client == nil {
		return nil, ErrNoClient
	}
	return &Session{ctx: ctx, client: client, it: it}, nil
}

// Get issues a GET request.
func (s *Session) Get(rawURL string) (*Response, error) {
	return s.Do(Get(rawURL))
}

// Post issues a POST request with body.
func (s *Session) Post(rawURL string, body any) (*Response, error) {
	return s.Do(NewRequest(http.MethodPost, rawURL).WithBody(body))
}

// Do executes a request. Only an invalid request or a cancelled iteration
// returns an error; transport failures are reported in Response.Error and
// counted as failed requests.
func (s *Session) Do(req *Request) (*Response, error) {
	f := s.client.factory
	if err := f.limiter.Wait(s.ctx); err != nil {
		return nil, err
	}

	httpReq, sent, err := req.build(s.ctx, f.opts.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}

	resp := &Response{Request: req}
	if f.opts.TracesOutput == TracesLog {
		resp.TraceID = traceID(uuid.New())
		httpReq.Header.Set("traceparent", "00-"+resp.TraceID+"-"+resp.TraceID[:16]+"-01")
	}
	s.dumpRequest(httpReq)

	tr := &phaseTracker{start: time.Now()}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), tr.trace()))

	httpResp, err := s.client.http.Do(httpReq)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		resp.Error = err
		resp.Timings = tr.timings(time.Now())
		s.record(resp, sent)
		return resp, nil
	}

	body, received, readErr := s.readBody(httpResp.Body)
	httpResp.Body.Close()
	end := time.Now()

	resp.StatusCode = httpResp.StatusCode
	resp.Status = httpResp.Status
	resp.Proto = httpResp.Proto
	resp.Headers = httpResp.Header
	resp.Body = body
	resp.BytesReceived = received
	resp.Error = readErr
	resp.Timings = tr.timings(end)

	s.dumpResponse(httpResp, body)
	if resp.TraceID != "" {
		f.logger.Info("request trace",
			zap.String("traceId", resp.TraceID),
			zap.String("method", httpReq.Method),
			zap.String("url", req.URL),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", resp.Timings.Duration),
		)
	}
	s.record(resp, sent)
	return resp, nil
}

// Batch executes requests in parallel, limited by the batch and per-host
// batch options. Responses are returned in request order.
func (s *Session) Batch(reqs ...*Request) ([]*Response, error) {
	opts := s.client.factory.opts
	out := make([]*Response, len(reqs))

	var global *semaphore.Weighted
	if opts.Batch > 0 {
		global = semaphore.NewWeighted(int64(opts.Batch))
	}
	var (
		hostMu sync.Mutex
		hosts  = make(map[string]*semaphore.Weighted)
	)
	hostSem := func(rawURL string) *semaphore.Weighted {
		if opts.BatchPerHost <= 0 {
			return nil
		}
		host := rawURL
		if u, err := url.Parse(rawURL); err == nil {
			host = u.Host
		}
		hostMu.Lock()
		defer hostMu.Unlock()
		sem, ok := hosts[host]
		if !ok {
			sem = semaphore.NewWeighted(int64(opts.BatchPerHost))
			hosts[host] = sem
		}
		return sem
	}

	g, ctx := errgroup.WithContext(s.ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if global != nil {
				if err := global.Acquire(ctx, 1); err != nil {
					return err
				}
				defer global.Release(1)
			}
			if sem := hostSem(req.URL); sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
			}
			sub := &Session{ctx: ctx, client: s.client, it: s.it}
			resp, err := sub.Do(req)
			if err != nil {
				return err
			}
			out[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func (s *Session) readBody(body io.Reader) ([]byte, int64, error) {
	if s.client.factory.opts.DiscardResponseBodies {
		n, err := io.Copy(io.Discard, body)
		return nil, n, err
	}
	b, err := io.ReadAll(body)
	return b, int64(len(b)), err
}

func (s *Session) record(resp *Response, sent int64) {
	agg := s.client.factory.metrics
	if agg == nil {
		return
	}

	req := resp.Request
	tags := s.it.Tags().With(req.Tags).With(map[string]string{
		"method": strings.ToUpper(req.Method),
		"url":    req.URL,
		"name":   req.name(),
		"status": strconv.Itoa(resp.StatusCode),
		"proto":  resp.Proto,
	})
	if tags["method"] == "" {
		tags["method"] = http.MethodGet
	}
	if resp.Error != nil {
		tags["error"] = resp.Error.Error()
	}

	now := time.Now()
	add := func(name string, kind metrics.Kind, value float64) {
		agg.Add(metrics.Sample{Metric: name, Kind: kind, Value: value, Tags: tags, Time: now})
	}
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

	t := resp.Timings
	add(metrics.HTTPReqs, metrics.Counter, 1)
	add(metrics.HTTPReqDuration, metrics.Trend, ms(t.Duration))
	add(metrics.HTTPReqFailed, metrics.Rate, boolValue(resp.Failed()))
	add(ReqBlocked, metrics.Trend, ms(t.Blocked))
	add(ReqConnecting, metrics.Trend, ms(t.Connecting))
	add(ReqTLSHandshaking, metrics.Trend, ms(t.TLSHandshaking))
	add(ReqSending, metrics.Trend, ms(t.Sending))
	add(ReqWaiting, metrics.Trend, ms(t.Waiting))
	add(ReqReceiving, metrics.Trend, ms(t.Receiving))
	add(metrics.DataSent, metrics.Counter, float64(sent))
	add(metrics.DataReceived, metrics.Counter, float64(resp.BytesReceived))
}

func (s *Session) dumpRequest(req *http.Request) {
	debug := s.client.factory.opts.Debug
	if debug == DebugOff {
		return
	}
	dump, err := httputil.DumpRequestOut(req, debug == DebugFull)
	if err != nil {
		return
	}
	s.client.factory.logger.Info("request", zap.Int("vu", s.client.vuID), zap.ByteString("dump", dump))
}

func (s *Session) dumpResponse(resp *http.Response, body []byte) {
	debug := s.client.factory.opts.Debug
	if debug == DebugOff {
		return
	}
	dump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		return
	}
	if debug == DebugFull {
		dump = append(dump, body...)
	}
	s.client.factory.logger.Info("response", zap.Int("vu", s.client.vuID), zap.ByteString("dump", dump))
}

// phaseTracker collects httptrace callbacks. Callbacks of one request may
// fire from transport goroutines, hence the mutex.
type phaseTracker struct {
	mu sync.Mutex

	start        time.Time
	gotConn      time.Time
	connectStart time.Time
	connectEnd   time.Time
	tlsStart     time.Time
	tlsEnd       time.Time
	wroteRequest time.Time
	firstByte    time.Time
}

func (p *phaseTracker) set(field *time.Time) {
	p.mu.Lock()
	*field = time.Now()
	p.mu.Unlock()
}

func (p *phaseTracker) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		ConnectStart: func(network, addr string) {
			p.mu.Lock()
			if p.connectStart.IsZero() {
				p.connectStart = time.Now()
			}
			p.mu.Unlock()
		},
		ConnectDone: func(network, addr string, err error) {
			if err == nil {
				p.set(&p.connectEnd)
			}
		},
		TLSHandshakeStart: func() { p.set(&p.tlsStart) },
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			if err == nil {
				p.set(&p.tlsEnd)
			}
		},
		GotConn:              func(httptrace.GotConnInfo) { p.set(&p.gotConn) },
		WroteRequest:         func(httptrace.WroteRequestInfo) { p.set(&p.wroteRequest) },
		GotFirstResponseByte: func() { p.set(&p.firstByte) },
	}
}

// timings turns the collected points into phases. Blocked is the time spent
// waiting for a connection, excluding dialing and handshaking.
func (p *phaseTracker) timings(end time.Time) Timings {
	p.mu.Lock()
	defer p.mu.Unlock()

	var t Timings
	if !p.connectEnd.IsZero() && !p.connectStart.IsZero() {
		t.Connecting = p.connectEnd.Sub(p.connectStart)
	}
	if !p.tlsEnd.IsZero() && !p.tlsStart.IsZero() {
		t.TLSHandshaking = p.tlsEnd.Sub(p.tlsStart)
	}
	if !p.gotConn.IsZero() {
		t.Blocked = p.gotConn.Sub(p.start) - t.Connecting - t.TLSHandshaking
		if t.Blocked < 0 {
			t.Blocked = 0
		}
	}
	if !p.wroteRequest.IsZero() && !p.gotConn.IsZero() {
		t.Sending = p.wroteRequest.Sub(p.gotConn)
	}
	if !p.firstByte.IsZero() && !p.wroteRequest.IsZero() {
		t.Waiting = p.firstByte.Sub(p.wroteRequest)
	}
	if !p.firstByte.IsZero() {
		t.Receiving = end.Sub(p.firstByte)
	}
	t.Duration = t.Sending + t.Waiting + t.Receiving
	return t
}

// traceID renders a UUID as the 32 hex digits of a W3C trace id.
func traceID(id uuid.UUID) string {
	return hex.EncodeToString(id[:])
}

func boolValue(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
