// Package http is the request layer iteration bodies use. Each VU gets a
// Client; requests made through it are rate limited, batched and reported
// to the metrics aggregator as http_* samples.
package http

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
	"github.com/masoud-msk/dev-stack/internal/performance/rate"
)

// Factory creates per-VU clients that share options, the rps limiter and,
// unless connection reuse across VUs is disabled, one connection pool.
type Factory struct {
	opts    Options
	metrics *metrics.Aggregator
	limiter *rate.Limiter
	logger  *zap.Logger

	sharedOnce sync.Once
	shared     *http.Transport
}

// NewFactory validates options and creates a factory.
func NewFactory(opts Options, agg *metrics.Aggregator, logger *zap.Logger) (*Factory, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		opts:    opts,
		metrics: agg,
		limiter: rate.NewLimiter(opts.RPS),
		logger:  logger,
	}, nil
}

// Options returns the factory options.
func (f *Factory) Options() Options {
	return f.opts
}

// Limiter returns the shared rps limiter, nil when unlimited.
func (f *Factory) Limiter() *rate.Limiter {
	return f.limiter
}

// NewTransport satisfies performance.TransportFactory.
func (f *Factory) NewTransport(vuID int) performance.Transport {
	return f.NewClient(vuID)
}

// NewClient creates the client of one VU.
func (f *Factory) NewClient(vuID int) *Client {
	c := &Client{factory: f, vuID: vuID}

	perVU := f.opts.NoVUConnectionReuse || len(f.opts.LocalIPs) > 0
	if perVU {
		c.transport = f.newTransport(vuID)
		c.ownsTransport = true
	} else {
		f.sharedOnce.Do(func() { f.shared = f.newTransport(0) })
		c.transport = f.shared
	}

	c.http = &http.Client{
		Transport: c.transport,
		Timeout:   f.opts.Timeout,
	}
	c.resetJar()
	return c
}

// newTransport builds an http.Transport honoring every connection option.
func (f *Factory) newTransport(vuID int) *http.Transport {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if n := len(f.opts.LocalIPs); n > 0 && vuID > 0 {
		dialer.LocalAddr = &net.TCPAddr{IP: f.opts.LocalIPs[(vuID-1)%n]}
	}

	hosts := f.opts.Hosts
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, resolveHost(hosts, addr))
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: f.opts.InsecureSkipTLSVerify,
		MinVersion:         f.opts.TLSMinVersion,
		MaxVersion:         f.opts.TLSMaxVersion,
	}
	if tlsConfig.MinVersion == 0 {
		tlsConfig.MinVersion = tls.VersionTLS12
	}

	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dial,
		TLSClientConfig:     tlsConfig,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   f.opts.NoConnectionReuse,
		ForceAttemptHTTP2:   true,
	}
}

// resolveHost applies the host override map to a dial address. Overrides
// can be keyed by "host:port" or "host"; a value without a port keeps the
// original one.
func resolveHost(hosts map[string]string, addr string) string {
	if len(hosts) == 0 {
		return addr
	}
	if to, ok := hosts[addr]; ok {
		return to
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	to, ok := hosts[host]
	if !ok {
		return addr
	}
	if _, _, err := net.SplitHostPort(to); err == nil {
		return to
	}
	return net.JoinHostPort(to, port)
}

// Client is the per-VU request layer. It implements performance.Transport.
type Client struct {
	factory       *Factory
	vuID          int
	http          *http.Client
	transport     *http.Transport
	ownsTransport bool

	mu  sync.Mutex
	jar http.CookieJar
}

// VUID returns the owning VU.
func (c *Client) VUID() int {
	return c.vuID
}

func (c *Client) resetJar() {
	jar, _ := cookiejar.New(nil)
	c.mu.Lock()
	c.jar = jar
	c.http.Jar = jar
	c.mu.Unlock()
}

// NewIteration resets the cookie jar and, without per-VU connection reuse,
// drops idle connections.
func (c *Client) NewIteration() {
	if !c.factory.opts.NoCookiesReset {
		c.resetJar()
	}
	if c.factory.opts.NoVUConnectionReuse && c.ownsTransport {
		c.transport.CloseIdleConnections()
	}
}

// Close releases the VU's own connections.
func (c *Client) Close() {
	if c.ownsTransport {
		c.transport.CloseIdleConnections()
	}
}

var _ performance.Transport = (*Client)(nil)
