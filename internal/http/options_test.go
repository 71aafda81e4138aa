package http

import (
	"context"
	"crypto/tls"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"debug level", func(o *Options) { o.Debug = "verbose" }},
		{"traces output", func(o *Options) { o.TracesOutput = "otel" }},
		{"negative batch", func(o *Options) { o.Batch = -1 }},
		{"negative rps", func(o *Options) { o.RPS = -2 }},
		{"tls range", func(o *Options) {
			o.TLSMinVersion = tls.VersionTLS13
			o.TLSMaxVersion = tls.VersionTLS12
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			assert.Error(t, opts.Validate())
		})
	}
}

func TestParseTLSVersion(t *testing.T) {
	v, err := ParseTLSVersion("TLS1.3")
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), v)

	v, err = ParseTLSVersion("")
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = ParseTLSVersion("ssl3")
	assert.Error(t, err)
}

func TestParseLocalIPs(t *testing.T) {
	ips, err := ParseLocalIPs("10.0.0.1, 192.168.1.0/30, 172.16.0.9-172.16.0.11")
	require.NoError(t, err)

	var got []string
	for _, ip := range ips {
		got = append(got, ip.String())
	}
	assert.Equal(t, []string{
		"10.0.0.1",
		"192.168.1.0", "192.168.1.1", "192.168.1.2", "192.168.1.3",
		"172.16.0.9", "172.16.0.10", "172.16.0.11",
	}, got)

	_, err = ParseLocalIPs("not-an-ip")
	assert.Error(t, err)
	_, err = ParseLocalIPs("10.0.0.0/99")
	assert.Error(t, err)
}

func TestResolveHost(t *testing.T) {
	hosts := map[string]string{
		"api.test":     "127.0.0.1",
		"web.test:443": "127.0.0.2:8443",
		"full.test":    "127.0.0.3:9000",
	}
	assert.Equal(t, "127.0.0.1:80", resolveHost(hosts, "api.test:80"))
	assert.Equal(t, "127.0.0.2:8443", resolveHost(hosts, "web.test:443"))
	assert.Equal(t, "127.0.0.3:9000", resolveHost(hosts, "full.test:80"))
	assert.Equal(t, "other.test:80", resolveHost(hosts, "other.test:80"))
	assert.Equal(t, "api.test:80", resolveHost(nil, "api.test:80"))
}

func TestRequest_Build(t *testing.T) {
	req := NewRequest("post", "http://example.test/items?page=1").
		WithQueryParam("sort", "asc").
		WithHeader("Authorization", "Bearer t").
		WithBody("raw")

	httpReq, size, err := req.build(context.Background(), "agent/1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, httpReq.Method)
	assert.Equal(t, "1", httpReq.URL.Query().Get("page"))
	assert.Equal(t, "asc", httpReq.URL.Query().Get("sort"))
	assert.Equal(t, "Bearer t", httpReq.Header.Get("Authorization"))
	assert.Equal(t, "agent/1", httpReq.Header.Get("User-Agent"))
	assert.Empty(t, httpReq.Header.Get("Content-Type"))
	assert.Equal(t, int64(3), size)

	assert.Equal(t, "http://example.test/items?page=1", req.name())
	assert.Equal(t, "items", req.WithName("items").name())
}

func TestFactory_PerVUTransports(t *testing.T) {
	f, err := NewFactory(DefaultOptions(), nil, nil)
	require.NoError(t, err)
	a, b := f.NewClient(1), f.NewClient(2)
	assert.Same(t, a.transport, b.transport, "VUs share one pool by default")

	opts := DefaultOptions()
	opts.NoVUConnectionReuse = true
	f, err = NewFactory(opts, nil, nil)
	require.NoError(t, err)
	a, b = f.NewClient(1), f.NewClient(2)
	assert.NotSame(t, a.transport, b.transport)
	assert.Nil(t, f.Limiter())

	opts.RPS = 10
	f, err = NewFactory(opts, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10.0, f.Limiter().Rate())
}
