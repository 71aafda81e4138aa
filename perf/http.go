package perf

import (
	"context"

	lhttp "github.com/masoud-msk/dev-stack/internal/http"
)

// HTTP types for iteration bodies.
type (
	Request  = lhttp.Request
	Response = lhttp.Response
	Session  = lhttp.Session
)

// ErrNoClient is returned by HTTP for iterations without an HTTP transport.
var ErrNoClient = lhttp.ErrNoClient

// HTTP returns the session of the VU running it. Requests made through it
// are recorded in the http_req_* metrics.
func HTTP(ctx context.Context, it *Iteration) (*Session, error) {
	return lhttp.From(ctx, it)
}

// NewRequest creates a request.
func NewRequest(method, rawURL string) *Request {
	return lhttp.NewRequest(method, rawURL)
}

// Get creates a GET request.
func Get(rawURL string) *Request {
	return lhttp.Get(rawURL)
}
