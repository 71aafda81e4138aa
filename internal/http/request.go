package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request describes one call made from an iteration.
type Request struct {
	Method      string
	URL         string
	QueryParams url.Values
	Headers     map[string]string
	Body        any

	// Name groups samples of URLs that differ only by IDs. Defaults to URL.
	Name string

	// Tags are added to this request's samples.
	Tags map[string]string
}

// NewRequest creates a request.
func NewRequest(method, rawURL string) *Request {
	return &Request{
		Method:      method,
		URL:         rawURL,
		QueryParams: make(url.Values),
		Headers:     make(map[string]string),
		Tags:        make(map[string]string),
	}
}

// Get is shorthand for NewRequest(GET, url).
func Get(rawURL string) *Request {
	return NewRequest(http.MethodGet, rawURL)
}

// WithHeader adds a header to the request
func (r *Request) WithHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

// WithQueryParam adds a query parameter to the request
func (r *Request) WithQueryParam(key, value string) *Request {
	r.QueryParams.Add(key, value)
	return r
}

// WithBody sets the body of the request
func (r *Request) WithBody(body any) *Request {
	r.Body = body
	return r
}

// WithName sets the name tag.
func (r *Request) WithName(name string) *Request {
	r.Name = name
	return r
}

// WithTag adds a sample tag.
func (r *Request) WithTag(key, value string) *Request {
	r.Tags[key] = value
	return r
}

func (r *Request) name() string {
	if r.Name != "" {
		return r.Name
	}
	return r.URL
}

// build constructs the net/http request and reports the body size.
func (r *Request) build(ctx context.Context, userAgent string) (*http.Request, int64, error) {
	reqURL, err := url.Parse(r.URL)
	if err != nil {
		return nil, 0, err
	}
	if len(r.QueryParams) > 0 {
		query := reqURL.Query()
		for key, values := range r.QueryParams {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		reqURL.RawQuery = query.Encode()
	}

	var payload []byte
	contentType := ""
	switch body := r.Body.(type) {
	case nil:
	case string:
		payload = []byte(body)
	case []byte:
		payload = body
	case io.Reader:
		payload, err = io.ReadAll(body)
		if err != nil {
			return nil, 0, err
		}
	default:
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		contentType = "application/json"
	}

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), bodyReader)
	if err != nil {
		return nil, 0, err
	}

	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	return req, int64(len(payload)), nil
}
