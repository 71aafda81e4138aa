package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/masoud-msk/dev-stack/pkg/jsonpath"
)

// Timings breaks a request down into phases. Duration is sending + waiting
// + receiving, the time attributable to the remote side.
type Timings struct {
	Blocked        time.Duration `json:"blocked"`
	Connecting     time.Duration `json:"connecting"`
	TLSHandshaking time.Duration `json:"tlsHandshaking"`
	Sending        time.Duration `json:"sending"`
	Waiting        time.Duration `json:"waiting"`
	Receiving      time.Duration `json:"receiving"`
	Duration       time.Duration `json:"duration"`
}

// Response is the outcome of one request. Transport failures are reported in
// Error with StatusCode 0 rather than returned as errors.
type Response struct {
	Request    *Request
	StatusCode int
	Status     string
	Proto      string
	Headers    http.Header

	// Body is nil when response bodies are discarded.
	Body []byte

	// BytesReceived counts the body even when it was discarded.
	BytesReceived int64

	Timings Timings
	TraceID string
	Error   error
}

// JSON queries the body with a JSONPath or gjson path.
func (r *Response) JSON(path string) gjson.Result {
	return jsonpath.Get(r.Body, path)
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// GetHeader returns the value of the specified header
func (r *Response) GetHeader(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// Failed reports whether the request errored or returned a 4xx/5xx status.
func (r *Response) Failed() bool {
	return r.Error != nil || r.StatusCode >= 400 || r.StatusCode == 0
}

// IsSuccess returns true if the response status code is in the 2xx range
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect returns true if the response status code is in the 3xx range
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// IsClientError returns true if the response status code is in the 4xx range
func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// IsServerError returns true if the response status code is in the 5xx range
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}
