package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// Client talks to the control API of a running test.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for addr ("host:port" or a full URL).
func NewClient(addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		BaseURL: strings.TrimRight(addr, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the run status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Update applies a status update and returns the new status.
func (c *Client) Update(ctx context.Context, upd StatusUpdate) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodPatch, "/v1/status", upd, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Scale sets the VU count of an externally controlled scenario. A
// non-positive maxVUs keeps the current maximum.
func (c *Client) Scale(ctx context.Context, scenario string, vus, maxVUs int) (*Status, error) {
	upd := StatusUpdate{Scenario: scenario, VUs: &vus}
	if maxVUs > 0 {
		upd.VUsMax = &maxVUs
	}
	return c.Update(ctx, upd)
}

// Stop stops the run immediately.
func (c *Client) Stop(ctx context.Context) (*Status, error) {
	stopped := true
	return c.Update(ctx, StatusUpdate{Stopped: &stopped})
}

// Metrics fetches the current aggregates.
func (c *Client) Metrics(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/v1/metrics", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError is a non-success reply of the control API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control api: %s (%d)", e.Message, e.StatusCode)
}
