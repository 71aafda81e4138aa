// Package config loads and validates load test configuration documents.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Options is the configuration document as written by the user.
//
// Example YAML:
//
//	setupTimeout: 60s
//	scenarios:
//	  browse:
//	    executor: constant-vus
//	    vus: 10
//	    duration: 30s
//	thresholds:
//	  http_req_duration: ["p(95)<200"]
type Options struct {
	Batch        *int     `json:"batch,omitempty"`
	BatchPerHost *int     `json:"batchPerHost,omitempty"`
	RPS          *float64 `json:"rps,omitempty"`

	MinIterationDuration *Duration `json:"minIterationDuration,omitempty"`
	SetupTimeout         *Duration `json:"setupTimeout,omitempty"`
	TeardownTimeout      *Duration `json:"teardownTimeout,omitempty"`

	DiscardResponseBodies bool      `json:"discardResponseBodies,omitempty"`
	HTTPDebug             HTTPDebug `json:"httpDebug,omitempty"`
	NoConnectionReuse     bool      `json:"noConnectionReuse,omitempty"`
	NoVUConnectionReuse   bool      `json:"noVUConnectionReuse,omitempty"`
	NoCookiesReset        bool      `json:"noCookiesReset,omitempty"`

	// ExecutionSegment is the "from:to" share of the load this instance
	// runs; ExecutionSegmentSequence lists the boundaries of all instances.
	ExecutionSegment         string `json:"executionSegment,omitempty"`
	ExecutionSegmentSequence string `json:"executionSegmentSequence,omitempty"`

	Hosts                 map[string]string `json:"hosts,omitempty"`
	InsecureSkipTLSVerify bool              `json:"insecureSkipTLSVerify,omitempty"`
	TLSVersion            *TLSVersion       `json:"tlsVersion,omitempty"`
	UserAgent             *string           `json:"userAgent,omitempty"`

	// Cloud is kept as is; local runs ignore it.
	Cloud json.RawMessage `json:"cloud,omitempty"`

	Scenarios  map[string]*ScenarioConfig   `json:"scenarios"`
	Thresholds map[string][]ThresholdConfig `json:"thresholds,omitempty"`
}

// TLSVersion bounds the negotiated TLS version ("tls1.2", "tls1.3").
type TLSVersion struct {
	Min string `json:"min,omitempty"`
	Max string `json:"max,omitempty"`
}

// ScenarioConfig defines a single scenario. Only the fields used by its
// executor may be set.
type ScenarioConfig struct {
	Executor string `json:"executor"`

	StartTime        *Duration `json:"startTime,omitempty"`
	GracefulStop     *Duration `json:"gracefulStop,omitempty"`
	GracefulRampDown *Duration `json:"gracefulRampDown,omitempty"`
	Duration         *Duration `json:"duration,omitempty"`
	MaxDuration      *Duration `json:"maxDuration,omitempty"`

	VUs             *int `json:"vus,omitempty"`
	StartVUs        *int `json:"startVUs,omitempty"`
	PreAllocatedVUs *int `json:"preAllocatedVUs,omitempty"`
	MaxVUs          *int `json:"maxVUs,omitempty"`

	Rate      *float64  `json:"rate,omitempty"`
	StartRate *int64    `json:"startRate,omitempty"`
	TimeUnit  *Duration `json:"timeUnit,omitempty"`

	Stages     []StageConfig `json:"stages,omitempty"`
	Iterations *int64        `json:"iterations,omitempty"`

	Exec string            `json:"exec,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
	Tags map[string]string `json:"tags,omitempty"`

	// keys holds the field names present in the document.
	keys []string
}

// UnmarshalJSON decodes the scenario strictly and records which keys were
// present.
func (s *ScenarioConfig) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	type plain ScenarioConfig
	var out plain
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return err
	}

	*s = ScenarioConfig(out)
	s.keys = make([]string, 0, len(raw))
	for k := range raw {
		s.keys = append(s.keys, k)
	}
	sort.Strings(s.keys)
	return nil
}

// Keys returns the field names set in the document, sorted.
func (s *ScenarioConfig) Keys() []string {
	return s.keys
}

// StageConfig defines a single stage of a ramping executor.
type StageConfig struct {
	Duration Duration `json:"duration"`
	Target   int64    `json:"target"`
}

// ThresholdConfig is one threshold entry: either a bare expression or an
// object with abort settings.
type ThresholdConfig struct {
	Threshold      string    `json:"threshold"`
	AbortOnFail    bool      `json:"abortOnFail,omitempty"`
	DelayAbortEval *Duration `json:"delayAbortEval,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ThresholdConfig) UnmarshalJSON(b []byte) error {
	var expr string
	if err := json.Unmarshal(b, &expr); err == nil {
		*t = ThresholdConfig{Threshold: expr}
		return nil
	}

	type plain ThresholdConfig
	var out plain
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return fmt.Errorf("threshold must be a string or an object: %w", err)
	}
	*t = ThresholdConfig(out)
	return nil
}

// HTTPDebug accepts false/true or "headers"/"full".
type HTTPDebug string

// UnmarshalJSON implements json.Unmarshaler.
func (d *HTTPDebug) UnmarshalJSON(b []byte) error {
	var on bool
	if err := json.Unmarshal(b, &on); err == nil {
		if on {
			*d = "headers"
		} else {
			*d = ""
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("httpDebug must be a boolean or a string")
	}
	*d = HTTPDebug(s)
	return nil
}

// Duration is a time.Duration read from a string ("30s", "1m30s") or from
// a number of milliseconds.
type Duration time.Duration

// Std returns the value as a time.Duration. A nil Duration is def.
func (d *Duration) Std(def time.Duration) time.Duration {
	if d == nil {
		return def
	}
	return time.Duration(*d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var ms float64
	if err := json.Unmarshal(b, &ms); err == nil {
		*d = Duration(ms * float64(time.Millisecond))
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string or a number of milliseconds")
	}
	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseDuration parses a duration such as "30s" or "1h30m". An empty string
// is zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
