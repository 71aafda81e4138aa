package executor

import (
	"fmt"
	"time"

	"github.com/masoud-msk/dev-stack/internal/performance/timeline"
)

// Defaults applied by the configuration loader when a field is absent.
const (
	DefaultGracefulStop     = 30 * time.Second
	DefaultGracefulRampDown = 30 * time.Second
	DefaultTimeUnit         = time.Second
	DefaultMaxDuration      = 10 * time.Minute
	DefaultStartVUs         = 1
	DefaultExec             = "default"
)

// Config is the parsed, immutable configuration of one scenario.
type Config struct {
	// Name is the scenario name, unique within a run.
	Name string `json:"name"`
	Type Type   `json:"executor"`

	// Exec names the iteration function of the script.
	Exec string `json:"exec,omitempty"`

	StartTime        time.Duration `json:"startTime,omitempty"`
	GracefulStop     time.Duration `json:"gracefulStop,omitempty"`
	GracefulRampDown time.Duration `json:"gracefulRampDown,omitempty"`

	// Duration bounds time-based executors; MaxDuration bounds the
	// iteration-based ones.
	Duration    time.Duration `json:"duration,omitempty"`
	MaxDuration time.Duration `json:"maxDuration,omitempty"`

	VUs             int `json:"vus,omitempty"`
	StartVUs        int `json:"startVUs,omitempty"`
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty"`
	MaxVUs          int `json:"maxVUs,omitempty"`

	// Rate and the stage targets of ramping-arrival-rate are iterations
	// per TimeUnit.
	Rate      float64       `json:"rate,omitempty"`
	StartRate int64         `json:"startRate,omitempty"`
	TimeUnit  time.Duration `json:"timeUnit,omitempty"`

	Stages []timeline.Stage `json:"stages,omitempty"`

	Iterations int64 `json:"iterations,omitempty"`

	// RateScale multiplies every ramping arrival rate; set by Scale.
	RateScale float64 `json:"-"`

	Env  map[string]string `json:"env,omitempty"`
	Tags map[string]string `json:"tags,omitempty"`

	segmented bool
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Scenario string
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Scenario == "" {
		return "validation error on field '" + e.Field + "': " + e.Message
	}
	return "scenario '" + e.Scenario + "': validation error on field '" + e.Field + "': " + e.Message
}

func (c *Config) invalid(field, format string, args ...any) error {
	return &ValidationError{Scenario: c.Name, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	return c.validate(c.segmented)
}

// validate checks the fields of the executor type. Scaled configurations may
// legitimately end up with zero VUs or iterations on a small segment.
func (c *Config) validate(allowZero bool) error {
	if c.Type == "" {
		return c.invalid("executor", "executor type is required")
	}
	if c.StartTime < 0 {
		return c.invalid("startTime", "must be >= 0")
	}
	if c.GracefulStop < 0 {
		return c.invalid("gracefulStop", "must be >= 0")
	}

	minVUs := 1
	if allowZero {
		minVUs = 0
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs < minVUs {
			return c.invalid("vus", "must be > 0")
		}
		if c.Duration <= 0 {
			return c.invalid("duration", "must be > 0")
		}

	case TypeRampingVUs:
		if c.StartVUs < 0 {
			return c.invalid("startVUs", "must be >= 0")
		}
		if c.GracefulRampDown < 0 {
			return c.invalid("gracefulRampDown", "must be >= 0")
		}
		sched := timeline.Schedule{Start: int64(c.StartVUs), Stages: c.Stages}
		if err := sched.Validate(); err != nil {
			return c.invalid("stages", "%v", err)
		}
		if !allowZero && sched.MaxTarget() == 0 {
			return c.invalid("stages", "startVUs or at least one stage target must be > 0")
		}

	case TypeConstantArrivalRate:
		if c.Rate <= 0 && !(allowZero && c.Rate == 0) {
			return c.invalid("rate", "must be > 0")
		}
		if c.Duration <= 0 {
			return c.invalid("duration", "must be > 0")
		}
		if err := c.validateArrivalPool(minVUs); err != nil {
			return err
		}

	case TypeRampingArrivalRate:
		if c.StartRate < 0 {
			return c.invalid("startRate", "must be >= 0")
		}
		sched := timeline.Schedule{Start: c.StartRate, Stages: c.Stages}
		if err := sched.Validate(); err != nil {
			return c.invalid("stages", "%v", err)
		}
		if err := c.validateArrivalPool(minVUs); err != nil {
			return err
		}

	case TypeSharedIterations:
		if c.VUs < minVUs {
			return c.invalid("vus", "must be > 0")
		}
		if !allowZero && c.Iterations < int64(c.VUs) {
			return c.invalid("iterations", "must be >= vus (%d), got %d", c.VUs, c.Iterations)
		}
		if c.MaxDuration <= 0 {
			return c.invalid("maxDuration", "must be > 0")
		}

	case TypePerVUIterations:
		if c.VUs < minVUs {
			return c.invalid("vus", "must be > 0")
		}
		if c.Iterations <= 0 {
			return c.invalid("iterations", "must be > 0")
		}
		if c.MaxDuration <= 0 {
			return c.invalid("maxDuration", "must be > 0")
		}

	case TypeExternallyControlled:
		if c.VUs < 0 {
			return c.invalid("vus", "must be >= 0")
		}
		if c.MaxVUs < minVUs {
			return c.invalid("maxVUs", "must be > 0")
		}
		if c.VUs > c.MaxVUs {
			return c.invalid("vus", "must be <= maxVUs (%d), got %d", c.MaxVUs, c.VUs)
		}
		if c.Duration < 0 {
			return c.invalid("duration", "must be >= 0")
		}
		if c.GracefulStop > 0 {
			return c.invalid("gracefulStop", "externally-controlled executors have no graceful stop")
		}

	default:
		return c.invalid("executor", "unknown executor type: %s", c.Type)
	}

	return nil
}

func (c *Config) validateArrivalPool(minVUs int) error {
	if c.TimeUnit <= 0 {
		return c.invalid("timeUnit", "must be > 0")
	}
	if c.PreAllocatedVUs < 0 {
		return c.invalid("preAllocatedVUs", "must be >= 0")
	}
	if c.MaxVUs < minVUs {
		return c.invalid("maxVUs", "must be > 0")
	}
	if c.MaxVUs < c.PreAllocatedVUs {
		return c.invalid("maxVUs", "must be >= preAllocatedVUs (%d), got %d", c.PreAllocatedVUs, c.MaxVUs)
	}
	return nil
}

// RegularDuration is the time during which new iterations may start.
// Zero means unbounded (externally-controlled without a duration).
func (c *Config) RegularDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypeConstantArrivalRate, TypeExternallyControlled:
		return c.Duration
	case TypeRampingVUs, TypeRampingArrivalRate:
		return timeline.Schedule{Stages: c.Stages}.TotalDuration()
	case TypePerVUIterations, TypeSharedIterations:
		return c.MaxDuration
	default:
		return 0
	}
}

// GracefulWindow is how long in-flight iterations may run past the regular
// duration.
func (c *Config) GracefulWindow() time.Duration {
	if c.Type == TypeExternallyControlled {
		return 0
	}
	return c.GracefulStop
}

// MaxPoolVUs returns the maximum number of VUs the scenario may use.
func (c *Config) MaxPoolVUs() int {
	switch c.Type {
	case TypeConstantVUs, TypeSharedIterations, TypePerVUIterations:
		return c.VUs
	case TypeRampingVUs:
		return int(timeline.Schedule{Start: int64(c.StartVUs), Stages: c.Stages}.MaxTarget())
	case TypeConstantArrivalRate, TypeRampingArrivalRate, TypeExternallyControlled:
		return c.MaxVUs
	default:
		return c.VUs
	}
}

// Scale returns the share of this configuration run by one execution
// segment. VU counts, shared iteration budgets and rates are scaled; the
// per-VU iteration count is not.
func (c *Config) Scale(seg timeline.Segment) *Config {
	out := *c
	out.Stages = append([]timeline.Stage(nil), c.Stages...)
	if seg.From == nil || seg.To == nil || seg.IsFull() {
		return &out
	}

	scale := func(n int) int { return int(seg.Scale(int64(n))) }
	out.VUs = scale(c.VUs)
	out.StartVUs = scale(c.StartVUs)
	out.PreAllocatedVUs = scale(c.PreAllocatedVUs)
	out.MaxVUs = scale(c.MaxVUs)
	if c.Type == TypeSharedIterations {
		out.Iterations = seg.Scale(c.Iterations)
	}
	switch c.Type {
	case TypeRampingVUs:
		for i := range out.Stages {
			out.Stages[i].Target = seg.Scale(out.Stages[i].Target)
		}
	case TypeConstantArrivalRate:
		out.Rate = seg.ScaleRate(c.Rate)
	case TypeRampingArrivalRate:
		out.RateScale = seg.ScaleRate(1)
	}
	out.segmented = true
	return &out
}
