package config

import (
	"errors"
	"fmt"

	"github.com/masoud-msk/dev-stack/internal/performance/executor"
	"github.com/masoud-msk/dev-stack/internal/performance/timeline"
)

var commonFields = map[string]bool{
	"executor":     true,
	"startTime":    true,
	"gracefulStop": true,
	"exec":         true,
	"env":          true,
	"tags":         true,
}

// executorFields lists the fields each executor accepts on top of the
// common ones.
var executorFields = map[executor.Type][]string{
	executor.TypeConstantVUs:          {"vus", "duration"},
	executor.TypeRampingVUs:           {"startVUs", "stages", "gracefulRampDown"},
	executor.TypeConstantArrivalRate:  {"rate", "timeUnit", "duration", "preAllocatedVUs", "maxVUs"},
	executor.TypeRampingArrivalRate:   {"startRate", "timeUnit", "stages", "preAllocatedVUs", "maxVUs"},
	executor.TypeSharedIterations:     {"vus", "iterations", "maxDuration"},
	executor.TypePerVUIterations:      {"vus", "iterations", "maxDuration"},
	executor.TypeExternallyControlled: {"vus", "maxVUs", "duration"},
}

func allowedField(t executor.Type, key string) bool {
	if key == "gracefulStop" && t == executor.TypeExternallyControlled {
		return false
	}
	if commonFields[key] {
		return true
	}
	for _, f := range executorFields[t] {
		if f == key {
			return true
		}
	}
	return false
}

// toExecutorConfig converts a scenario and applies the defaults of its
// executor. Problems are added to errs; the returned config is nil when the
// scenario cannot be converted.
func toExecutorConfig(name string, sc *ScenarioConfig, errs *ValidationErrors) *executor.Config {
	prefix := "scenarios." + name
	if sc == nil {
		errs.Add(prefix, "scenario must be an object")
		return nil
	}

	typ := executor.Type(sc.Executor)
	if sc.Executor == "" {
		errs.Add(prefix+".executor", "executor type is required")
		return nil
	}
	if !executor.IsValidExecutorType(sc.Executor) {
		errs.Addf(prefix+".executor", "unknown executor type: %s", sc.Executor)
		return nil
	}

	ok := true
	for _, key := range sc.Keys() {
		if !allowedField(typ, key) {
			errs.Addf(prefix+"."+key, "field is not used by the %s executor", typ)
			ok = false
		}
	}
	if !ok {
		return nil
	}

	cfg := &executor.Config{
		Name:         name,
		Type:         typ,
		Exec:         sc.Exec,
		StartTime:    sc.StartTime.Std(0),
		GracefulStop: sc.GracefulStop.Std(executor.DefaultGracefulStop),
		Env:          copyMap(sc.Env),
		Tags:         copyMap(sc.Tags),
	}
	if cfg.Exec == "" {
		cfg.Exec = executor.DefaultExec
	}
	for _, st := range sc.Stages {
		cfg.Stages = append(cfg.Stages, timeline.Stage{Duration: st.Duration.Std(0), Target: st.Target})
	}

	switch typ {
	case executor.TypeConstantVUs:
		cfg.VUs = intOr(sc.VUs, 1)
		cfg.Duration = sc.Duration.Std(0)

	case executor.TypeRampingVUs:
		cfg.StartVUs = intOr(sc.StartVUs, executor.DefaultStartVUs)
		cfg.GracefulRampDown = sc.GracefulRampDown.Std(executor.DefaultGracefulRampDown)

	case executor.TypeConstantArrivalRate, executor.TypeRampingArrivalRate:
		if sc.Rate != nil {
			cfg.Rate = *sc.Rate
		}
		if sc.StartRate != nil {
			cfg.StartRate = *sc.StartRate
		}
		cfg.TimeUnit = sc.TimeUnit.Std(executor.DefaultTimeUnit)
		cfg.Duration = sc.Duration.Std(0)
		cfg.PreAllocatedVUs = intOr(sc.PreAllocatedVUs, 0)
		cfg.MaxVUs = intOr(sc.MaxVUs, cfg.PreAllocatedVUs)

	case executor.TypeSharedIterations, executor.TypePerVUIterations:
		cfg.VUs = intOr(sc.VUs, 1)
		cfg.Iterations = 1
		if sc.Iterations != nil {
			cfg.Iterations = *sc.Iterations
		}
		cfg.MaxDuration = sc.MaxDuration.Std(executor.DefaultMaxDuration)

	case executor.TypeExternallyControlled:
		cfg.GracefulStop = 0
		cfg.VUs = intOr(sc.VUs, 0)
		cfg.MaxVUs = intOr(sc.MaxVUs, cfg.VUs)
		cfg.Duration = sc.Duration.Std(0)
	}

	if err := cfg.Validate(); err != nil {
		addExecutorError(prefix, err, errs)
		return nil
	}
	return cfg
}

// addExecutorError records an executor validation failure under the
// scenario's field path.
func addExecutorError(prefix string, err error, errs *ValidationErrors) {
	var verr *executor.ValidationError
	if errors.As(err, &verr) {
		errs.Add(prefix+"."+verr.Field, verr.Message)
		return
	}
	errs.Add(prefix, err.Error())
}

// scaleScenario returns the share of cfg for seg, revalidated.
func scaleScenario(cfg *executor.Config, seg timeline.Segment, errs *ValidationErrors) *executor.Config {
	scaled := cfg.Scale(seg)
	if err := scaled.Validate(); err != nil {
		addExecutorError(fmt.Sprintf("scenarios.%s", cfg.Name), err, errs)
		return nil
	}
	return scaled
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
