package executor

import (
	"context"
	"fmt"
)

// NewExecutor creates a new executor of the specified type.
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	case TypeRampingArrivalRate:
		return NewRampingArrivalRate(), nil
	case TypePerVUIterations:
		return NewPerVUIterations(), nil
	case TypeSharedIterations:
		return NewSharedIterations(), nil
	case TypeExternallyControlled:
		return NewExternallyControlled(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// IsValidExecutorType returns true if the type is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	for _, t := range Types() {
		if string(t) == executorType {
			return true
		}
	}
	return false
}

var descriptions = map[Type]string{
	TypeConstantVUs:          "fixed number of looping VUs for a duration",
	TypeRampingVUs:           "looping VUs ramped through stages",
	TypeConstantArrivalRate:  "fixed iteration start rate, VUs drawn from a pool",
	TypeRampingArrivalRate:   "iteration start rate ramped through stages",
	TypePerVUIterations:      "every VU runs a fixed number of iterations",
	TypeSharedIterations:     "VUs share a fixed total number of iterations",
	TypeExternallyControlled: "VU count set at runtime through the control API",
}

// Describe returns a one-line description of an executor type.
func Describe(t Type) string {
	return descriptions[t]
}
