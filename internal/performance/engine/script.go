package engine

import (
	"context"
	"fmt"

	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/summary"
)

// SetupFunc runs once before any scenario starts. The returned value must be
// JSON serializable; every iteration and the teardown get their own copy.
// it carries the run env and a transport, and its samples are tagged
// scenario=setup.
type SetupFunc func(ctx context.Context, it *performance.Iteration) (any, error)

// TeardownFunc runs once after every scenario has terminated. it.Data is a
// fresh copy of the setup value.
type TeardownFunc func(ctx context.Context, it *performance.Iteration) error

// Script holds the code of a load test. Exec maps the names scenarios refer
// to through their exec field onto iteration bodies.
type Script struct {
	Setup         SetupFunc
	Exec          map[string]performance.IterationFunc
	Teardown      TeardownFunc
	HandleSummary summary.Hook
}

// DefaultExec is the iteration function used by scenarios without exec.
func (s *Script) DefaultExec() performance.IterationFunc {
	return s.Exec["default"]
}

func (s *Script) lookup(name string) (performance.IterationFunc, error) {
	if name == "" {
		name = "default"
	}
	fn, ok := s.Exec[name]
	if !ok || fn == nil {
		return nil, fmt.Errorf("script has no exec function %q", name)
	}
	return fn, nil
}
