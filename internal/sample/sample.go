// Package sample is the load test bundled with the loadrun binary.
//
// Setup fetches a JSON document from https://$MY_HOSTNAME/get and hands it
// to every iteration. Each iteration fetches three crocodiles from
// $TARGET_URL in one batch and checks their status and shape. The summary is printed with an arrow indent.
package sample

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	lhttp "github.com/masoud-msk/dev-stack/internal/http"
	"github.com/masoud-msk/dev-stack/internal/performance"
	"github.com/masoud-msk/dev-stack/internal/performance/engine"
	"github.com/masoud-msk/dev-stack/internal/performance/summary"
	"github.com/masoud-msk/dev-stack/pkg/jsonschema"
)

// DefaultTarget serves the crocodile API when TARGET_URL is unset.
const DefaultTarget = "https://test-api.k6.io"

var crocodileSchema = jsonschema.MustCompile("crocodile", `{
	"type": "object",
	"properties": {
		"id": {"type": "integer"},
		"name": {"type": "string"},
		"sex": {"enum": ["M", "F"]},
		"date_of_birth": {"type": "string"}
	},
	"required": ["id", "name"]
}`)

// GroupDuration is the trend of time spent per group, tagged group.
const GroupDuration = "group_duration"

// Script returns the bundled test.
func Script(logger *zap.Logger) *engine.Script {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &test{logger: logger.Named("sample")}
	return &engine.Script{
		Setup:         t.setup,
		Exec:          map[string]performance.IterationFunc{"default": t.iteration},
		Teardown:      t.teardown,
		HandleSummary: t.handleSummary,
	}
}

type test struct {
	logger *zap.Logger
}

// setupData is what setup returns and every iteration decodes.
type setupData struct {
	Data any `json:"data"`
}

func (t *test) setup(ctx context.Context, it *performance.Iteration) (any, error) {
	host := it.Env["MY_HOSTNAME"]
	if host == "" {
		t.logger.Warn("MY_HOSTNAME is not set, setup data is empty")
		return setupData{}, nil
	}

	s, err := lhttp.From(ctx, it)
	if err != nil {
		return nil, err
	}
	resp, err := s.Do(lhttp.Get(fmt.Sprintf("https://%s/get", host)).
		WithQueryParam("id", "foo").
		WithQueryParam("sort", "bar"))
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("setup request: %w", resp.Error)
	}

	var out setupData
	if err := resp.Decode(&out.Data); err != nil {
		return nil, fmt.Errorf("setup response is not JSON: %w", err)
	}
	return out, nil
}

func (t *test) iteration(ctx context.Context, it *performance.Iteration) error {
	s, err := lhttp.From(ctx, it)
	if err != nil {
		return err
	}
	target := it.Env["TARGET_URL"]
	if target == "" {
		target = DefaultTarget
	}

	err = group(it, "get current data", func() error {
		reqs := make([]*lhttp.Request, 0, 3)
		for i := 1; i <= 3; i++ {
			reqs = append(reqs, lhttp.Get(fmt.Sprintf("%s/public/crocodiles/%d/", target, i)).WithName("crocodile"))
		}
		resps, err := s.Batch(reqs...)
		if err != nil {
			return err
		}
		for _, r := range resps {
			it.Check(map[string]bool{
				"crocodile status is 200":  r.StatusCode == 200,
				"crocodile matches schema": r.Body == nil || crocodileSchema.Match(r.Body),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := group(it, "change some data", func() error { return nil }); err != nil {
		return err
	}

	t.logger.Debug("iteration data", zap.String("scenario", it.Scenario), zap.Int("vu", it.VU), zap.String("data", it.Setup.String()))
	return nil
}

func (t *test) teardown(ctx context.Context, it *performance.Iteration) error {
	t.logger.Info("teardown", zap.String("data", it.Setup.String()))
	return nil
}

func (t *test) handleSummary(data *summary.Data) (map[string]string, error) {
	opts := summary.DefaultTextOptions(os.Stdout)
	opts.Indent = "→"
	opts.Colors = true
	text, err := summary.Text(data, opts)
	if err != nil {
		return nil, err
	}
	return map[string]string{summary.Stdout: text}, nil
}

// group tags the samples emitted by fn with group=::name and records how
// long it took.
func group(it *performance.Iteration, name string, fn func() error) error {
	prev, had := it.Tags()["group"]
	it.SetTag("group", "::"+name)
	start := time.Now()
	err := fn()
	it.Trend(GroupDuration, float64(time.Since(start))/float64(time.Millisecond))
	if had {
		it.SetTag("group", prev)
	} else {
		it.DeleteTag("group")
	}
	return err
}
