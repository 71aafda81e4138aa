package config_test

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lhttp "github.com/masoud-msk/dev-stack/internal/http"
	"github.com/masoud-msk/dev-stack/internal/performance/config"
	"github.com/masoud-msk/dev-stack/internal/performance/executor"
	"github.com/masoud-msk/dev-stack/internal/performance/timeline"
)

const fullYAML = `
batch: 20
batchPerHost: 6
minIterationDuration: 0s
setupTimeout: 45s
teardownTimeout: 30s
discardResponseBodies: true
httpDebug: full
noCookiesReset: true
executionSegment: "0:1"
executionSegmentSequence: "0,1"
hosts:
  test.local: 127.0.0.1
tlsVersion:
  min: tls1.2
  max: tls1.3
userAgent: bench/2
cloud:
  projectID: 3695087
scenarios:
  a_constant:
    executor: constant-vus
    duration: 30s
    vus: 2
    exec: browse
    env:
      MODE: fast
    tags:
      team: web
  b_ramping:
    executor: ramping-vus
    stages:
      - { duration: 20s, target: 10 }
      - { duration: 10s, target: 0 }
  c_car:
    executor: constant-arrival-rate
    duration: 30s
    rate: 30
    preAllocatedVUs: 2
    maxVUs: 50
  d_rar:
    executor: ramping-arrival-rate
    preAllocatedVUs: 50
    timeUnit: 1m
    stages:
      - { target: 300, duration: 1m }
      - { target: 60, duration: 2m }
  e_shared:
    executor: shared-iterations
    vus: 1
    iterations: 1
  f_pervu:
    executor: per-vu-iterations
    vus: 3
    iterations: 4
    maxDuration: 5m
  g_external:
    executor: externally-controlled
    vus: 10
    maxVUs: 50
    duration: 10m
thresholds:
  http_req_duration:
    - avg<100
    - threshold: p(95)<200
      abortOnFail: true
      delayAbortEval: 10s
  "iterations{scenario:a_constant}": ["count>0"]
`

func isolatedLoader() *config.Loader {
	return &config.Loader{Env: viper.New()}
}

func TestParse_FullDocument(t *testing.T) {
	cfg, err := isolatedLoader().Parse([]byte(fullYAML), config.FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.SetupTimeout)
	assert.Equal(t, 30*time.Second, cfg.TeardownTimeout)
	assert.True(t, cfg.Segment.IsFull())
	assert.Len(t, cfg.Sequence, 2)
	assert.JSONEq(t, `{"projectID":3695087}`, string(cfg.Cloud))

	require.Len(t, cfg.Scenarios, 7)
	assert.Equal(t, "a_constant", cfg.Scenarios[0].Name)
	assert.Equal(t, "g_external", cfg.Scenarios[6].Name)

	c := cfg.Scenario("a_constant")
	require.NotNil(t, c)
	assert.Equal(t, executor.TypeConstantVUs, c.Type)
	assert.Equal(t, 2, c.VUs)
	assert.Equal(t, 30*time.Second, c.Duration)
	assert.Equal(t, executor.DefaultGracefulStop, c.GracefulStop)
	assert.Equal(t, "browse", c.Exec)
	assert.Equal(t, map[string]string{"MODE": "fast"}, c.Env)
	assert.Equal(t, map[string]string{"team": "web"}, c.Tags)

	r := cfg.Scenario("b_ramping")
	assert.Equal(t, executor.DefaultStartVUs, r.StartVUs)
	assert.Equal(t, executor.DefaultGracefulRampDown, r.GracefulRampDown)
	assert.Equal(t, []timeline.Stage{{Duration: 20 * time.Second, Target: 10}, {Duration: 10 * time.Second, Target: 0}}, r.Stages)
	assert.Equal(t, "default", r.Exec)

	car := cfg.Scenario("c_car")
	assert.Equal(t, 30.0, car.Rate)
	assert.Equal(t, time.Second, car.TimeUnit)
	assert.Equal(t, 50, car.MaxVUs)

	rar := cfg.Scenario("d_rar")
	assert.Equal(t, time.Minute, rar.TimeUnit)
	assert.Equal(t, 50, rar.MaxVUs, "maxVUs defaults to preAllocatedVUs")

	shared := cfg.Scenario("e_shared")
	assert.Equal(t, executor.DefaultMaxDuration, shared.MaxDuration)
	assert.Equal(t, int64(1), shared.Iterations)

	assert.Equal(t, int64(4), cfg.Scenario("f_pervu").Iterations)

	ext := cfg.Scenario("g_external")
	assert.Zero(t, ext.GracefulStop)
	assert.Equal(t, 50, ext.MaxVUs)

	require.Len(t, cfg.Thresholds, 2)
	assert.Equal(t, "http_req_duration", cfg.Thresholds[0].Selector)
	require.Len(t, cfg.Thresholds[0].Thresholds, 2)
	assert.False(t, cfg.Thresholds[0].Thresholds[0].AbortOnFail)
	abort := cfg.Thresholds[0].Thresholds[1]
	assert.True(t, abort.AbortOnFail)
	assert.Equal(t, 10*time.Second, abort.DelayAbortEval)
	assert.Equal(t, 95.0, abort.Percentile)
	assert.Equal(t, "iterations{scenario:a_constant}", cfg.Thresholds[1].Selector)

	h := cfg.HTTP
	assert.Equal(t, 20, h.Batch)
	assert.Equal(t, 6, h.BatchPerHost)
	assert.Equal(t, lhttp.DebugFull, h.Debug)
	assert.True(t, h.DiscardResponseBodies)
	assert.True(t, h.NoCookiesReset)
	assert.Equal(t, "bench/2", h.UserAgent)
	assert.Equal(t, map[string]string{"test.local": "127.0.0.1"}, h.Hosts)
	assert.Equal(t, uint16(tls.VersionTLS12), h.TLSMinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), h.TLSMaxVersion)
}

func TestParse_JSON(t *testing.T) {
	doc := `{
		"httpDebug": true,
		"minIterationDuration": 250,
		"scenarios": {"main": {"executor": "shared-iterations", "vus": 2, "iterations": 10}}
	}`
	cfg, err := isolatedLoader().Parse([]byte(doc), config.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, lhttp.DebugHeaders, cfg.HTTP.Debug)
	assert.Equal(t, 250*time.Millisecond, cfg.MinIterationDuration)
	assert.Equal(t, config.DefaultSetupTimeout, cfg.SetupTimeout)
	assert.Equal(t, int64(10), cfg.Scenarios[0].Iterations)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"unknown top-level key", "iterations: 3\nscenarios: {a: {executor: constant-vus, duration: 1s}}", ""},
		{"unknown scenario key", "scenarios: {a: {executor: constant-vus, duration: 1s, color: red}}", "scenarios.a"},
		{"irrelevant field", "scenarios: {a: {executor: constant-vus, duration: 1s, rate: 5}}", "scenarios.a.rate"},
		{"graceful stop on external", "scenarios: {a: {executor: externally-controlled, maxVUs: 2, gracefulStop: 5s}}", "scenarios.a.gracefulStop"},
		{"unknown executor", "scenarios: {a: {executor: warp-drive}}", "scenarios.a.executor"},
		{"missing executor", "scenarios: {a: {vus: 1}}", "scenarios.a"},
		{"wrong type", "scenarios: {a: {executor: constant-vus, vus: ten, duration: 1s}}", "scenarios.a.vus"},
		{"missing duration", "scenarios: {a: {executor: constant-vus, vus: 1}}", "scenarios.a.duration"},
		{"bad duration", "scenarios: {a: {executor: constant-vus, duration: soon}}", "scenarios.a.duration"},
		{"iterations below vus", "scenarios: {a: {executor: shared-iterations, vus: 5, iterations: 2}}", "scenarios.a.iterations"},
		{"no scenarios", "scenarios: {}", "scenarios"},
		{"bad threshold", "scenarios: {a: {executor: constant-vus, duration: 1s}}\nthresholds: {iterations: [\"p95 < 1\"]}", "thresholds.iterations[0]"},
		{"unsupported threshold method", "scenarios: {a: {executor: constant-vus, duration: 1s}}\nthresholds: {http_req_failed: [\"p(95)<1\"]}", "thresholds.http_req_failed[0]"},
		{"delay without abort", "scenarios: {a: {executor: constant-vus, duration: 1s}}\nthresholds: {iterations: [{threshold: count>1, delayAbortEval: 5s}]}", "thresholds.iterations[0].delayAbortEval"},
		{"bad tls version", "tlsVersion: {min: ssl3}\nscenarios: {a: {executor: constant-vus, duration: 1s}}", "tlsVersion.min"},
		{"bad http debug", "httpDebug: everything\nscenarios: {a: {executor: constant-vus, duration: 1s}}", "httpDebug"},
		{"segment outside sequence", "executionSegment: \"0:1/3\"\nexecutionSegmentSequence: \"0,1/2,1\"\nscenarios: {a: {executor: constant-vus, duration: 1s}}", "executionSegment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := isolatedLoader().Parse([]byte(tt.doc), config.FormatYAML)
			require.Error(t, err)
			assert.True(t, errors.Is(err, config.ErrInvalidConfig), err.Error())

			var verrs *config.ValidationErrors
			require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
			if tt.field != "" {
				assert.NotNil(t, verrs.Field(tt.field), "no error for %s in %v", tt.field, err)
			}
		})
	}
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := isolatedLoader().Parse([]byte("scenarios: [unterminated"), config.FormatYAML)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = isolatedLoader().Parse([]byte(`{"scenarios":`), config.FormatJSON)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestParse_ExecutionSegmentScalesScenarios(t *testing.T) {
	doc := `
executionSegment: "0:1/2"
executionSegmentSequence: "0,1/2,1"
scenarios:
  vus: {executor: constant-vus, vus: 5, duration: 1s}
  shared: {executor: shared-iterations, vus: 2, iterations: 9}
  tiny: {executor: constant-vus, vus: 1, duration: 1s}
`
	cfg, err := isolatedLoader().Parse([]byte(doc), config.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "0:1/2", cfg.Segment.String())
	assert.Equal(t, 2, cfg.Scenario("vus").VUs)
	assert.Equal(t, int64(4), cfg.Scenario("shared").Iterations)
	assert.Equal(t, 0, cfg.Scenario("tiny").VUs, "a small segment may legitimately run nothing")
}

func TestParse_EnvOverrides(t *testing.T) {
	env := viper.New()
	env.Set(config.EnvSetupTimeout, "5s")
	env.Set(config.EnvBatch, "3")
	env.Set(config.EnvRPS, "12.5")
	env.Set(config.EnvNoConnectionReuse, "true")
	env.Set(config.EnvLocalIPs, "10.0.0.1-10.0.0.3")
	env.Set(config.EnvTracesOutput, "LOG")
	env.Set(config.EnvExecutionSegment, "1/2:1")

	doc := "setupTimeout: 1m\nbatch: 20\nscenarios: {a: {executor: constant-vus, vus: 4, duration: 1s}}"
	cfg, err := (&config.Loader{Env: env}).Parse([]byte(doc), config.FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.SetupTimeout)
	assert.Equal(t, 3, cfg.HTTP.Batch)
	assert.Equal(t, 12.5, cfg.HTTP.RPS)
	assert.True(t, cfg.HTTP.NoConnectionReuse)
	assert.Len(t, cfg.HTTP.LocalIPs, 3)
	assert.Equal(t, lhttp.TracesLog, cfg.HTTP.TracesOutput)
	assert.Equal(t, 2, cfg.Scenarios[0].VUs)
}

func TestParse_ProcessEnvironment(t *testing.T) {
	t.Setenv("LOADRUN_TEARDOWN_TIMEOUT", "7s")
	t.Setenv("LOADRUN_BATCH_PER_HOST", "not-a-number")

	_, err := config.Parse([]byte("scenarios: {a: {executor: constant-vus, duration: 1s}}"), config.FormatYAML)
	var verrs *config.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.NotNil(t, verrs.Field("LOADRUN_BATCH_PER_HOST"))

	t.Setenv("LOADRUN_BATCH_PER_HOST", "2")
	cfg, err := config.Parse([]byte("scenarios: {a: {executor: constant-vus, duration: 1s}}"), config.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.TeardownTimeout)
	assert.Equal(t, 2, cfg.HTTP.BatchPerHost)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(fullYAML), 0o644))

	cfg, err := (&config.Loader{Env: viper.New()}).Load(yamlPath)
	require.NoError(t, err)
	assert.Len(t, cfg.Scenarios, 7)

	jsonPath := filepath.Join(dir, "test.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"scenarios":{"a":{"executor":"constant-vus","duration":"1s"}}}`), 0o644))
	cfg, err = (&config.Loader{Env: viper.New()}).Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Scenarios[0].VUs)

	_, err = config.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_BundledSample(t *testing.T) {
	cfg, err := isolatedLoader().Load(filepath.Join("..", "..", "..", "configs", "sample.yaml"))
	require.NoError(t, err)
	require.Len(t, cfg.Scenarios, 7)

	types := make(map[string]executor.Type, len(cfg.Scenarios))
	for _, sc := range cfg.Scenarios {
		types[sc.Name] = sc.Type
	}
	assert.Equal(t, executor.TypeConstantVUs, types["scenario_1"])
	assert.Equal(t, executor.TypeExternallyControlled, types["scenario_7"])

	ramp := cfg.Scenario("scenario_4")
	require.NotNil(t, ramp)
	assert.Len(t, ramp.Stages, 4)
	assert.Equal(t, 9*time.Minute, ramp.RegularDuration())
	assert.Equal(t, 20, cfg.HTTP.Batch)
	assert.Empty(t, cfg.Thresholds)
	assert.JSONEq(t, `{"projectID":3695087,"name":"test.js","distribution":{"amazon:bh:bahrain":{"loadZone":"amazon:bh:bahrain","percent":100}},"apm":[]}`, string(cfg.Cloud))
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, config.FormatJSON, config.FormatOf("a/b.JSON"))
	assert.Equal(t, config.FormatYAML, config.FormatOf("a/b.yml"))
	assert.Equal(t, config.FormatYAML, config.FormatOf("noext"))
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &config.ValidationErrors{}
	assert.Equal(t, "no validation errors", errs.Error())
	errs.Add("scenarios.a.vus", "must be > 0")
	assert.Equal(t, "validation error on field 'scenarios.a.vus': must be > 0", errs.Error())
	errs.Add("", "something else")
	assert.Contains(t, errs.Error(), "2 validation errors")
	assert.Contains(t, errs.Error(), "validation error: something else")
}

func TestSchema(t *testing.T) {
	assert.Contains(t, config.Schema(), `"additionalProperties": false`)
}
