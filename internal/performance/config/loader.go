package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	lhttp "github.com/masoud-msk/dev-stack/internal/http"
	"github.com/masoud-msk/dev-stack/internal/performance/executor"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
	"github.com/masoud-msk/dev-stack/internal/performance/timeline"
)

// Format is the encoding of a configuration document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// EnvPrefix is the prefix of environment overrides (LOADRUN_SETUP_TIMEOUT).
const EnvPrefix = "LOADRUN"

// Environment override keys.
const (
	EnvLocalIPs              = "local_ips"
	EnvTracesOutput          = "traces_output"
	EnvSetupTimeout          = "setup_timeout"
	EnvTeardownTimeout       = "teardown_timeout"
	EnvBatch                 = "batch"
	EnvBatchPerHost          = "batch_per_host"
	EnvRPS                   = "rps"
	EnvNoConnectionReuse     = "no_connection_reuse"
	EnvInsecureSkipTLSVerify = "insecure_skip_tls_verify"
	EnvExecutionSegment      = "execution_segment"
	EnvMinIterationDuration  = "min_iteration_duration"
)

// Defaults of the run-wide options.
const (
	DefaultSetupTimeout    = 60 * time.Second
	DefaultTeardownTimeout = 60 * time.Second
)

// Config is a validated configuration ready to run.
type Config struct {
	// Scenarios are sorted by name and already scaled to Segment.
	Scenarios  []*executor.Config
	Thresholds []metrics.ThresholdSet

	SetupTimeout         time.Duration
	TeardownTimeout      time.Duration
	MinIterationDuration time.Duration

	HTTP lhttp.Options

	Segment  timeline.Segment
	Sequence []*big.Rat

	Cloud json.RawMessage
}

// Scenario returns the scenario called name.
func (c *Config) Scenario(name string) *executor.Config {
	for _, s := range c.Scenarios {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// NewEnv returns a viper instance reading LOADRUN_* variables.
func NewEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Loader reads configuration documents. Env supplies the overrides; a nil
// Env reads the process environment.
type Loader struct {
	Env *viper.Viper
}

// Load reads the file at path. The format follows the extension; anything
// but .json is read as YAML.
func Load(path string) (*Config, error) {
	return (&Loader{}).Load(path)
}

// Parse decodes and validates a document.
func Parse(data []byte, format Format) (*Config, error) {
	return (&Loader{}).Parse(data, format)
}

// FormatOf picks the format of a file by extension.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load reads the file at path.
func (l *Loader) Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	cfg, err := l.Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data, checks it against the schema, applies defaults and
// environment overrides and validates the result. Every returned error
// matches ErrInvalidConfig.
func (l *Loader) Parse(data []byte, format Format) (*Config, error) {
	raw, err := normalize(data, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	errs := &ValidationErrors{}
	if err := validateSchema(doc, errs); err != nil {
		return nil, err
	}
	if errs.HasErrors() {
		return nil, errs
	}

	var opts Options
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return l.resolve(&opts)
}

// normalize converts a document to JSON.
func normalize(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		if !json.Valid(data) {
			var v any
			return nil, json.Unmarshal(data, &v)
		}
		return data, nil
	case FormatYAML, "":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc == nil {
			doc = map[string]any{}
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("yaml document cannot be represented as JSON: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}
}

func (l *Loader) env() *viper.Viper {
	if l.Env != nil {
		return l.Env
	}
	return NewEnv()
}

// resolve applies defaults and overrides and validates the result.
func (l *Loader) resolve(opts *Options) (*Config, error) {
	errs := &ValidationErrors{}
	env := l.env()
	applyEnv(env, opts, errs)

	cfg := &Config{
		SetupTimeout:         opts.SetupTimeout.Std(DefaultSetupTimeout),
		TeardownTimeout:      opts.TeardownTimeout.Std(DefaultTeardownTimeout),
		MinIterationDuration: opts.MinIterationDuration.Std(0),
		Cloud:                opts.Cloud,
	}
	if cfg.SetupTimeout <= 0 {
		errs.Add("setupTimeout", "must be > 0")
	}
	if cfg.TeardownTimeout <= 0 {
		errs.Add("teardownTimeout", "must be > 0")
	}
	if cfg.MinIterationDuration < 0 {
		errs.Add("minIterationDuration", "must be >= 0")
	}

	cfg.HTTP = httpOptions(env, opts, errs)

	seg, err := timeline.ParseSegment(opts.ExecutionSegment)
	if err != nil {
		errs.Add("executionSegment", err.Error())
		seg = timeline.FullSegment()
	}
	seq, err := timeline.ParseSequence(opts.ExecutionSegmentSequence)
	if err != nil {
		errs.Add("executionSegmentSequence", err.Error())
	} else if len(seq) > 0 && !seg.InSequence(seq) {
		errs.Addf("executionSegment", "segment %s is not part of the sequence %q", seg, opts.ExecutionSegmentSequence)
	}
	cfg.Segment, cfg.Sequence = seg, seq

	if len(opts.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	names := make([]string, 0, len(opts.Scenarios))
	for name := range opts.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sc := toExecutorConfig(name, opts.Scenarios[name], errs)
		if sc == nil {
			continue
		}
		if sc = scaleScenario(sc, seg, errs); sc != nil {
			cfg.Scenarios = append(cfg.Scenarios, sc)
		}
	}

	cfg.Thresholds = toThresholdSets(opts.Thresholds, errs)

	if err := errs.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides document values with LOADRUN_* variables.
func applyEnv(env *viper.Viper, opts *Options, errs *ValidationErrors) {
	durations := []struct {
		key string
		dst **Duration
	}{
		{EnvSetupTimeout, &opts.SetupTimeout},
		{EnvTeardownTimeout, &opts.TeardownTimeout},
		{EnvMinIterationDuration, &opts.MinIterationDuration},
	}
	for _, d := range durations {
		if !env.IsSet(d.key) {
			continue
		}
		v, err := ParseDuration(env.GetString(d.key))
		if err != nil {
			errs.Add(envName(d.key), err.Error())
			continue
		}
		dur := Duration(v)
		*d.dst = &dur
	}

	ints := []struct {
		key string
		dst **int
	}{
		{EnvBatch, &opts.Batch},
		{EnvBatchPerHost, &opts.BatchPerHost},
	}
	for _, i := range ints {
		if !env.IsSet(i.key) {
			continue
		}
		n, err := strconv.Atoi(env.GetString(i.key))
		if err != nil {
			errs.Addf(envName(i.key), "invalid integer %q", env.GetString(i.key))
			continue
		}
		*i.dst = &n
	}

	if env.IsSet(EnvRPS) {
		rps, err := strconv.ParseFloat(env.GetString(EnvRPS), 64)
		if err != nil {
			errs.Addf(envName(EnvRPS), "invalid number %q", env.GetString(EnvRPS))
		} else {
			opts.RPS = &rps
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{EnvNoConnectionReuse, &opts.NoConnectionReuse},
		{EnvInsecureSkipTLSVerify, &opts.InsecureSkipTLSVerify},
	}
	for _, b := range bools {
		if !env.IsSet(b.key) {
			continue
		}
		v, err := strconv.ParseBool(env.GetString(b.key))
		if err != nil {
			errs.Addf(envName(b.key), "invalid boolean %q", env.GetString(b.key))
			continue
		}
		*b.dst = v
	}

	if env.IsSet(EnvExecutionSegment) {
		opts.ExecutionSegment = env.GetString(EnvExecutionSegment)
	}
}

// httpOptions maps the transport section onto the HTTP client options.
func httpOptions(env *viper.Viper, opts *Options, errs *ValidationErrors) lhttp.Options {
	out := lhttp.DefaultOptions()
	if opts.Batch != nil {
		out.Batch = *opts.Batch
	}
	if opts.BatchPerHost != nil {
		out.BatchPerHost = *opts.BatchPerHost
	}
	if opts.RPS != nil {
		out.RPS = *opts.RPS
	}
	if opts.UserAgent != nil {
		out.UserAgent = *opts.UserAgent
	}
	out.DiscardResponseBodies = opts.DiscardResponseBodies
	out.Debug = string(opts.HTTPDebug)
	out.NoConnectionReuse = opts.NoConnectionReuse
	out.NoVUConnectionReuse = opts.NoVUConnectionReuse
	out.NoCookiesReset = opts.NoCookiesReset
	out.InsecureSkipTLSVerify = opts.InsecureSkipTLSVerify
	out.Hosts = copyMap(opts.Hosts)

	if opts.TLSVersion != nil {
		var err error
		if out.TLSMinVersion, err = lhttp.ParseTLSVersion(opts.TLSVersion.Min); err != nil {
			errs.Add("tlsVersion.min", err.Error())
		}
		if out.TLSMaxVersion, err = lhttp.ParseTLSVersion(opts.TLSVersion.Max); err != nil {
			errs.Add("tlsVersion.max", err.Error())
		}
	}

	if env.IsSet(EnvLocalIPs) {
		ips, err := lhttp.ParseLocalIPs(env.GetString(EnvLocalIPs))
		if err != nil {
			errs.Add(envName(EnvLocalIPs), err.Error())
		}
		out.LocalIPs = ips
	}
	if env.IsSet(EnvTracesOutput) {
		out.TracesOutput = strings.ToLower(env.GetString(EnvTracesOutput))
	}

	if err := out.Validate(); err != nil {
		errs.Add("", err.Error())
	}
	return out
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}
