// Package config loads kubebench settings from defaults, an optional YAML
// file, a .env file, the environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/weiihann/kubebench/backend"
	"github.com/weiihann/kubebench/harness"
	"github.com/weiihann/kubebench/workload"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "KUBEBENCH"

// DefaultEnvFile is read before the environment when present.
const DefaultEnvFile = ".env"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid config")

// Config holds every kubebench setting.
type Config struct {
	Backends         []string `mapstructure:"backends" yaml:"backends"`
	Size             int      `mapstructure:"size" yaml:"size"`
	Namespace        string   `mapstructure:"namespace" yaml:"namespace"`
	Prefix           string   `mapstructure:"prefix" yaml:"prefix"`
	Concurrency      int      `mapstructure:"concurrency" yaml:"concurrency"`
	PhaseTimeout     string   `mapstructure:"phase_timeout" yaml:"phase_timeout"`
	CleanupBefore    bool     `mapstructure:"cleanup_before" yaml:"cleanup_before"`
	CleanupOnFailure bool     `mapstructure:"cleanup_on_failure" yaml:"cleanup_on_failure"`
	OutputDir        string   `mapstructure:"output_dir" yaml:"output_dir"`
	Kubeconfig       string   `mapstructure:"kubeconfig" yaml:"kubeconfig"`
	Context          string   `mapstructure:"context" yaml:"context"`
	QPS              float32  `mapstructure:"qps" yaml:"qps"`
	Burst            int      `mapstructure:"burst" yaml:"burst"`
	MemoryLatency    string   `mapstructure:"memory_latency" yaml:"memory_latency"`
	MetricsAddr      string   `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	JSON             bool     `mapstructure:"json" yaml:"json"`
	LogLevel         string   `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Backends: []string{
			backend.NameClientset,
			backend.NameDynamic,
			backend.NameControllerRuntime,
		},
		Size:          workload.DefaultSize,
		Namespace:     workload.DefaultNamespace,
		Prefix:        workload.DefaultPrefix,
		Concurrency:   harness.DefaultConcurrency,
		PhaseTimeout:  harness.DefaultPhaseTimeout.String(),
		QPS:           -1,
		MemoryLatency: "0s",
		LogLevel:      "info",
	}
}

// flagKeys maps config keys to the CLI flags that override them.
var flagKeys = map[string]string{
	"backends":           "backends",
	"size":               "size",
	"namespace":          "namespace",
	"prefix":             "prefix",
	"concurrency":        "concurrency",
	"phase_timeout":      "phase-timeout",
	"cleanup_before":     "cleanup-before",
	"cleanup_on_failure": "cleanup-on-failure",
	"output_dir":         "output-dir",
	"kubeconfig":         "kubeconfig",
	"context":            "context",
	"qps":                "qps",
	"burst":              "burst",
	"memory_latency":     "memory-latency",
	"metrics_addr":       "metrics-addr",
	"json":               "json",
	"log_level":          "log-level",
}

// Options selects the sources Load reads.
type Options struct {
	// File is an optional YAML config file. A missing file is an error.
	File string
	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string
	// Flags override every other source when set on the command line.
	Flags *pflag.FlagSet
}

// Load builds a Config. Precedence, highest first: flags, environment,
// .env file, config file, defaults.
func Load(opts Options) (*Config, error) {
	if err := LoadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("backends", def.Backends)
	v.SetDefault("size", def.Size)
	v.SetDefault("namespace", def.Namespace)
	v.SetDefault("prefix", def.Prefix)
	v.SetDefault("concurrency", def.Concurrency)
	v.SetDefault("phase_timeout", def.PhaseTimeout)
	v.SetDefault("cleanup_before", def.CleanupBefore)
	v.SetDefault("cleanup_on_failure", def.CleanupOnFailure)
	v.SetDefault("output_dir", def.OutputDir)
	v.SetDefault("kubeconfig", def.Kubeconfig)
	v.SetDefault("context", def.Context)
	v.SetDefault("qps", def.QPS)
	v.SetDefault("burst", def.Burst)
	v.SetDefault("memory_latency", def.MemoryLatency)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("json", def.JSON)
	v.SetDefault("log_level", def.LogLevel)

	// OUTPUT_DIR is honoured for compatibility with existing job manifests.
	_ = v.BindEnv("output_dir", EnvPrefix+"_OUTPUT_DIR", "OUTPUT_DIR")

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	}

	if opts.Flags != nil {
		for key, name := range flagKeys {
			f := opts.Flags.Lookup(name)
			if f == nil {
				continue
			}

			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile loads a dotenv file into the process environment without
// overriding variables that are already set.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}

// Validate reports the first setting that cannot produce a benchmark run.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("%w: at least one backend is required", ErrInvalid)
	}

	for _, name := range c.Backends {
		if !backend.IsKnown(name) {
			return fmt.Errorf("%w: unknown backend %q (known: %s)",
				ErrInvalid, name, strings.Join(backend.KnownBackends(), ", "))
		}
	}

	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalid, c.Size)
	}

	if c.Size > workload.MaxSize {
		return fmt.Errorf("%w: size must be at most %d, got %d", ErrInvalid, workload.MaxSize, c.Size)
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive, got %d", ErrInvalid, c.Concurrency)
	}

	if c.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalid)
	}

	if _, err := c.PhaseTimeoutDuration(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if _, err := c.MemoryLatencyDuration(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return nil
}

// PhaseTimeoutDuration parses PhaseTimeout. Zero disables the timeout.
func (c *Config) PhaseTimeoutDuration() (time.Duration, error) {
	return parseDuration("phase_timeout", c.PhaseTimeout)
}

// MemoryLatencyDuration parses MemoryLatency.
func (c *Config) MemoryLatencyDuration() (time.Duration, error) {
	return parseDuration("memory_latency", c.MemoryLatency)
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", key, s)
	}

	return d, nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("parse log_level: %w", err)
	}

	return level, nil
}

// Session returns the per-session settings. Call Validate first.
func (c *Config) Session() harness.Config {
	timeout, _ := c.PhaseTimeoutDuration()

	return harness.Config{
		Population: workload.Config{
			Size:      c.Size,
			Namespace: c.Namespace,
			Prefix:    c.Prefix,
		},
		PhaseTimeout:     timeout,
		CleanupOnFailure: c.CleanupOnFailure,
	}
}

// BackendOptions returns the settings shared by every backend. Call Validate
// first.
func (c *Config) BackendOptions(logger *slog.Logger) backend.Options {
	latency, _ := c.MemoryLatencyDuration()

	opts := backend.DefaultOptions()
	opts.Namespace = c.Namespace
	opts.Prefix = c.Prefix
	opts.Kubeconfig = c.Kubeconfig
	opts.Context = c.Context
	opts.QPS = c.QPS
	opts.Burst = c.Burst
	opts.MemoryLatency = latency
	opts.Logger = logger

	return opts
}

// Save writes the configuration as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}

	return nil
}

// YAML returns the configuration encoded as YAML.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	return data, nil
}
