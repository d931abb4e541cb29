// Package config handles YAML configuration for tally.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/tally/pkg/resource"
)

// Config is the root configuration structure.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Lock      LockConfig      `yaml:"lock"`
	Journal   JournalConfig   `yaml:"journal"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Bulk      BulkConfig      `yaml:"bulk"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	OTEL      OTELConfig      `yaml:"otel"`
	Contexts  []ContextConfig `yaml:"contexts"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// StoreConfig selects the persistence gateway.
type StoreConfig struct {
	Driver string `yaml:"driver"` // bolt or postgres
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// LockConfig selects how scope passes are serialized.
type LockConfig struct {
	Driver   string        `yaml:"driver"` // local or redis
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// JournalConfig controls the audit journal.
type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// ReconcileConfig tunes reconciliation passes.
type ReconcileConfig struct {
	MaxConcurrency  int           `yaml:"max_concurrency"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	PendingGrace    time.Duration `yaml:"pending_grace"`
	WaitForLock     bool          `yaml:"wait_for_lock"`
	LockRetry       time.Duration `yaml:"lock_retry"`
}

// BulkConfig tunes the bulk action dispatcher.
type BulkConfig struct {
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
	MaxConcurrency int     `yaml:"max_concurrency"`
	PolicyFile     string  `yaml:"policy_file"`
}

// DaemonConfig holds daemon settings.
type DaemonConfig struct {
	Addr            string `yaml:"addr"`
	DefaultSchedule string `yaml:"default_schedule"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	CAFile      string        `yaml:"ca_file"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled    bool `yaml:"enabled"`
	Prometheus bool `yaml:"prometheus"`
	// RecordInfo exports one series per tracked record.
	RecordInfo bool `yaml:"record_info"`
}

// ContextConfig describes one cloud context.
type ContextConfig struct {
	Name        string   `yaml:"name"`
	Provider    string   `yaml:"provider"` // aws or k8s
	Region      string   `yaml:"region"`
	Profile     string   `yaml:"profile"`
	Kubeconfig  string   `yaml:"kubeconfig"`
	KubeContext string   `yaml:"kube_context"`
	Namespace   string   `yaml:"namespace"`
	Owner       string   `yaml:"owner"`
	Schedule    string   `yaml:"schedule"`
	Types       []string `yaml:"types"`
}

// ResourceTypes returns the configured types in order with repeats dropped,
// or every type of the context's provider when none are listed.
func (c ContextConfig) ResourceTypes() ([]resource.Type, error) {
	if len(c.Types) == 0 {
		return resource.TypesFor(c.Provider), nil
	}
	out := make([]resource.Type, 0, len(c.Types))
	seen := make(map[resource.Type]bool, len(c.Types))
	for _, s := range c.Types {
		t, err := resource.ParseType(s)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		spec, _ := resource.Lookup(t)
		if spec.Provider != c.Provider {
			return nil, fmt.Errorf("type %s is not served by provider %s", t, c.Provider)
		}
		out = append(out, t)
	}
	return out, nil
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with defaults applied and no contexts.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "bolt"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./tally.db"
	}
	if cfg.Lock.Driver == "" {
		cfg.Lock.Driver = "local"
	}
	if cfg.Lock.Prefix == "" {
		cfg.Lock.Prefix = "tally:lock:"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 10 * time.Minute
	}
	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = "./journal"
	}
	if cfg.Journal.RetentionDays == 0 {
		cfg.Journal.RetentionDays = 30
	}
	if cfg.Reconcile.MaxConcurrency == 0 {
		cfg.Reconcile.MaxConcurrency = 8
	}
	if cfg.Reconcile.ProviderTimeout == 0 {
		cfg.Reconcile.ProviderTimeout = 2 * time.Minute
	}
	if cfg.Reconcile.PendingGrace == 0 {
		cfg.Reconcile.PendingGrace = 30 * time.Second
	}
	if cfg.Reconcile.LockRetry == 0 {
		cfg.Reconcile.LockRetry = 2 * time.Second
	}
	if cfg.Bulk.RatePerSecond == 0 {
		cfg.Bulk.RatePerSecond = 5
	}
	if cfg.Bulk.Burst == 0 {
		cfg.Bulk.Burst = 5
	}
	if cfg.Bulk.MaxConcurrency == 0 {
		cfg.Bulk.MaxConcurrency = 4
	}
	if cfg.Daemon.Addr == "" {
		cfg.Daemon.Addr = ":9090"
	}
	if cfg.Daemon.DefaultSchedule == "" {
		cfg.Daemon.DefaultSchedule = "@every 15m"
	}
	if cfg.Daemon.CleanupSchedule == "" {
		cfg.Daemon.CleanupSchedule = "@daily"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "tally"
	}
}

// Context returns the named context.
func (c *Config) Context(name string) (ContextConfig, bool) {
	for _, cc := range c.Contexts {
		if cc.Name == name {
			return cc, true
		}
	}
	return ContextConfig{}, false
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "bolt":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store: dsn required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}

	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Lock.Addr == "" {
			errs = append(errs, errors.New("lock: addr required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock: unknown driver %q", c.Lock.Driver))
	}

	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		errs = append(errs, fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate))
	}
	if c.Reconcile.MaxConcurrency < 1 {
		errs = append(errs, errors.New("reconcile: max_concurrency must be positive"))
	}

	seen := make(map[string]bool, len(c.Contexts))
	for i, cc := range c.Contexts {
		if cc.Name == "" {
			errs = append(errs, fmt.Errorf("contexts[%d]: name is required", i))
			continue
		}
		if seen[cc.Name] {
			errs = append(errs, fmt.Errorf("contexts[%d]: duplicate name %q", i, cc.Name))
		}
		seen[cc.Name] = true

		switch cc.Provider {
		case resource.ProviderAWS:
			if cc.Region == "" {
				errs = append(errs, fmt.Errorf("context %s: region is required", cc.Name))
			}
		case resource.ProviderK8s:
		default:
			errs = append(errs, fmt.Errorf("context %s: unknown provider %q", cc.Name, cc.Provider))
			continue
		}
		if _, err := cc.ResourceTypes(); err != nil {
			errs = append(errs, fmt.Errorf("context %s: %w", cc.Name, err))
		}
	}

	return errors.Join(errs...)
}
