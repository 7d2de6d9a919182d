package agent

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/edgeprof/internal/export"
	"github.com/ethpandaops/edgeprof/internal/profile"
	"github.com/ethpandaops/edgeprof/internal/report"
	"github.com/ethpandaops/edgeprof/internal/selfprof"
	"github.com/ethpandaops/edgeprof/internal/trace"
)

// Config is the top-level configuration for a profiling run.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Store configures the counter store.
	Store profile.Config `yaml:"store"`

	// Trace configures the recorded event stream to replay.
	Trace trace.Config `yaml:"trace"`

	// Report configures the report output.
	Report report.Config `yaml:"report"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`

	// SelfProfile configures Go runtime profiling of edgeprof itself.
	SelfProfile selfprof.Config `yaml:"self_profile"`

	// MetricsInterval is how often store counters are published to
	// the health metrics. Defaults to 1s.
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Store:    profile.DefaultConfig(),
		Trace:    trace.DefaultConfig(),
		Report:   report.DefaultConfig(),
		Health: export.HealthConfig{
			Addr: ":9090",
		},
		MetricsInterval: time.Second,
	}
}

// LoadConfig reads, parses and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ReadConfig reads and parses a YAML configuration file on top of the
// defaults without validating it, so that CLI flags can still fill in
// required fields.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	// Each section names its own keys in its errors.
	if err := c.Store.Validate(); err != nil {
		return err
	}

	if err := c.Trace.Validate(); err != nil {
		return err
	}

	if err := c.Report.Validate(); err != nil {
		return err
	}

	if err := c.SelfProfile.Validate(); err != nil {
		return err
	}

	if c.MetricsInterval <= 0 {
		return errors.New("metrics_interval must be positive")
	}

	return nil
}
