// Package config loads the pool's configuration from a YAML file, applying
// defaults for anything the file leaves unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/browserpool/pkg/driver"
)

// Duration wraps time.Duration so YAML values can be written in the
// usual "30s" / "5m" form, which yaml.v3 does not parse on its own.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Config is the root configuration.
type Config struct {
	Pool    PoolConfig    `yaml:"pool"`
	Driver  DriverConfig  `yaml:"driver"`
	Cleanup CleanupConfig `yaml:"cleanup"`
	Logging LoggingConfig `yaml:"logging"`
}

// PoolConfig holds the per-tier capacity ceilings.
type PoolConfig struct {
	MaxBrowsers           int `yaml:"max_browsers"`
	MaxContextsPerBrowser int `yaml:"max_contexts_per_browser"`
	MaxPagesPerContext    int `yaml:"max_pages_per_context"`
}

// DriverConfig holds browser launch defaults.
type DriverConfig struct {
	// Kind selects the browser engine: chromium, firefox, or webkit.
	Kind string `yaml:"kind"`

	Headless bool `yaml:"headless"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// OperationTimeout bounds each driver call (launch, create, close).
	OperationTimeout Duration `yaml:"operation_timeout"`
}

// CleanupConfig controls the idle sweeper.
type CleanupConfig struct {
	Interval    Duration `yaml:"interval"`
	IdleTimeout Duration `yaml:"idle_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxBrowsers:           4,
			MaxContextsPerBrowser: 8,
			MaxPagesPerContext:    16,
		},
		Driver: DriverConfig{
			Kind:             string(driver.KindChromium),
			Headless:         true,
			ViewportWidth:    1280,
			ViewportHeight:   720,
			OperationTimeout: Duration(30 * time.Second),
		},
		Cleanup: CleanupConfig{
			Interval:    Duration(time.Minute),
			IdleTimeout: Duration(5 * time.Minute),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the pool cannot run with.
func (c *Config) Validate() error {
	if c.Pool.MaxBrowsers < 1 {
		return fmt.Errorf("pool.max_browsers must be at least 1, got %d", c.Pool.MaxBrowsers)
	}
	if c.Pool.MaxContextsPerBrowser < 1 {
		return fmt.Errorf("pool.max_contexts_per_browser must be at least 1, got %d", c.Pool.MaxContextsPerBrowser)
	}
	if c.Pool.MaxPagesPerContext < 1 {
		return fmt.Errorf("pool.max_pages_per_context must be at least 1, got %d", c.Pool.MaxPagesPerContext)
	}
	if !driver.BrowserKind(c.Driver.Kind).Valid() {
		return fmt.Errorf("driver.kind must be chromium, firefox, or webkit, got %q", c.Driver.Kind)
	}
	if c.Driver.OperationTimeout < 0 {
		return fmt.Errorf("driver.operation_timeout must not be negative")
	}
	if c.Cleanup.Interval <= 0 {
		return fmt.Errorf("cleanup.interval must be positive, got %s", c.Cleanup.Interval)
	}
	if c.Cleanup.IdleTimeout <= 0 {
		return fmt.Errorf("cleanup.idle_timeout must be positive, got %s", c.Cleanup.IdleTimeout)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

// BrowserKind returns the configured default browser kind.
func (c *Config) BrowserKind() driver.BrowserKind {
	return driver.BrowserKind(c.Driver.Kind)
}
