// Package config provides configuration structures for the poolalloc CLI.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the CLI configuration.
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`

	// Allocator settings
	Allocator AllocatorConfig `yaml:"allocator" json:"allocator" mapstructure:"allocator"`

	// Stress workload settings
	Stress StressConfig `yaml:"stress" json:"stress" mapstructure:"stress"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
}

// AllocatorConfig selects where the default allocator gets its arena.
type AllocatorConfig struct {
	// ArenaSize is the size of a caller-supplied region. Zero draws the arena
	// from native memory instead.
	ArenaSize int `yaml:"arena_size" json:"arena_size" mapstructure:"arena_size"`
	// NativeArenaSize is the size drawn from native memory when ArenaSize is zero.
	NativeArenaSize int  `yaml:"native_arena_size" json:"native_arena_size" mapstructure:"native_arena_size"`
	Diagnostic      bool `yaml:"diagnostic" json:"diagnostic" mapstructure:"diagnostic"`
}

// StressConfig represents the stress workload configuration.
type StressConfig struct {
	Workers    int           `yaml:"workers" json:"workers" mapstructure:"workers"`
	Operations int           `yaml:"operations" json:"operations" mapstructure:"operations"`
	MaxSize    int           `yaml:"max_size" json:"max_size" mapstructure:"max_size"`
	Duration   time.Duration `yaml:"duration" json:"duration" mapstructure:"duration"`
	Arrow      bool          `yaml:"arrow" json:"arrow" mapstructure:"arrow"`
	Seed       int64         `yaml:"seed" json:"seed" mapstructure:"seed"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Address string `yaml:"address" json:"address" mapstructure:"address"`
	Path    string `yaml:"path" json:"path" mapstructure:"path"`
}

// Validate validates the configuration and fills in defaults.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "":
		c.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.LogLevel)
	}

	if c.Allocator.ArenaSize < 0 {
		return fmt.Errorf("arena size must not be negative")
	}
	if c.Allocator.NativeArenaSize <= 0 {
		c.Allocator.NativeArenaSize = 64 << 20
	}

	if c.Stress.Workers <= 0 {
		c.Stress.Workers = 4
	}
	if c.Stress.Operations <= 0 {
		c.Stress.Operations = 10000
	}
	if c.Stress.MaxSize <= 0 {
		c.Stress.MaxSize = 8 << 10
	}
	if c.Stress.Duration < 0 {
		return fmt.Errorf("stress duration must not be negative")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Allocator: AllocatorConfig{
			ArenaSize:       0,
			NativeArenaSize: 64 << 20, // 64MB
			Diagnostic:      false,
		},
		Stress: StressConfig{
			Workers:    4,
			Operations: 10000,
			MaxSize:    8 << 10,
			Seed:       1,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
			Path:    "/metrics",
		},
	}
}
