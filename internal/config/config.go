// Package config loads and validates patchAgent configuration from YAML,
// with environment variable overrides for deployment-specific paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all patchAgent configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Workspace root; logs and the audit database live underneath it.
	Workspace string `yaml:"workspace"`

	// Rigor policy configuration
	Rigor RigorConfig `yaml:"rigor"`

	// Bounds table configuration
	Bounds BoundsConfig `yaml:"bounds"`

	// Resolver cache configuration
	Resolver ResolverConfig `yaml:"resolver"`

	// Execution settings
	Execution ExecutionConfig `yaml:"execution"`

	// Audit trail
	Audit AuditConfig `yaml:"audit"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// RigorConfig configures the code admission policy.
type RigorConfig struct {
	// RulesPath points at a YAML rule table. Empty uses the built-in table.
	RulesPath string `yaml:"rules_path"`
	// WatchRules enables hot reload of the rule table on file change.
	WatchRules bool `yaml:"watch_rules"`
}

// BoundsConfig configures the physiological bounds table.
type BoundsConfig struct {
	// TablePath points at a YAML bounds table. Empty uses the built-in table.
	TablePath string `yaml:"table_path"`
}

// ResolverConfig configures the data resolver cache.
type ResolverConfig struct {
	CacheCapacity int `yaml:"cache_capacity"`
}

// ExecutionConfig configures the sandboxed executor.
type ExecutionConfig struct {
	// Default timeout for one snippet execution
	DefaultTimeout string `yaml:"default_timeout"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	DebugMode bool   `yaml:"debug_mode"` // master toggle; false = no file logging
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:      "patchAgent",
		Version:   "0.3.0",
		Workspace: ".",

		Rigor: RigorConfig{
			WatchRules: false,
		},

		Resolver: ResolverConfig{
			CacheCapacity: 50,
		},

		Execution: ExecutionConfig{
			DefaultTimeout: "30s",
		},

		Audit: AuditConfig{
			Enabled:      true,
			DatabasePath: "data/patchagent.db",
		},

		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if ws := os.Getenv("PATCHAGENT_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if path := os.Getenv("PATCHAGENT_RULES"); path != "" {
		c.Rigor.RulesPath = path
	}
	if path := os.Getenv("PATCHAGENT_BOUNDS"); path != "" {
		c.Bounds.TablePath = path
	}
	if path := os.Getenv("PATCHAGENT_DB"); path != "" {
		c.Audit.DatabasePath = path
	}
	if os.Getenv("PATCHAGENT_DEBUG") == "1" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// GetExecutionTimeout returns the snippet execution timeout as a duration.
func (c *Config) GetExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.DefaultTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace not configured")
	}
	if c.Resolver.CacheCapacity < 0 {
		return fmt.Errorf("invalid cache capacity: %d", c.Resolver.CacheCapacity)
	}
	if _, err := time.ParseDuration(c.Execution.DefaultTimeout); err != nil {
		return fmt.Errorf("invalid execution timeout %q: %w", c.Execution.DefaultTimeout, err)
	}
	if c.Audit.Enabled && c.Audit.DatabasePath == "" {
		return fmt.Errorf("audit enabled but database_path empty")
	}
	return nil
}
