package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elevatehq/elevate/internal/engine"
	"github.com/elevatehq/elevate/internal/mirror"
)

// Config is the YAML configuration for the elevate sync daemon.
type Config struct {
	// Database is the path to the SQLite database file.
	Database string `yaml:"database"`

	// Mirror is the path to the durable local snapshot file.
	Mirror string `yaml:"mirror,omitempty"`

	// UserID is the session to bind on startup.
	UserID string `yaml:"user_id"`

	// Policy selects the session-start sync direction:
	// "remote-wins" (default) or "local-wins".
	Policy string `yaml:"policy,omitempty"`

	// WatchdogSeconds overrides the realtime watchdog poll interval.
	WatchdogSeconds int `yaml:"watchdog_seconds,omitempty"`
}

// LoadConfig reads and parses a config YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if c.Policy != "" && !engine.ValidPolicy(engine.Policy(c.Policy)) {
		return fmt.Errorf("unknown policy %q (want %q or %q)",
			c.Policy, engine.PolicyRemoteWins, engine.PolicyLocalWins)
	}
	if c.WatchdogSeconds < 0 {
		return fmt.Errorf("watchdog_seconds must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Mirror == "" {
		c.Mirror = mirror.DefaultName
	}
	if c.Policy == "" {
		c.Policy = string(engine.PolicyRemoteWins)
	}
}

// WatchdogInterval returns the configured watchdog interval, or the
// engine default when unset.
func (c *Config) WatchdogInterval() time.Duration {
	if c.WatchdogSeconds == 0 {
		return engine.DefaultWatchdogInterval
	}
	return time.Duration(c.WatchdogSeconds) * time.Second
}
