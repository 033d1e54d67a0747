// Package config holds the YAML-backed configuration for the context engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvCheckpointPath overrides the configured checkpoint path when set.
const EnvCheckpointPath = "CTXENGINE_CHECKPOINT_PATH"

// Config holds all context engine configuration.
type Config struct {
	Name string `yaml:"name"`

	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Search     SearchConfig     `yaml:"search"`
	Budget     BudgetConfig     `yaml:"budget"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SweeperConfig configures expiration sweeping. Interval is a duration
// string ("60s", "5m").
type SweeperConfig struct {
	Interval  string `yaml:"interval"`
	BatchSize int    `yaml:"batch_size"`
}

// SearchConfig configures store search defaults.
type SearchConfig struct {
	DefaultLimit int     `yaml:"default_limit"`
	MinScore     float64 `yaml:"min_score"`
}

// BudgetConfig configures the context budget allocator.
type BudgetConfig struct {
	EntryLimit int `yaml:"entry_limit"`
}

// CheckpointConfig configures snapshot persistence.
type CheckpointConfig struct {
	Path string `yaml:"path"`
	Keep int    `yaml:"keep"` // Checkpoints retained by prune
}

// LoggingConfig configures the categorized debug logger.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"`
	Dir        string          `yaml:"dir"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Name: "ctxengine",
		Sweeper: SweeperConfig{
			Interval:  "60s",
			BatchSize: 100,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
		},
		Budget: BudgetConfig{
			EntryLimit: 200,
		},
		Checkpoint: CheckpointConfig{
			Path: "ctxengine.db",
			Keep: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   ".ctxengine",
		},
	}
}

// Load reads a YAML config file, applying defaults for absent fields and the
// environment override for the checkpoint path. A missing file yields the
// defaults without error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if env := os.Getenv(EnvCheckpointPath); env != "" {
		cfg.Checkpoint.Path = env
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and the sweeper interval syntax.
func (c *Config) Validate() error {
	if _, err := c.SweeperInterval(); err != nil {
		return err
	}
	if c.Sweeper.BatchSize < 0 {
		return fmt.Errorf("sweeper.batch_size must not be negative")
	}
	if c.Budget.EntryLimit < 1 {
		return fmt.Errorf("budget.entry_limit must be at least 1")
	}
	if c.Search.DefaultLimit < 0 {
		return fmt.Errorf("search.default_limit must not be negative")
	}
	return nil
}

// SweeperInterval parses the sweeper interval duration string.
func (c *Config) SweeperInterval() (time.Duration, error) {
	if c.Sweeper.Interval == "" {
		return 60 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Sweeper.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid sweeper.interval %q: %w", c.Sweeper.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("sweeper.interval must be positive, got %q", c.Sweeper.Interval)
	}
	return d, nil
}
