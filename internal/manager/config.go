// Package manager owns the active rule generation: it reloads rules from
// the store, publishes the whitelist and decision table, and keeps the
// packet filter in step with the toggle state.
package manager

import (
	"errors"
	"time"
)

// DefaultReloadInterval is the default interval between periodic reloads.
const DefaultReloadInterval = 5 * time.Minute

// Config holds the manager configuration.
type Config struct {
	// ReloadInterval is the interval between periodic reloads.
	// Default: 5m. Must be at least 1s.
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.ReloadInterval == 0 {
		c.ReloadInterval = DefaultReloadInterval
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.ReloadInterval < time.Second {
		return errors.New("manager: config: ReloadInterval must be at least 1s")
	}
	return nil
}
