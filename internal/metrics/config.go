// Package metrics exposes appguard's Prometheus metrics and periodically
// samples the state of the rule engine into gauges.
package metrics

import (
	"errors"
	"time"
)

// DefaultCollectInterval is the default interval between collection cycles.
const DefaultCollectInterval = 15 * time.Second

// Config holds the configuration for metrics collection.
type Config struct {
	// Enabled controls whether gauges are sampled and /metrics is served.
	// Default: true (set by ApplyDefaults).
	Enabled bool `yaml:"enabled"`

	// CollectInterval is the interval between collection cycles.
	// Must be at least 1s.
	CollectInterval time.Duration `yaml:"collect_interval"`
}

// ApplyDefaults sets default values for zero-valued fields.
// On a zero-valued Config, Enabled defaults to true. If CollectInterval is
// set, the caller built the config explicitly and Enabled is respected.
func (c *Config) ApplyDefaults() {
	if c.CollectInterval == 0 {
		c.Enabled = true
		c.CollectInterval = DefaultCollectInterval
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CollectInterval < time.Second {
		return errors.New("metrics: config: CollectInterval must be at least 1s")
	}
	return nil
}
