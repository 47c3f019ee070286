// Package toggle implements the scheduler that periodically flips the
// global filtering enabled flag.
package toggle

import (
	"errors"
	"time"
)

// DefaultInterval is the time between two flips.
const DefaultInterval = 5 * time.Second

// Config holds the toggle scheduler configuration.
// Config is passed as a constructor argument; this package does no file I/O.
type Config struct {
	// Enabled starts the scheduler at startup. When false the global
	// enabled flag stays on for the life of the process.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Interval is the delay between two flips.
	// Default: 5s
	Interval time.Duration `yaml:"interval"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.Interval < 0 {
		return errors.New("toggle: config: Interval must not be negative")
	}
	if c.Enabled && c.Interval < 100*time.Millisecond {
		return errors.New("toggle: config: Interval must be at least 100ms")
	}
	return nil
}
