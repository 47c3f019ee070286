// Package store keeps allow-rule text in a SQLite database and serves the
// enacted rules to the rule loader.
package store

import "errors"

// DefaultPath is the default rule database path.
const DefaultPath = "/var/lib/appguard/rules.db"

// Config holds the configuration for the rule store.
type Config struct {
	// Path is the SQLite database file.
	// Default: /var/lib/appguard/rules.db
	Path string `yaml:"path"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("store: config: Path must not be empty")
	}
	return nil
}
