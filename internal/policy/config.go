// Package policy programs whitelist rules into the kernel packet filter.
package policy

import "errors"

// DefaultChainName is the default nftables chain name for whitelist enforcement.
const DefaultChainName = "appguard-output"

// Config holds the configuration for packet-filter enforcement.
type Config struct {
	// Enabled controls whether rules are programmed into the packet filter.
	// Default: false. Policy queries work without it.
	Enabled bool `yaml:"enabled"`

	// ChainName is the nftables chain name for whitelist rules.
	// Default: appguard-output
	ChainName string `yaml:"chain_name"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.ChainName == "" {
		c.ChainName = DefaultChainName
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ChainName == "" {
		return errors.New("policy: config: ChainName must not be empty when enabled")
	}
	return nil
}
