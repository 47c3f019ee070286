// Package identity resolves application package names to numeric UIDs.
package identity

import "errors"

// DefaultRegistryFile is the default package registry path.
const DefaultRegistryFile = "/etc/appguard/packages.yaml"

// Config holds the configuration for the package registry.
type Config struct {
	// RegistryFile is a YAML file mapping package names to UIDs.
	// Default: /etc/appguard/packages.yaml
	RegistryFile string `yaml:"registry_file"`

	// Watch reloads the registry when the file changes.
	// Default: false
	Watch bool `yaml:"watch"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.RegistryFile == "" {
		c.RegistryFile = DefaultRegistryFile
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.RegistryFile == "" {
		return errors.New("identity: config: RegistryFile must not be empty")
	}
	return nil
}
