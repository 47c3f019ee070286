// Package agent holds the top-level daemon configuration.
package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/plexsphere/appguard/internal/decision"
	"github.com/plexsphere/appguard/internal/identity"
	"github.com/plexsphere/appguard/internal/manager"
	"github.com/plexsphere/appguard/internal/metrics"
	"github.com/plexsphere/appguard/internal/nodeapi"
	"github.com/plexsphere/appguard/internal/policy"
	"github.com/plexsphere/appguard/internal/store"
	"github.com/plexsphere/appguard/internal/toggle"
)

const (
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultDataDir is the default data directory.
	DefaultDataDir = "/var/lib/appguard"

	// DefaultConfigPath is where the daemon looks for its configuration.
	DefaultConfigPath = "/etc/appguard/config.yaml"
)

// AgentConfig is the top-level configuration for the appguard daemon.
// It aggregates all subsystem configurations and is populated from
// a YAML configuration file via ParseConfig.
type AgentConfig struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// DataDir is the directory for persistent daemon data. The rule
	// database lives here unless store.path says otherwise.
	// Default: /var/lib/appguard
	DataDir string `yaml:"data_dir"`

	Store    store.Config    `yaml:"store"`
	Identity identity.Config `yaml:"identity"`
	Decision decision.Config `yaml:"decision"`
	Toggle   toggle.Config   `yaml:"toggle"`
	Policy   policy.Config   `yaml:"policy"`
	Manager  manager.Config  `yaml:"manager"`
	Metrics  metrics.Config  `yaml:"metrics"`
	NodeAPI  nodeapi.Config  `yaml:"node_api"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *AgentConfig) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "rules.db")
	}
	c.Store.ApplyDefaults()
	c.Identity.ApplyDefaults()
	c.Decision.ApplyDefaults()
	c.Toggle.ApplyDefaults()
	c.Policy.ApplyDefaults()
	c.Manager.ApplyDefaults()
	c.Metrics.ApplyDefaults()
	c.NodeAPI.ApplyDefaults()
}

// Validate checks that required fields are set and values are acceptable.
func (c *AgentConfig) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent: config: invalid log level %q", c.LogLevel)
	}
	validators := []interface{ Validate() error }{
		&c.Store,
		&c.Identity,
		&c.Decision,
		&c.Toggle,
		&c.Policy,
		&c.Manager,
		&c.Metrics,
		&c.NodeAPI,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseConfig reads a YAML configuration file and returns an AgentConfig.
// It applies defaults and validates the configuration.
func ParseConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: config: read %s: %w", path, err)
	}
	return LoadConfig(data)
}

// LoadConfig parses YAML configuration data, applies defaults and
// validates the result.
func LoadConfig(data []byte) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("agent: config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *AgentConfig {
	var cfg AgentConfig
	cfg.ApplyDefaults()
	return &cfg
}
