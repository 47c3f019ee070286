package nodeapi

import (
	"errors"
	"time"
)

// Config holds the configuration for the local API server.
// Config is passed as a constructor argument; no file I/O in this package.
type Config struct {
	// SocketPath is the path to the Unix domain socket.
	// Default: /run/appguard/api.sock
	SocketPath string `yaml:"socket_path"`

	// HTTPEnabled enables the optional TCP listener with bearer auth.
	// Default: false
	HTTPEnabled bool `yaml:"http_enabled"`

	// HTTPListen is the TCP listen address.
	// Default: 127.0.0.1:9180
	HTTPListen string `yaml:"http_listen"`

	// HTTPTokenFile is the path to the bearer token file.
	HTTPTokenFile string `yaml:"http_token_file"`

	// AdminGroup is the group whose members may change rules over the
	// socket. Root is always allowed.
	// Default: appguard
	AdminGroup string `yaml:"admin_group"`

	// ShutdownTimeout is the maximum time to wait for a graceful shutdown.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultSocketPath is the default Unix domain socket path.
const DefaultSocketPath = "/run/appguard/api.sock"

// DefaultHTTPListen is the default TCP listen address.
const DefaultHTTPListen = "127.0.0.1:9180"

// DefaultAdminGroup is the default admin group name.
const DefaultAdminGroup = "appguard"

// DefaultShutdownTimeout is the default graceful shutdown timeout.
const DefaultShutdownTimeout = 5 * time.Second

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.HTTPListen == "" {
		c.HTTPListen = DefaultHTTPListen
	}
	if c.AdminGroup == "" {
		c.AdminGroup = DefaultAdminGroup
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks that required fields are set and values are acceptable.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return errors.New("nodeapi: config: SocketPath is required")
	}
	if c.HTTPEnabled && c.HTTPTokenFile == "" {
		return errors.New("nodeapi: config: HTTPTokenFile is required when HTTPEnabled")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("nodeapi: config: ShutdownTimeout must be positive")
	}
	return nil
}
