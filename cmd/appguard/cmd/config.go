package cmd

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/plexsphere/appguard/internal/agent"
)

// loadConfig reads the config file and applies CLI overrides. A missing
// file at the default path yields the built-in defaults.
func loadConfig() (*agent.AgentConfig, error) {
	cfg, err := agent.ParseConfig(cfgFile)
	if errors.Is(err, fs.ErrNotExist) && cfgFile == agent.DefaultConfigPath {
		cfg = agent.Default()
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if socketPath != "" {
		cfg.NodeAPI.SocketPath = socketPath
	}
	return cfg, cfg.Validate()
}

// clientSocketPath returns the socket the client commands talk to.
func clientSocketPath() string {
	if socketPath != "" {
		return socketPath
	}
	if cfg, err := loadConfig(); err == nil {
		return cfg.NodeAPI.SocketPath
	}
	return agent.Default().NodeAPI.SocketPath
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
