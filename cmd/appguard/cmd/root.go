// Package cmd implements the appguard CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/appguard/internal/agent"
)

var (
	cfgFile    string
	logLevel   string
	socketPath string
)

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("appguard version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

var rootCmd = &cobra.Command{
	Use:   "appguard",
	Short: "appguard is a per-application network whitelist daemon",
	Long: "appguard loads allow rules from a local rule store, resolves application\n" +
		"package names to UIDs, answers per-app network policy queries and can\n" +
		"enforce the whitelist with nftables.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", agent.DefaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error; overrides config)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "local API socket path (overrides config)")

	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("appguard version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
