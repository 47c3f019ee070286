package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/plexsphere/appguard/internal/agent"
	"github.com/plexsphere/appguard/internal/fsutil"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: "Write the default configuration to --config, and an empty package\n" +
		"registry next to it if none exists. Existing files are kept unless --force.",
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	cfg := agent.Default()
	dir := filepath.Dir(cfgFile)
	cfg.Identity.RegistryFile = filepath.Join(dir, "packages.yaml")

	if err := writeIfAbsent(cfgFile, cfg, initForce); err != nil {
		return fmt.Errorf("appguard init: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgFile)

	registry := map[string]map[string]int{"packages": {}}
	err := writeIfAbsent(cfg.Identity.RegistryFile, registry, false)
	switch {
	case errors.Is(err, fs.ErrExist):
	case err != nil:
		return fmt.Errorf("appguard init: %w", err)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfg.Identity.RegistryFile)
	}
	return nil
}

// writeIfAbsent marshals v as YAML and writes it atomically to path.
func writeIfAbsent(path string, v any, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, fs.ErrExist)
		}
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return fsutil.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), data, 0o644)
}
