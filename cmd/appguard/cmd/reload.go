package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the daemon to reload its rules",
	Args:  cobra.NoArgs,
	RunE:  runReload,
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}

func runReload(cmd *cobra.Command, _ []string) error {
	resp, err := socketDo(clientSocketPath(), http.MethodPost, "/v1/rules/reload", nil)
	if err != nil {
		return fmt.Errorf("appguard reload: %w", err)
	}
	if err := decodeResponse(resp, http.StatusAccepted, nil); err != nil {
		return fmt.Errorf("appguard reload: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "reload requested")
	return nil
}
