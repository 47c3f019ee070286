package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/plexsphere/appguard/internal/nodeapi"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  "Connect to the local daemon via Unix socket and display the active rule generation.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	resp, err := socketGet(clientSocketPath(), "/v1/status")
	if err != nil {
		return fmt.Errorf("appguard status: %w", err)
	}
	var s nodeapi.StatusResponse
	if err := decodeResponse(resp, http.StatusOK, &s); err != nil {
		return fmt.Errorf("appguard status: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Generation:     %s\n", s.Generation)
	if s.LoadedAt != nil {
		fmt.Fprintf(w, "Loaded at:      %s\n", s.LoadedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Filtering:      %t\n", s.Filtering)
	if s.Toggle != nil {
		fmt.Fprintf(w, "Toggle enabled: %t\n", s.Toggle.Enabled)
		if s.Toggle.NextToggle != nil {
			fmt.Fprintf(w, "Next toggle:    %s\n", s.Toggle.NextToggle.Format(time.RFC3339))
		}
	}
	fmt.Fprintf(w, "Global rules:   %d\n", s.Whitelist.Global)
	fmt.Fprintf(w, "App rules:      %d\n", s.Whitelist.App)
	fmt.Fprintf(w, "Invalid rules:  %d\n", s.Whitelist.Invalid)
	fmt.Fprintf(w, "App overrides:  %d\n", s.AppOverrides)

	st := s.Stats
	fmt.Fprintf(w, "\nLast load: %d rows, %d skipped, %d rejected, %d violations\n",
		st.Rows, st.NotRules, st.Rejected, st.Violations)
	return nil
}
