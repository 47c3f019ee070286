package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/plexsphere/appguard/internal/nodeapi"
)

var (
	queryContext string
	queryDefault bool
	matchUID     int
	matchHost    string
	matchIP      string
)

var queryCmd = &cobra.Command{
	Use:   "query <package>",
	Short: "Ask whether an app may use the network",
	Long: "Query the decision table for one package in one connectivity context:\n" +
		"wifi, other, screen_wifi or screen_other.",
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Test a destination against the active whitelist",
	Long:  "Check whether a uid may reach --host or --ip under the active whitelist.",
	Args:  cobra.NoArgs,
	RunE:  runMatch,
}

func init() {
	queryCmd.Flags().StringVar(&queryContext, "context", "wifi", "connectivity context")
	queryCmd.Flags().BoolVar(&queryDefault, "default", false, "answer for packages without an override")
	matchCmd.Flags().IntVar(&matchUID, "uid", -1, "application uid (default: the caller's uid)")
	matchCmd.Flags().StringVar(&matchHost, "host", "", "destination host name")
	matchCmd.Flags().StringVar(&matchIP, "ip", "", "destination IPv4 address")
	rootCmd.AddCommand(queryCmd, matchCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	path := "/v1/apps/" + url.PathEscape(args[0]) + "/" + url.PathEscape(queryContext) +
		"?default=" + strconv.FormatBool(queryDefault)
	resp, err := socketGet(clientSocketPath(), path)
	if err != nil {
		return fmt.Errorf("appguard query: %w", err)
	}
	var ar nodeapi.AppResponse
	if err := decodeResponse(resp, http.StatusOK, &ar); err != nil {
		return fmt.Errorf("appguard query: %w", err)
	}
	verdict := "blocked"
	if ar.Enabled {
		verdict = "allowed"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s on %s: %s\n", ar.Package, ar.Context, verdict)
	return nil
}

func runMatch(cmd *cobra.Command, _ []string) error {
	if (matchHost == "") == (matchIP == "") {
		return errors.New("appguard match: exactly one of --host or --ip is required")
	}
	q := url.Values{}
	if matchUID >= 0 {
		q.Set("uid", strconv.Itoa(matchUID))
	}
	if matchHost != "" {
		q.Set("host", matchHost)
	} else {
		q.Set("ip", matchIP)
	}

	resp, err := socketGet(clientSocketPath(), "/v1/match?"+q.Encode())
	if err != nil {
		return fmt.Errorf("appguard match: %w", err)
	}
	var mr nodeapi.MatchResponse
	if err := decodeResponse(resp, http.StatusOK, &mr); err != nil {
		return fmt.Errorf("appguard match: %w", err)
	}

	dst := mr.Host
	if dst == "" {
		dst = mr.IP
	}
	fmt.Fprintf(cmd.OutOrStdout(), "uid %d -> %s: matched=%t filtering=%t allowed=%t\n",
		mr.UID, dst, mr.Matched, mr.Filtering, mr.Allowed)
	return nil
}
