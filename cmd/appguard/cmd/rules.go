package cmd

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plexsphere/appguard/internal/nodeapi"
	"github.com/plexsphere/appguard/internal/store"
)

var (
	rulesDisabled bool
	replaceFile   string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage stored rules",
	Long:  "List, add, replace, enact, disable and remove rules in the daemon's rule store.",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rules",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the whitelist of the active generation",
	Args:  cobra.NoArgs,
	RunE:  runRulesActive,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <rule text>",
	Short: "Add a rule",
	Long:  "Add a rule line such as \"allow packagename:com.example host:*.example.com\".",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesAdd,
}

var rulesReplaceCmd = &cobra.Command{
	Use:   "replace",
	Short: "Replace the enacted rule set",
	Long: "Disable every enacted rule and enact the rule lines read from --file\n" +
		"(\"-\" for stdin) in one step. Empty lines and lines starting with # are skipped.",
	Args: cobra.NoArgs,
	RunE: runRulesReplace,
}

var rulesEnactCmd = &cobra.Command{
	Use:   "enact <id>",
	Short: "Enact a stored rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnacted(cmd, args[0], true) },
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Keep a stored rule but stop loading it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnacted(cmd, args[0], false) },
}

var rulesRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a stored rule",
	Args:    cobra.ExactArgs(1),
	RunE:    runRulesRemove,
}

func init() {
	rulesAddCmd.Flags().BoolVar(&rulesDisabled, "disabled", false, "store the rule without enacting it")
	rulesReplaceCmd.Flags().StringVarP(&replaceFile, "file", "f", "", "file with one rule per line (\"-\" for stdin)")
	_ = rulesReplaceCmd.MarkFlagRequired("file")
	rulesCmd.AddCommand(rulesListCmd, rulesActiveCmd, rulesAddCmd, rulesReplaceCmd, rulesEnactCmd, rulesDisableCmd, rulesRemoveCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesList(cmd *cobra.Command, _ []string) error {
	resp, err := socketGet(clientSocketPath(), "/v1/rules/stored")
	if err != nil {
		return fmt.Errorf("appguard rules list: %w", err)
	}
	var list []store.Rule
	if err := decodeResponse(resp, http.StatusOK, &list); err != nil {
		return fmt.Errorf("appguard rules list: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENACTED\tRULE")
	for _, r := range list {
		fmt.Fprintf(w, "%d\t%t\t%s\n", r.ID, r.Enacted, r.RuleText)
	}
	return w.Flush()
}

func runRulesActive(cmd *cobra.Command, _ []string) error {
	resp, err := socketGet(clientSocketPath(), "/v1/rules")
	if err != nil {
		return fmt.Errorf("appguard rules active: %w", err)
	}
	var rr nodeapi.RulesResponse
	if err := decodeResponse(resp, http.StatusOK, &rr); err != nil {
		return fmt.Errorf("appguard rules active: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Generation: %s\n\n", rr.Generation)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tKIND\tPATTERN")
	for _, e := range rr.Entries {
		scope := "global"
		if e.Scope != 0 {
			scope = "uid " + strconv.Itoa(int(e.Scope))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", scope, e.Kind, e.Pattern)
	}
	return w.Flush()
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	enacted := !rulesDisabled
	resp, err := socketDo(clientSocketPath(), http.MethodPost, "/v1/rules", nodeapi.AddRuleRequest{
		Text:    args[0],
		Enacted: &enacted,
	})
	if err != nil {
		return fmt.Errorf("appguard rules add: %w", err)
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := decodeResponse(resp, http.StatusCreated, &created); err != nil {
		return fmt.Errorf("appguard rules add: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added rule %d\n", created.ID)
	return nil
}

func runRulesReplace(cmd *cobra.Command, _ []string) error {
	lines, err := readLines(cmd.InOrStdin(), replaceFile)
	if err != nil {
		return fmt.Errorf("appguard rules replace: %w", err)
	}
	texts := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		texts = append(texts, line)
	}

	resp, err := socketDo(clientSocketPath(), http.MethodPut, "/v1/rules", nodeapi.ReplaceRulesRequest{Rules: texts})
	if err != nil {
		return fmt.Errorf("appguard rules replace: %w", err)
	}
	var result struct {
		Replaced int `json:"replaced"`
	}
	if err := decodeResponse(resp, http.StatusOK, &result); err != nil {
		return fmt.Errorf("appguard rules replace: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "enacted %d rules\n", result.Replaced)
	return nil
}

func setEnacted(cmd *cobra.Command, idArg string, enacted bool) error {
	id, err := parseRuleID(idArg)
	if err != nil {
		return err
	}
	resp, err := socketDo(clientSocketPath(), http.MethodPut, "/v1/rules/"+strconv.FormatInt(id, 10)+"/enacted",
		nodeapi.SetEnactedRequest{Enacted: enacted})
	if err != nil {
		return fmt.Errorf("appguard rules: %w", err)
	}
	if err := decodeResponse(resp, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("appguard rules: rule %d: %w", id, err)
	}
	state := "disabled"
	if enacted {
		state = "enacted"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rule %d %s\n", id, state)
	return nil
}

func runRulesRemove(cmd *cobra.Command, args []string) error {
	id, err := parseRuleID(args[0])
	if err != nil {
		return err
	}
	resp, err := socketDo(clientSocketPath(), http.MethodDelete, "/v1/rules/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return fmt.Errorf("appguard rules remove: %w", err)
	}
	if err := decodeResponse(resp, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("appguard rules remove: rule %d: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed rule %d\n", id)
	return nil
}

func parseRuleID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("appguard rules: invalid rule id %q", s)
	}
	return id, nil
}
