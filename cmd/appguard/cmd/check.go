package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plexsphere/appguard/internal/identity"
	"github.com/plexsphere/appguard/internal/rules"
)

var checkFile string

var checkCmd = &cobra.Command{
	Use:   "check [rule ...]",
	Short: "Parse rule lines without loading them",
	Long: "Parse and translate rule lines offline with the configured package\n" +
		"registry and report what each line would become. Lines are taken from\n" +
		"the arguments, or from --file (\"-\" for stdin).",
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&checkFile, "file", "f", "", "read rule lines from a file (\"-\" for stdin)")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("appguard check: %w", err)
	}
	logger := setupLogger(cfg.LogLevel)

	var resolver rules.Resolver
	registry := identity.NewRegistry(cfg.Identity.RegistryFile, logger)
	if err := registry.Load(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; package rules will be rejected\n", err)
	} else {
		resolver = registry
	}

	lines := args
	if checkFile != "" {
		lines, err = readLines(cmd.InOrStdin(), checkFile)
		if err != nil {
			return fmt.Errorf("appguard check: %w", err)
		}
	}
	if len(lines) == 0 {
		return errors.New("appguard check: no rule lines given")
	}

	failed := 0
	w := cmd.OutOrStdout()
	for i, line := range lines {
		verdict, ok := checkLine(line, resolver)
		if !ok {
			failed++
		}
		fmt.Fprintf(w, "%d: %s\n   %s\n", i+1, line, verdict)
	}
	if failed > 0 {
		return fmt.Errorf("appguard check: %d of %d lines rejected", failed, len(lines))
	}
	return nil
}

// checkLine describes what the loader would do with line. ok is false
// when the line would be rejected.
func checkLine(line string, resolver rules.Resolver) (verdict string, ok bool) {
	cs, err := rules.ParseLine(line, resolver)
	switch {
	case errors.Is(err, rules.ErrNotRule):
		return "skipped: not an allow rule", true
	case err != nil:
		return "rejected: " + err.Error(), false
	}

	suffix := ""
	if ignored := cs.Ignored(); len(ignored) > 0 {
		suffix = " (ignored: " + strings.Join(ignored, " ") + ")"
	}

	sr, err := rules.Translate(cs)
	if err != nil {
		if name, isApp := cs.String(rules.FieldPackageName); isApp && errors.Is(err, rules.ErrNoTarget) {
			return "enables app " + name + suffix, true
		}
		return "rejected: " + err.Error(), false
	}
	return sr.String() + suffix, true
}

// readLines reads non-empty lines from path, or from stdin when path is "-".
func readLines(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
