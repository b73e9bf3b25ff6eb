package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ternarybob/ralph"
	"github.com/ternarybob/ralph/internal/fileutil"
	"github.com/ternarybob/ralph/pkg/guard"
	"github.com/ternarybob/ralph/pkg/prompt"
	"github.com/ternarybob/ralph/pkg/state"
)

func newCheckCmd(flags *globalFlags) *cobra.Command {
	var sessionID string
	var file bool

	cmd := &cobra.Command{
		Use:   "check <command>",
		Short: "Check a shell command against the safety policy",
		Long: `Prints ALLOWED or DENIED for a shell command, exiting non-zero on denial.
With --file the argument is a path checked for file access instead. With
--session the prompt file of that session is protected as it would be while
the session runs.`,
		Example: `  ralph check 'rm -rf build'
  ralph check --session abc 'rm PROMPT.md'
  ralph check --file /etc/passwd`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig("")
			if err != nil {
				return err
			}

			promptPath := ""
			if sessionID != "" {
				st, err := state.NewFileStore(cfg.StatePath()).Load()
				if err != nil {
					return fmt.Errorf("load state: %w", err)
				}
				if sess := st.Session(sessionID); sess != nil && sess.Enabled {
					promptPath = filepath.FromSlash(sess.PromptPath)
				}
			}

			analyzer := ralph.NewAnalyzer(fileutil.Realpath(cfg.Root), promptPath)
			subject := strings.Join(args, " ")
			if file {
				err = analyzer.CheckFileAccess(subject)
			} else {
				err = analyzer.Check(subject)
			}

			var violation *guard.PolicyViolation
			switch {
			case err == nil:
				fmt.Fprintln(cmd.OutOrStdout(), "ALLOWED")
				return nil
			case errors.As(err, &violation):
				fmt.Fprintf(cmd.OutOrStdout(), "DENIED (%s): %s\n", violation.Rule, violation.Reason)
				return violation
			default:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Protect the prompt file of this session")
	cmd.Flags().BoolVarP(&file, "file", "f", false, "Check file access to a path instead of a command")
	return cmd
}

func newLintCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "lint <file>",
		Short: "Lint a prompt file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig("")
			if err != nil {
				return err
			}

			data, err := os.ReadFile(cfg.Resolve(args[0]))
			if err != nil {
				return fmt.Errorf("read prompt file: %w", err)
			}

			errs := prompt.Lint(string(data))
			if len(errs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Prompt file lint failed:")
			for _, e := range errs {
				fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", e)
			}
			return fmt.Errorf("%s: %d lint error(s)", args[0], len(errs))
		},
	}
}
