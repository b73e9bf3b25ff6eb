package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ternarybob/ralph/internal/service"
	"github.com/ternarybob/ralph/pkg/state"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var asJSON, journal bool

	cmd := &cobra.Command{
		Use:   "status [session]",
		Short: "Show session state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig("")
			if err != nil {
				return err
			}

			st, err := state.NewFileStore(cfg.StatePath()).Load()
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}

			ids := st.IDs()
			if len(args) == 1 {
				if st.Session(args[0]) == nil {
					return fmt.Errorf("session %s: not started", args[0])
				}
				ids = args
			}

			out := cmd.OutOrStdout()
			if asJSON {
				sessions := make(map[string]*state.Session, len(ids))
				for _, id := range ids {
					sessions[id] = st.Session(id)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}

			if running, pid := service.IsRunning(cfg); running {
				fmt.Fprintf(out, "Bridge: running (PID %d) on %s\n\n", pid, cfg.Address())
			}

			if len(ids) == 0 {
				fmt.Fprintln(out, "No sessions")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tSTATE\tITERATION\tPROMPT")
			for _, id := range ids {
				sess := st.Session(id)
				status := "stopped"
				if sess.Enabled {
					status = "running"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\n", id, status, sess.Iteration, sess.MaxIterations, sess.PromptPath)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if !journal || len(args) == 0 || cfg.JournalPath() == "" {
				return nil
			}

			entries, err := state.ReadJournal(cfg.JournalPath(), args[0])
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}
			fmt.Fprintln(out)
			for _, t := range entries {
				line := fmt.Sprintf("%s  %-8s %d/%d", t.At.Format("2006-01-02 15:04:05"), t.Event, t.Iteration, t.MaxIterations)
				if t.Reason != "" {
					line += "  " + t.Reason
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sessions as JSON")
	cmd.Flags().BoolVar(&journal, "journal", false, "Also print the transitions of the given session")
	return cmd
}
