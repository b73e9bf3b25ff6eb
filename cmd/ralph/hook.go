package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/ralph"
	"github.com/ternarybob/ralph/internal/hook"
	"github.com/ternarybob/ralph/internal/logger"
	"github.com/ternarybob/ralph/pkg/loop"
)

func newHookCmd(flags *globalFlags) *cobra.Command {
	hookCmd := &cobra.Command{
		Use:   "hook",
		Short: "Handle one agent hook event",
		Long: `Reads a hook payload as JSON on stdin and writes the hook response as JSON
on stdout. Register these in the agent's hook settings (see "ralph init"):

  chat  UserPromptSubmit  start, stop or report on a session
  idle  Stop              continue the session with the next iteration
  tool  PreToolUse        deny unsafe shell commands and file access`,
	}

	events := []struct {
		name  string
		short string
		run   func(*hook.Runner, *cobra.Command, hook.Input) (hook.Output, error)
	}{
		{"chat", "Handle a submitted user prompt", func(r *hook.Runner, cmd *cobra.Command, in hook.Input) (hook.Output, error) {
			return r.Chat(cmd.Context(), in)
		}},
		{"idle", "Handle the agent finishing its turn", func(r *hook.Runner, cmd *cobra.Command, in hook.Input) (hook.Output, error) {
			return r.Idle(cmd.Context(), in)
		}},
		{"tool", "Check a tool call before it runs", func(r *hook.Runner, cmd *cobra.Command, in hook.Input) (hook.Output, error) {
			return r.Tool(cmd.Context(), in)
		}},
	}

	for _, ev := range events {
		hookCmd.AddCommand(&cobra.Command{
			Use:   ev.name,
			Short: ev.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHook(flags, cmd, ev.run)
			},
		})
	}

	return hookCmd
}

func runHook(flags *globalFlags, cmd *cobra.Command, run func(*hook.Runner, *cobra.Command, hook.Input) (hook.Output, error)) error {
	in, err := hook.ReadInput(cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := flags.loadConfig(in.Cwd)
	if err != nil {
		return err
	}
	flags.setupLogging(cfg, true)
	defer logger.Stop()

	host := loop.NewRecorder()
	ctrl, err := ralph.Open(cfg, host)
	if err != nil {
		return fmt.Errorf("open controller: %w", err)
	}

	out, err := run(hook.NewRunner(ctrl, host, cfg.Loop.HistoryLimit), cmd, in)
	if err != nil {
		logger.GetLogger().Error().Err(err).Str("session", in.SessionID).Str("hook", cmd.Name()).Msg("Hook failed")
		return err
	}

	return hook.WriteOutput(cmd.OutOrStdout(), out)
}
