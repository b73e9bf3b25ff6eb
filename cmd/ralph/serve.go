package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/ralph"
	"github.com/ternarybob/ralph/internal/api"
	"github.com/ternarybob/ralph/internal/logger"
	"github.com/ternarybob/ralph/internal/mcp"
	"github.com/ternarybob/ralph/internal/service"
	"github.com/ternarybob/ralph/pkg/loop"
	"github.com/ternarybob/ralph/pkg/monitor"
	"github.com/ternarybob/ralph/pkg/state"
	"github.com/ternarybob/ralph/pkg/watch"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Run the HTTP bridge",
		Long: `Runs the HTTP bridge for agent runtimes that post their events instead of
invoking hooks. Prompt files of enabled sessions are watched and linted as
they change, and session transitions stream from /events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig("")
			if err != nil {
				return err
			}

			if running, pid := service.IsRunning(cfg); running {
				return fmt.Errorf("service already running (PID %d)", pid)
			}

			log := logger.SetupLogger(cfg, false)
			defer logger.Stop()

			var journal state.Journal
			if path := cfg.JournalPath(); path != "" {
				journal = state.NewFileJournal(path)
			}
			mon := monitor.New(journal)

			host := loop.NewRecorder()
			ctrl, err := ralph.Open(cfg, host, loop.WithJournal(mon))
			if err != nil {
				return fmt.Errorf("open controller: %w", err)
			}

			watcher, err := watch.New(watch.LogHandler(log), watch.WithLogger(log))
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			if err := watcher.Start(); err != nil {
				return fmt.Errorf("start watcher: %w", err)
			}

			api.SetVersion(version)
			server := api.NewServer(cfg, ctrl, host, api.WithWatcher(watcher), api.WithMonitor(mon), api.WithLogger(log))

			daemon := service.NewDaemon(cfg)
			daemon.OnStop(watcher.Stop)
			daemon.OnShutdown(func() { _ = mon.Close() })
			if err := daemon.Start(server.Handler()); err != nil {
				_ = watcher.Stop()
				return fmt.Errorf("start daemon: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ralph v%s listening on %s\n", version, daemon.Addr())
			daemon.Wait()
			return nil
		},
	}
}

func newStopCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig("")
			if err != nil {
				return err
			}

			if err := service.StopRunning(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ralph stopped")
			return nil
		},
	}
}

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "mcp",
		Aliases: []string{"mcp-server"},
		Short:   "Serve the safety policy as MCP tools on stdio",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig("")
			if err != nil {
				return err
			}
			flags.setupLogging(cfg, true)
			defer logger.Stop()

			return mcp.NewServer(cfg, state.NewFileStore(cfg.StatePath()), version).ServeStdio()
		},
	}
}
