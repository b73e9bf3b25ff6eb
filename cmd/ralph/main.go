// Package main provides the ralph CLI.
//
// Usage:
//
//	ralph hook chat|idle|tool   - Handle one agent hook event (stdin JSON in, stdout JSON out)
//	ralph serve                 - Run the HTTP bridge
//	ralph stop                  - Stop a running bridge
//	ralph mcp                   - Serve the policy as MCP tools on stdio
//	ralph check <command>       - Check a shell command against the policy
//	ralph lint <file>           - Lint a prompt file
//	ralph status [session]      - Show session state
//	ralph init                  - Write a starter prompt file and hook settings
//	ralph version               - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ternarybob/ralph/internal/config"
	"github.com/ternarybob/ralph/internal/logger"
)

// version is set via -ldflags at build time
var version = "dev"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	root    string
	config  string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "ralph",
		Short: "Unattended agent iteration loop with a safety guard",
		Long: `ralph keeps a coding agent working on one prompt file, iteration after
iteration, until it reports RALPH_DONE or runs out of budget. While a session
runs, every shell command and file access is checked so the agent stays
inside the repository.

Start a session from the agent chat:
  /ralph @PROMPT.md 10

Stop it:
  /ralph stop`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.root, "root", "", "Repository root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&flags.config, "config", "", "Config file (default: <root>/.ralph/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newHookCmd(flags),
		newServeCmd(flags),
		newStopCmd(flags),
		newMCPCmd(flags),
		newCheckCmd(flags),
		newLintCmd(flags),
		newStatusCmd(flags),
		newInitCmd(flags),
		newVersionCmd(),
	)

	return rootCmd
}

// loadConfig loads the configuration for root, falling back to the --root
// flag and then the working directory.
func (f *globalFlags) loadConfig(root string) (*config.Config, error) {
	if f.root != "" {
		root = f.root
	}
	if root == "" {
		root = "."
	}

	cfg, err := config.Load(root, f.config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging initialises the global logger. Quiet commands never log to
// the console because stdout carries their output.
func (f *globalFlags) setupLogging(cfg *config.Config, quiet bool) {
	logger.SetupLogger(cfg, quiet)
}
