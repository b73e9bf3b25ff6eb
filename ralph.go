// Package ralph runs a coding agent unattended, one iteration at a time,
// behind a safety policy.
//
// Ralph (after the "Ralph Wiggum" loop) re-submits the same prompt file to
// an agent session every time it goes idle, until the agent prints
// RALPH_DONE on a line of its own or the iteration budget runs out. While a
// session is running every shell command and file access the agent attempts
// is checked first, so that it cannot leave the repository, wipe it,
// publish it, or delete its own instructions.
//
// # Quick Start
//
//	cfg, err := config.Load(".", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctrl, err := ralph.Open(cfg, host)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wire the host's events to the controller.
//	ctrl.HandleChat(ctx, loop.ChatMessage{SessionID: id, Parts: parts})
//	ctrl.HandleIdle(ctx, loop.Idle{SessionID: id})
//	if err := ctrl.HandleTool(ctx, call); err != nil {
//	    // refuse the tool call
//	}
//
// # Steering
//
// An operator starts a session with a chat line such as
//
//	RALPH_CONTROL: {"arg1": "@PROMPT.md", "arg2": "10"}
//
// or, through the hook adapter, by typing "/ralph @PROMPT.md 10". The
// prompt file must carry Goal, Acceptance Criteria, Verification and
// Progress sections. "/ralph stop" ends the session and "/ralph status"
// reports on it.
package ralph

import (
	"github.com/ternarybob/ralph/internal/config"
	"github.com/ternarybob/ralph/internal/logger"
	"github.com/ternarybob/ralph/pkg/guard"
	"github.com/ternarybob/ralph/pkg/loop"
	"github.com/ternarybob/ralph/pkg/state"
)

// Controller is an alias for the iteration controller.
type Controller = loop.Controller

// Host is an alias for the agent runtime interface.
type Host = loop.Host

// Analyzer is an alias for the command safety analyzer.
type Analyzer = guard.Analyzer

// PolicyViolation is an alias for the error returned on a denial.
type PolicyViolation = guard.PolicyViolation

// Open builds a controller for the repository in cfg, persisting to the
// configured state file and journal.
func Open(cfg *config.Config, host Host, opts ...loop.Option) (*Controller, error) {
	base := []loop.Option{
		loop.WithLogger(logger.GetLogger()),
		loop.WithDefaultMaxIterations(cfg.Loop.MaxIterations),
		loop.WithHistoryLimit(cfg.Loop.HistoryLimit),
		loop.WithShellTools(cfg.Tools.Shell...),
		loop.WithFileTools(cfg.Tools.File...),
	}
	if path := cfg.JournalPath(); path != "" {
		base = append(base, loop.WithJournal(state.NewFileJournal(path)))
	}

	return loop.New(cfg.Root, state.NewFileStore(cfg.StatePath()), host, append(base, opts...)...)
}

// NewAnalyzer returns the policy for a session rooted at root that protects
// promptPath. An empty promptPath protects no prompt file.
func NewAnalyzer(root, promptPath string) *Analyzer {
	return guard.NewAnalyzer(root, promptPath)
}
