// Package loop drives unattended agent sessions: it starts and stops them
// from chat directives, schedules one iteration per idle notification, and
// gates every tool call through the safety policy while a session runs.
package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ralph/internal/fileutil"
	"github.com/ternarybob/ralph/internal/logger"
	"github.com/ternarybob/ralph/pkg/control"
	"github.com/ternarybob/ralph/pkg/guard"
	"github.com/ternarybob/ralph/pkg/prompt"
	"github.com/ternarybob/ralph/pkg/state"
)

const (
	// DefaultMaxIterations applies when a start directive gives no usable
	// budget.
	DefaultMaxIterations = 25

	// DefaultHistoryLimit is how many recent messages are searched for the
	// completion sentinel.
	DefaultHistoryLimit = 25
)

// Default tool names, compared case-insensitively.
var (
	DefaultShellTools = []string{"bash"}
	DefaultFileTools  = []string{"read", "write", "edit", "multiedit", "notebookedit"}
)

// ChatMessage is a chat message that may carry a control directive.
type ChatMessage struct {
	SessionID string
	Parts     []control.Part
}

// Idle reports that a session has nothing left to do.
type Idle struct {
	SessionID string
}

// ToolArgs are the arguments of a tool call the policy inspects.
type ToolArgs struct {
	Command  string
	FilePath string
}

// ToolCall is a tool invocation the host is about to perform.
type ToolCall struct {
	SessionID string
	Tool      string
	Args      ToolArgs
}

// Controller is the iteration state machine. It is not safe for concurrent
// use; adapters that receive events concurrently must serialise calls.
type Controller struct {
	root         string
	store        state.Store
	state        *state.State
	host         Host
	journal      state.Journal
	logger       arbor.ILogger
	defaultMax   int
	historyLimit int
	shellTools   map[string]bool
	fileTools    map[string]bool
}

// Option configures a Controller.
type Option func(*Controller) error

// WithLogger sets the controller's logger.
func WithLogger(l arbor.ILogger) Option {
	return func(c *Controller) error {
		c.logger = l
		return nil
	}
}

// WithJournal records every transition to j.
func WithJournal(j state.Journal) Option {
	return func(c *Controller) error {
		c.journal = j
		return nil
	}
}

// WithDefaultMaxIterations sets the budget used when a start directive
// gives none.
func WithDefaultMaxIterations(n int) Option {
	return func(c *Controller) error {
		if n <= 0 {
			return fmt.Errorf("default max iterations must be positive, got %d", n)
		}
		c.defaultMax = n
		return nil
	}
}

// WithHistoryLimit sets how many recent messages are searched for the
// completion sentinel.
func WithHistoryLimit(n int) Option {
	return func(c *Controller) error {
		if n <= 0 {
			return fmt.Errorf("history limit must be positive, got %d", n)
		}
		c.historyLimit = n
		return nil
	}
}

// WithShellTools replaces the names of tools whose command is checked.
func WithShellTools(names ...string) Option {
	return func(c *Controller) error {
		c.shellTools = toolSet(names)
		return nil
	}
}

// WithFileTools replaces the names of tools whose file path is checked.
func WithFileTools(names ...string) Option {
	return func(c *Controller) error {
		c.fileTools = toolSet(names)
		return nil
	}
}

func toolSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			set[n] = true
		}
	}
	return set
}

// New creates a controller for the repository at root and loads the
// persisted sessions from store. A store that cannot be read is treated as
// empty.
func New(root string, store state.Store, host Host, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if host == nil {
		return nil, errors.New("host is required")
	}

	c := &Controller{
		root:         fileutil.Realpath(root),
		store:        store,
		host:         host,
		defaultMax:   DefaultMaxIterations,
		historyLimit: DefaultHistoryLimit,
		shellTools:   toolSet(DefaultShellTools),
		fileTools:    toolSet(DefaultFileTools),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		c.logger = logger.GetLogger()
	}

	st, err := store.Load()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load session state, starting empty")
		st = state.New()
	}
	c.state = st

	return c, nil
}

// Root returns the repository root.
func (c *Controller) Root() string {
	return c.root
}

// Session returns a copy of the session with id.
func (c *Controller) Session(id string) (state.Session, bool) {
	sess := c.state.Session(id)
	if sess == nil {
		return state.Session{}, false
	}
	return *sess, true
}

// Snapshot returns a copy of every session.
func (c *Controller) Snapshot() *state.State {
	return c.state.Clone()
}

// Analyzer returns the policy for session id. Sessions that are not enabled
// get a policy without prompt file protection.
func (c *Controller) Analyzer(id string) *guard.Analyzer {
	promptPath := ""
	if sess := c.state.Session(id); sess != nil && sess.Enabled {
		promptPath = filepath.FromSlash(sess.PromptPath)
	}
	return guard.NewAnalyzer(c.root, promptPath)
}

// HandleChat applies the first control directive found in a chat message.
// Messages without a directive are ignored.
func (c *Controller) HandleChat(ctx context.Context, msg ChatMessage) error {
	text := control.TextFromParts(msg.Parts)
	if !strings.Contains(text, control.Prefix) {
		return nil
	}

	d, err := control.Parse(text)
	if errors.Is(err, control.ErrNoDirective) {
		return nil
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("session", msg.SessionID).Msg("Unparseable control directive")
		c.toast(ctx, "Could not parse "+strings.TrimSuffix(control.Prefix, ":")+" JSON", SeverityError)
		return nil
	}

	switch d.Arg1 {
	case "":
		c.toast(ctx, control.Usage, SeverityError)
		return nil
	case "stop":
		return c.Stop(ctx, msg.SessionID, StopManual)
	case "status":
		c.toast(ctx, c.describe(msg.SessionID), SeverityInfo)
		return nil
	default:
		return c.Start(ctx, msg.SessionID, d.Arg1, d.Arg2)
	}
}

var digits = regexp.MustCompile(`^[0-9]+$`)

// Start enables the session using the prompt file promptArg with the budget
// maxArg. Rejections are reported to the operator and return nil; only a
// failure to persist is returned.
func (c *Controller) Start(ctx context.Context, sessionID, promptArg, maxArg string) error {
	raw := control.StripArg(promptArg)
	resolved := fileutil.Realpath(fileutil.Resolve(c.root, raw))

	if !fileutil.IsInside(c.root, resolved) {
		c.toast(ctx, fmt.Sprintf("Refusing to start: prompt file is outside repo (%s)", promptArg), SeverityError)
		return nil
	}
	if !fileutil.IsFile(resolved) {
		c.toast(ctx, fmt.Sprintf("Refusing to start: prompt file not found (%s)", promptArg), SeverityError)
		return nil
	}

	contents, err := os.ReadFile(resolved)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", resolved).Msg("Failed to read prompt file")
		c.toast(ctx, fmt.Sprintf("Refusing to start: prompt file not found (%s)", promptArg), SeverityError)
		return nil
	}
	if errs := prompt.Lint(string(contents)); len(errs) > 0 {
		c.toast(ctx, "Prompt file lint failed:\n- "+strings.Join(errs, "\n- "), SeverityError)
		return nil
	}

	rel, err := filepath.Rel(c.root, resolved)
	if err != nil {
		return fmt.Errorf("failed to relativize prompt path: %w", err)
	}

	sess := &state.Session{
		Enabled:       true,
		PromptPath:    filepath.ToSlash(rel),
		MaxIterations: c.parseMax(maxArg),
		Iteration:     0,
	}

	next := c.state.Clone()
	next.Sessions[sessionID] = sess
	if err := c.commit(next); err != nil {
		return err
	}

	c.record(sessionID, state.EventStart, "", sess)
	c.logger.Info().
		Str("session", sessionID).
		Str("prompt", sess.PromptPath).
		Msgf("Session enabled (max %d)", sess.MaxIterations)
	c.toast(ctx, fmt.Sprintf("Enabled (max %d) using %s", sess.MaxIterations, sess.PromptPath), SeveritySuccess)
	return nil
}

func (c *Controller) parseMax(arg string) int {
	arg = strings.TrimSpace(arg)
	if !digits.MatchString(arg) {
		return c.defaultMax
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return c.defaultMax
	}
	return n
}

// Stop disables the session. Stopping a session that is not enabled does
// nothing.
func (c *Controller) Stop(ctx context.Context, sessionID string, reason StopReason) error {
	cur := c.state.Session(sessionID)
	if cur == nil || !cur.Enabled {
		return nil
	}

	next := c.state.Clone()
	next.Sessions[sessionID].Enabled = false
	if err := c.commit(next); err != nil {
		return err
	}

	sess := next.Sessions[sessionID]
	why := reason.Describe(sess.MaxIterations)
	c.record(sessionID, state.EventStop, why, sess)
	c.logger.Info().
		Str("session", sessionID).
		Str("reason", reason.String()).
		Msgf("Session stopped at iteration %d/%d", sess.Iteration, sess.MaxIterations)
	c.toast(ctx, "Stopped: "+why, SeverityWarning)
	return nil
}

// HandleIdle stops the session when the agent has signalled completion or
// the budget is spent, and otherwise sends the next iteration.
func (c *Controller) HandleIdle(ctx context.Context, ev Idle) error {
	if !c.state.Enabled(ev.SessionID) {
		return nil
	}

	if c.lastAssistantDone(ctx, ev.SessionID) {
		return c.Stop(ctx, ev.SessionID, StopDone)
	}
	return c.iterate(ctx, ev.SessionID)
}

func (c *Controller) iterate(ctx context.Context, sessionID string) error {
	cur := c.state.Session(sessionID)
	if cur.Iteration >= cur.MaxIterations {
		return c.Stop(ctx, sessionID, StopMaxIterations)
	}

	path := filepath.Join(c.root, filepath.FromSlash(cur.PromptPath))
	contents, err := os.ReadFile(path)
	if err != nil {
		c.logger.Error().Err(err).Str("session", sessionID).Str("path", path).Msg("Failed to read prompt file")
		return c.Stop(ctx, sessionID, StopPromptUnreadable)
	}

	next := c.state.Clone()
	sess := next.Sessions[sessionID]
	sess.Iteration++
	if err := c.commit(next); err != nil {
		return err
	}

	c.record(sessionID, state.EventIterate, "", sess)
	c.logger.Info().
		Str("session", sessionID).
		Msgf("Iteration %d/%d scheduled", sess.Iteration, sess.MaxIterations)
	c.toast(ctx, fmt.Sprintf("Iteration %d/%d", sess.Iteration, sess.MaxIterations), SeverityInfo)

	text := prompt.RenderIteration(prompt.Iteration{
		Number:     sess.Iteration,
		Max:        sess.MaxIterations,
		PromptPath: sess.PromptPath,
		Contents:   string(contents),
		DoneToken:  control.DoneToken,
	})
	if err := c.host.Continue(ctx, sessionID, text); err != nil {
		return fmt.Errorf("failed to continue session %s: %w", sessionID, err)
	}
	return nil
}

// lastAssistantDone reports whether the most recent assistant message holds
// the completion sentinel. History errors count as not done.
func (c *Controller) lastAssistantDone(ctx context.Context, sessionID string) bool {
	msgs, err := c.host.Messages(ctx, sessionID, c.historyLimit)
	if err != nil {
		c.logger.Debug().Err(err).Str("session", sessionID).Msg("History unavailable, assuming not done")
		return false
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return control.HasDone(control.TextFromParts(msgs[i].Parts))
		}
	}
	return false
}

// HandleTool returns a *guard.PolicyViolation when the call must not run.
// Calls for sessions that are not enabled, and tools the policy does not
// inspect, are allowed.
func (c *Controller) HandleTool(_ context.Context, call ToolCall) error {
	if !c.state.Enabled(call.SessionID) {
		return nil
	}

	tool := strings.ToLower(strings.TrimSpace(call.Tool))
	analyzer := c.Analyzer(call.SessionID)

	var err error
	switch {
	case c.shellTools[tool]:
		err = analyzer.Check(call.Args.Command)
	case c.fileTools[tool]:
		err = analyzer.CheckFileAccess(call.Args.FilePath)
	default:
		return nil
	}

	if err != nil {
		c.logger.Warn().
			Str("session", call.SessionID).
			Str("tool", call.Tool).
			Str("command", call.Args.Command).
			Str("file_path", call.Args.FilePath).
			Err(err).
			Msg("Tool call denied")
	}
	return err
}

// describe summarises a session for the status directive.
func (c *Controller) describe(sessionID string) string {
	sess := c.state.Session(sessionID)
	switch {
	case sess == nil:
		return "Status: not started"
	case sess.Enabled:
		return fmt.Sprintf("Status: running iteration %d/%d using %s", sess.Iteration, sess.MaxIterations, sess.PromptPath)
	default:
		return fmt.Sprintf("Status: stopped after iteration %d/%d using %s", sess.Iteration, sess.MaxIterations, sess.PromptPath)
	}
}

// commit persists next and then adopts it. On failure the previous state
// stays in effect.
func (c *Controller) commit(next *state.State) error {
	if err := c.store.Save(next); err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	c.state = next
	return nil
}

func (c *Controller) record(sessionID string, event state.Event, reason string, sess *state.Session) {
	if c.journal == nil {
		return
	}
	err := c.journal.Append(state.Transition{
		SessionID:     sessionID,
		Event:         event,
		Reason:        reason,
		Iteration:     sess.Iteration,
		MaxIterations: sess.MaxIterations,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("session", sessionID).Msg("Failed to journal transition")
	}
}

func (c *Controller) toast(ctx context.Context, message string, severity Severity) {
	err := c.host.Toast(ctx, Toast{Title: ToastTitle, Message: message, Severity: severity})
	if err != nil {
		c.logger.Warn().Err(err).Str("message", message).Msg("Failed to deliver notification")
	}
}
