// Package mcp exposes the safety policy and session state as Model Context
// Protocol tools, so an agent can ask before it acts.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ralph/internal/config"
	"github.com/ternarybob/ralph/internal/fileutil"
	"github.com/ternarybob/ralph/internal/logger"
	"github.com/ternarybob/ralph/pkg/guard"
	"github.com/ternarybob/ralph/pkg/prompt"
	"github.com/ternarybob/ralph/pkg/state"
)

// Server wraps the policy and session store as MCP tools.
type Server struct {
	cfg    *config.Config
	store  state.Store
	logger arbor.ILogger
	server *server.MCPServer
}

// NewServer creates an MCP server for the repository in cfg. The store is
// read on every call so the tools see transitions made by hook processes.
func NewServer(cfg *config.Config, store state.Store, version string) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger.GetLogger(),
	}

	mcpServer := server.NewMCPServer(
		"ralph",
		version,
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.server = mcpServer
	return s
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	// check_command - Shell safety policy
	mcpServer.AddTool(
		mcp.NewTool("check_command",
			mcp.WithDescription("Check a shell command against the unattended-session safety policy. Returns ALLOWED or the reason it would be denied."),
			mcp.WithString("command",
				mcp.Required(),
				mcp.Description("Shell command line (e.g., 'rm -rf build', 'git -C .. status')"),
			),
			mcp.WithString("session_id",
				mcp.Description("Session whose prompt file is protected (optional)"),
			),
		),
		s.handleCheckCommand,
	)

	// check_file - File access policy
	mcpServer.AddTool(
		mcp.NewTool("check_file",
			mcp.WithDescription("Check whether a file path may be read or written during an unattended session."),
			mcp.WithString("path",
				mcp.Required(),
				mcp.Description("File path, absolute or relative to the repository root"),
			),
		),
		s.handleCheckFile,
	)

	// lint_prompt - Prompt file validation
	mcpServer.AddTool(
		mcp.NewTool("lint_prompt",
			mcp.WithDescription("Lint a prompt file. It needs Goal, Acceptance Criteria, Verification and Progress headings."),
			mcp.WithString("path",
				mcp.Required(),
				mcp.Description("Prompt file path relative to the repository root (e.g., 'PROMPT.md')"),
			),
		),
		s.handleLintPrompt,
	)

	// session_status - Iteration state
	mcpServer.AddTool(
		mcp.NewTool("session_status",
			mcp.WithDescription("Show the iteration state of one session, or of every session when no id is given."),
			mcp.WithString("session_id",
				mcp.Description("Session id (optional)"),
			),
		),
		s.handleSessionStatus,
	)
}

// handleCheckCommand handles the check_command tool.
func (s *Server) handleCheckCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := request.GetString("command", "")
	if strings.TrimSpace(command) == "" {
		return mcp.NewToolResultError("command parameter is required"), nil
	}

	analyzer, err := s.analyzer(request.GetString("session_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return verdict(analyzer.Check(command))
}

// handleCheckFile handles the check_file tool.
func (s *Server) handleCheckFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("path", "")
	if path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}

	analyzer, err := s.analyzer("")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return verdict(analyzer.CheckFileAccess(path))
}

// handleLintPrompt handles the lint_prompt tool.
func (s *Server) handleLintPrompt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("path", "")
	if path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}

	root := fileutil.Realpath(s.cfg.Root)
	resolved := fileutil.Realpath(fileutil.Resolve(root, path))
	if !fileutil.IsInside(root, resolved) {
		return mcp.NewToolResultError(fmt.Sprintf("prompt file is outside repo (%s)", path)), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read prompt file failed: %v", err)), nil
	}

	if errs := prompt.Lint(string(data)); len(errs) > 0 {
		return mcp.NewToolResultText("Prompt file lint failed:\n- " + strings.Join(errs, "\n- ")), nil
	}
	return mcp.NewToolResultText("OK"), nil
}

// handleSessionStatus handles the session_status tool.
func (s *Server) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.store.Load()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load state failed: %v", err)), nil
	}

	var result any = st.Sessions
	if id := request.GetString("session_id", ""); id != "" {
		sess := st.Session(id)
		if sess == nil {
			return mcp.NewToolResultText(fmt.Sprintf("Session %s: not started", id)), nil
		}
		result = sess
	}

	jsonBytes, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal status failed: %v", err)), nil
	}

	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// analyzer returns the policy for sessionID, protecting its prompt file
// when the session is enabled.
func (s *Server) analyzer(sessionID string) (*guard.Analyzer, error) {
	promptPath := ""
	if sessionID != "" {
		st, err := s.store.Load()
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if sess := st.Session(sessionID); sess != nil && sess.Enabled {
			promptPath = filepath.FromSlash(sess.PromptPath)
		}
	}
	return guard.NewAnalyzer(fileutil.Realpath(s.cfg.Root), promptPath), nil
}

func verdict(err error) (*mcp.CallToolResult, error) {
	if err == nil {
		return mcp.NewToolResultText("ALLOWED"), nil
	}

	var violation *guard.PolicyViolation
	if errors.As(err, &violation) {
		return mcp.NewToolResultText(fmt.Sprintf("DENIED (%s): %s", violation.Rule, violation.Reason)), nil
	}
	return mcp.NewToolResultError(err.Error()), nil
}

// ServeStdio starts the MCP server on stdio.
func (s *Server) ServeStdio() error {
	s.logger.Info().Str("root", s.cfg.Root).Msg("Serving MCP tools on stdio")
	return server.ServeStdio(s.server)
}
