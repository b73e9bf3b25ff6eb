package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ternarybob/ralph/pkg/control"
	"github.com/ternarybob/ralph/pkg/guard"
	"github.com/ternarybob/ralph/pkg/loop"
	"github.com/ternarybob/ralph/pkg/state"
)

// version is set via -ldflags at build time
var version = "dev"

// SetVersion sets the version string (called from main).
func SetVersion(v string) {
	version = v
}

// Response types

// HealthResponse is the response for /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// VersionResponse is the response for /version.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID            string             `json:"id"`
	Enabled       bool               `json:"enabled"`
	PromptPath    string             `json:"promptPath"`
	MaxIterations int                `json:"maxIterations"`
	Iteration     int                `json:"iteration"`
	Journal       []state.Transition `json:"journal,omitempty"`
}

// EventResponse is what the controller produced while handling an event.
type EventResponse struct {
	Toasts []loop.Toast `json:"toasts"`
	// Continuation is the next instruction for the session, if any.
	Continuation string           `json:"continuation,omitempty"`
	Session      *SessionResponse `json:"session,omitempty"`
}

// ToolResponse is the verdict on a tool call.
type ToolResponse struct {
	Allowed bool   `json:"allowed"`
	Rule    string `json:"rule,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Request types

// ChatRequest carries a chat message. Text is shorthand for a single text
// part.
type ChatRequest struct {
	Parts []control.Part `json:"parts"`
	Text  string         `json:"text,omitempty"`
}

// IdleRequest carries the session's recent messages, oldest first, so the
// controller can look for the completion sentinel.
type IdleRequest struct {
	Messages []loop.Message `json:"messages"`
}

// ToolRequest describes a tool call about to run.
type ToolRequest struct {
	Tool string `json:"tool"`
	Args struct {
		Command  string `json:"command"`
		FilePath string `json:"filePath"`
	} `json:"args"`
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{
		Version: version,
		Service: "ralph",
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snap := s.ctrl.Snapshot()
	s.mu.Unlock()

	response := make([]SessionResponse, 0, len(snap.Sessions))
	for _, id := range snap.IDs() {
		response = append(response, sessionResponse(id, *snap.Session(id)))
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	sess, ok := s.ctrl.Session(id)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	response := sessionResponse(id, sess)
	if withJournal, _ := strconv.ParseBool(r.URL.Query().Get("journal")); withJournal {
		entries, err := state.ReadJournal(s.cfg.JournalPath(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		response.Journal = entries
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Text != "" {
		req.Parts = append(req.Parts, control.Part{Type: "text", Text: req.Text})
	}

	s.event(w, id, func() error {
		return s.ctrl.HandleChat(r.Context(), loop.ChatMessage{SessionID: id, Parts: req.Parts})
	})
}

func (s *Server) handleIdle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The body is optional.
	var req IdleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.event(w, id, func() error {
		s.host.SetHistory(id, req.Messages)
		return s.ctrl.HandleIdle(r.Context(), loop.Idle{SessionID: id})
	})
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "Tool is required")
		return
	}

	s.mu.Lock()
	err := s.ctrl.HandleTool(r.Context(), loop.ToolCall{
		SessionID: id,
		Tool:      req.Tool,
		Args:      loop.ToolArgs{Command: req.Args.Command, FilePath: req.Args.FilePath},
	})
	s.mu.Unlock()

	var violation *guard.PolicyViolation
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ToolResponse{Allowed: true})
	case errors.As(err, &violation):
		writeJSON(w, http.StatusForbidden, ToolResponse{
			Rule:   string(violation.Rule),
			Reason: violation.Error(),
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// event runs fn under the controller lock and answers with what the
// controller produced.
func (s *Server) event(w http.ResponseWriter, id string, fn func() error) {
	s.mu.Lock()
	err := fn()
	toasts, continues := s.host.Drain()
	sess, ok := s.ctrl.Session(id)
	s.syncWatcher()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("session", id).Msg("Event failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := EventResponse{Toasts: toasts}
	if response.Toasts == nil {
		response.Toasts = []loop.Toast{}
	}
	for _, c := range continues {
		if c.SessionID == id {
			response.Continuation = c.Text
		}
	}
	if ok {
		sr := sessionResponse(id, sess)
		response.Session = &sr
	}

	writeJSON(w, http.StatusOK, response)
}

// syncWatcher points the watcher at the prompt files of the enabled
// sessions. Callers hold s.mu, except during construction.
func (s *Server) syncWatcher() {
	if s.watcher == nil {
		return
	}

	snap := s.ctrl.Snapshot()
	var paths []string
	for _, id := range snap.IDs() {
		if sess := snap.Session(id); sess.Enabled {
			paths = append(paths, filepath.Join(s.ctrl.Root(), filepath.FromSlash(sess.PromptPath)))
		}
	}

	if err := s.watcher.Sync(paths); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to watch prompt files")
	}
}

func sessionResponse(id string, sess state.Session) SessionResponse {
	return SessionResponse{
		ID:            id,
		Enabled:       sess.Enabled,
		PromptPath:    sess.PromptPath,
		MaxIterations: sess.MaxIterations,
		Iteration:     sess.Iteration,
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
