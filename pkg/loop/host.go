package loop

import (
	"context"
	"sync"

	"github.com/ternarybob/ralph/pkg/control"
)

// Severity of an operator notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ToastTitle is the title of every notification the controller sends.
const ToastTitle = "Ralph"

// Toast is a notification for the human operator.
type Toast struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Message is one entry of a session's chat history.
type Message struct {
	Role  string         `json:"role"`
	Parts []control.Part `json:"parts"`
}

// RoleAssistant is the role of messages written by the agent.
const RoleAssistant = "assistant"

// Host is the agent runtime the controller drives.
type Host interface {
	// Toast shows a notification to the operator.
	Toast(ctx context.Context, t Toast) error

	// Continue submits text as the next turn of the session.
	Continue(ctx context.Context, sessionID, text string) error

	// Messages returns at most limit of the session's most recent messages,
	// oldest first.
	Messages(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

// Continuation is an instruction submitted through Host.Continue.
type Continuation struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// Recorder is a Host that records what the controller sends and serves
// history that was added to it. Adapters that answer one request per event
// use it to collect the controller's output.
type Recorder struct {
	mu        sync.Mutex
	toasts    []Toast
	continues []Continuation
	history   map[string][]Message

	// HistoryErr, when set, is returned by Messages.
	HistoryErr error
	// ContinueErr, when set, is returned by Continue.
	ContinueErr error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{history: make(map[string][]Message)}
}

// Toast records t.
func (r *Recorder) Toast(_ context.Context, t Toast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
	return nil
}

// Continue records the instruction.
func (r *Recorder) Continue(_ context.Context, sessionID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ContinueErr != nil {
		return r.ContinueErr
	}
	r.continues = append(r.continues, Continuation{SessionID: sessionID, Text: text})
	return nil
}

// Messages returns the last limit messages added for the session.
func (r *Recorder) Messages(_ context.Context, sessionID string, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.HistoryErr != nil {
		return nil, r.HistoryErr
	}

	msgs := r.history[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// AddMessage appends m to the session's history.
func (r *Recorder) AddMessage(sessionID string, m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[sessionID] = append(r.history[sessionID], m)
}

// SetHistory replaces the session's history.
func (r *Recorder) SetHistory(sessionID string, msgs []Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[sessionID] = append([]Message(nil), msgs...)
}

// Toasts returns the recorded notifications.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}

// Continuations returns the recorded instructions.
func (r *Recorder) Continuations() []Continuation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Continuation(nil), r.continues...)
}

// Drain returns and clears the recorded output.
func (r *Recorder) Drain() ([]Toast, []Continuation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	toasts, continues := r.toasts, r.continues
	r.toasts, r.continues = nil, nil
	return toasts, continues
}
