// Package hook adapts agent hook invocations, one process per event, to the
// iteration controller. Input arrives as JSON on stdin and the response is
// JSON on stdout.
package hook

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ternarybob/ralph/pkg/control"
	"github.com/ternarybob/ralph/pkg/guard"
	"github.com/ternarybob/ralph/pkg/loop"
)

// Hook event names as reported in hookSpecificOutput.
const (
	EventUserPromptSubmit = "UserPromptSubmit"
	EventStop             = "Stop"
	EventPreToolUse       = "PreToolUse"
)

// Input is the hook payload read from stdin.
type Input struct {
	SessionID      string    `json:"session_id"`
	TranscriptPath string    `json:"transcript_path"`
	Cwd            string    `json:"cwd"`
	HookEventName  string    `json:"hook_event_name"`
	Prompt         string    `json:"prompt"`
	ToolName       string    `json:"tool_name"`
	ToolInput      ToolInput `json:"tool_input"`
	StopHookActive bool      `json:"stop_hook_active"`
}

// ToolInput holds the tool arguments the policy inspects.
type ToolInput struct {
	Command      string `json:"command"`
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
}

// Output is the hook response written to stdout.
type Output struct {
	// Decision "block" with Reason keeps the session going with Reason as
	// its next instruction.
	Decision           string          `json:"decision,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	SystemMessage      string          `json:"systemMessage,omitempty"`
	HookSpecificOutput *SpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// SpecificOutput provides hook-specific control.
type SpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

// ReadInput decodes a hook payload.
func ReadInput(r io.Reader) (Input, error) {
	var in Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return Input{}, fmt.Errorf("decode hook input: %w", err)
	}
	if in.SessionID == "" {
		return Input{}, errors.New("hook input has no session_id")
	}
	return in, nil
}

// WriteOutput encodes out as a single JSON line.
func WriteOutput(w io.Writer, out Output) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}

// Runner handles one hook event against a controller. host must be the
// Host the controller was built with.
type Runner struct {
	ctrl         *loop.Controller
	host         *loop.Recorder
	historyLimit int
}

// NewRunner creates a Runner.
func NewRunner(ctrl *loop.Controller, host *loop.Recorder, historyLimit int) *Runner {
	return &Runner{ctrl: ctrl, host: host, historyLimit: historyLimit}
}

// Chat handles a submitted user prompt. A typed /ralph command is handled
// like the directive it stands for.
func (r *Runner) Chat(ctx context.Context, in Input) (Output, error) {
	text := in.Prompt
	if d, ok := control.FromCommand(text); ok {
		text = control.Format(d)
	}

	err := r.ctrl.HandleChat(ctx, loop.ChatMessage{
		SessionID: in.SessionID,
		Parts:     []control.Part{{Type: "text", Text: text}},
	})
	return r.output(in.SessionID), err
}

// Idle handles the agent finishing its turn. The transcript supplies the
// history searched for the completion sentinel.
func (r *Runner) Idle(ctx context.Context, in Input) (Output, error) {
	if in.TranscriptPath != "" {
		msgs, err := ReadTranscript(in.TranscriptPath, r.historyLimit)
		if err != nil {
			r.host.HistoryErr = err
		} else {
			r.host.SetHistory(in.SessionID, msgs)
		}
	}

	err := r.ctrl.HandleIdle(ctx, loop.Idle{SessionID: in.SessionID})
	return r.output(in.SessionID), err
}

// Tool handles a tool call about to run. A policy violation becomes a deny
// decision; any other error is returned.
func (r *Runner) Tool(ctx context.Context, in Input) (Output, error) {
	filePath := in.ToolInput.FilePath
	if filePath == "" {
		filePath = in.ToolInput.NotebookPath
	}

	err := r.ctrl.HandleTool(ctx, loop.ToolCall{
		SessionID: in.SessionID,
		Tool:      in.ToolName,
		Args:      loop.ToolArgs{Command: in.ToolInput.Command, FilePath: filePath},
	})

	var violation *guard.PolicyViolation
	if errors.As(err, &violation) {
		return Output{
			HookSpecificOutput: &SpecificOutput{
				HookEventName:            EventPreToolUse,
				PermissionDecision:       "deny",
				PermissionDecisionReason: violation.Error(),
			},
		}, nil
	}
	return Output{}, err
}

// output turns what the controller recorded into a hook response.
func (r *Runner) output(sessionID string) Output {
	toasts, continues := r.host.Drain()

	var out Output
	var lines []string
	for _, t := range toasts {
		lines = append(lines, t.Title+": "+t.Message)
	}
	out.SystemMessage = strings.Join(lines, "\n")

	for _, c := range continues {
		if c.SessionID == sessionID {
			out.Decision = "block"
			out.Reason = c.Text
		}
	}
	return out
}

// transcriptLine is one JSONL record of a session transcript.
type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// maxTranscriptLine bounds a single transcript record.
const maxTranscriptLine = 16 * 1024 * 1024

// ReadTranscript returns the last limit user and assistant messages that
// carry text from the JSONL transcript at path, oldest first. Lines that do
// not parse are skipped.
func ReadTranscript(path string, limit int) ([]loop.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var msgs []loop.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxTranscriptLine)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var line transcriptLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			continue
		}

		role := line.Message.Role
		if role == "" {
			role = line.Type
		}
		if role != "user" && role != loop.RoleAssistant {
			continue
		}

		// Tool calls and tool results are recorded as messages without text.
		parts := contentParts(line.Message.Content)
		if len(parts) == 0 {
			continue
		}

		msgs = append(msgs, loop.Message{Role: role, Parts: parts})
		if limit > 0 && len(msgs) > limit {
			msgs = msgs[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return msgs, nil
}

// contentParts decodes message content, which is either a plain string or
// a list of typed blocks. Only text blocks are kept.
func contentParts(raw json.RawMessage) []control.Part {
	if len(raw) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []control.Part{{Type: "text", Text: text}}
	}

	var blocks []control.Part
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	parts := blocks[:0]
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b)
		}
	}
	return parts
}
