package ralph

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/ralph/internal/config"
	"github.com/ternarybob/ralph/pkg/control"
	"github.com/ternarybob/ralph/pkg/loop"
	"github.com/ternarybob/ralph/pkg/prompt"
	"github.com/ternarybob/ralph/pkg/state"
)

func renderTemplate(t *testing.T, text string, data any) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, template.Must(template.New("t").Parse(text)).Execute(&buf, data))
	return buf.String()
}

func TestPromptTemplate(t *testing.T) {
	doc := renderTemplate(t, PromptTemplate, map[string]string{"Title": "Parser"})
	assert.Empty(t, prompt.Lint(doc))
}

func TestSettingsTemplate(t *testing.T) {
	out := renderTemplate(t, SettingsTemplate, map[string]string{"Binary": "ralph"})

	var settings struct {
		Hooks map[string][]struct {
			Matcher string `json:"matcher"`
			Hooks   []struct {
				Type    string `json:"type"`
				Command string `json:"command"`
			} `json:"hooks"`
		} `json:"hooks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &settings))

	assert.Equal(t, "ralph hook chat", settings.Hooks["UserPromptSubmit"][0].Hooks[0].Command)
	assert.Equal(t, "ralph hook idle", settings.Hooks["Stop"][0].Hooks[0].Command)
	assert.Equal(t, "ralph hook tool", settings.Hooks["PreToolUse"][0].Hooks[0].Command)
	assert.Contains(t, settings.Hooks["PreToolUse"][0].Matcher, "Bash")
	assert.Contains(t, settings.Hooks["PreToolUse"][0].Matcher, "NotebookEdit")
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	doc := renderTemplate(t, PromptTemplate, map[string]string{"Title": "Parser"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "PROMPT.md"), []byte(doc), 0644))

	cfg, err := config.Load(root, "")
	require.NoError(t, err)

	host := loop.NewRecorder()
	ctrl, err := Open(cfg, host)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ctrl.HandleChat(ctx, loop.ChatMessage{
		SessionID: "s1",
		Parts:     []control.Part{{Type: "text", Text: control.Format(control.Directive{Arg1: "@PROMPT.md", Arg2: "3"})}},
	}))
	require.NoError(t, ctrl.HandleIdle(ctx, loop.Idle{SessionID: "s1"}))

	st, err := state.NewFileStore(cfg.StatePath()).Load()
	require.NoError(t, err)
	require.NotNil(t, st.Session("s1"))
	assert.True(t, st.Session("s1").Enabled)
	assert.Equal(t, 3, st.Session("s1").MaxIterations)
	assert.Equal(t, 1, st.Session("s1").Iteration)

	entries, err := state.ReadJournal(cfg.JournalPath(), "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, state.EventStart, entries[0].Event)
	assert.Equal(t, state.EventIterate, entries[1].Event)

	err = ctrl.HandleTool(ctx, loop.ToolCall{SessionID: "s1", Tool: "bash", Args: loop.ToolArgs{Command: "rm PROMPT.md"}})
	var violation *PolicyViolation
	require.ErrorAs(t, err, &violation)
}
