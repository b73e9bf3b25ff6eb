package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, Dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root, "")
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Loop.MaxIterations)
	assert.Equal(t, 25, cfg.Loop.HistoryLimit)
	assert.Equal(t, []string{"bash"}, cfg.Tools.Shell)
	assert.Equal(t, []string{"file"}, cfg.Logging.Output)
	assert.Empty(t, cfg.Source)

	assert.Equal(t, filepath.Join(root, ".ralph", "state.json"), cfg.StatePath())
	assert.Equal(t, filepath.Join(root, ".ralph", "logs", "transitions.jsonl"), cfg.JournalPath())
	assert.Equal(t, filepath.Join(root, ".ralph", "logs", "ralph.log"), cfg.LogPath())
	assert.Equal(t, filepath.Join(root, ".ralph", "ralph.pid"), cfg.PIDPath())
	assert.Equal(t, "127.0.0.1:8421", cfg.Address())
}

func TestLoad_YAML(t *testing.T) {
	root := t.TempDir()
	t.Setenv("RALPH_TEST_PORT", "9001")
	t.Setenv("RALPH_TEST_KEY", "s3cret")

	path := writeConfig(t, root, "config.yaml", `
loop:
  max_iterations: 5
  state_file: /tmp/ralph-state.json
tools:
  shell: [bash, shell]
service:
  port: ${RALPH_TEST_PORT}
  api_key: ${RALPH_TEST_KEY}
logging:
  level: debug
  output: [file, console]
`)

	cfg, err := Load(root, "")
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Source)
	assert.Equal(t, 5, cfg.Loop.MaxIterations)
	assert.Equal(t, 25, cfg.Loop.HistoryLimit, "unset keys keep defaults")
	assert.Equal(t, "/tmp/ralph-state.json", cfg.StatePath(), "absolute paths are kept")
	assert.Equal(t, []string{"bash", "shell"}, cfg.Tools.Shell)
	assert.Equal(t, []string{"read", "write", "edit", "multiedit", "notebookedit"}, cfg.Tools.File)
	assert.Equal(t, 9001, cfg.Service.Port)
	assert.Equal(t, "s3cret", cfg.Service.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"file", "console"}, cfg.Logging.Output)
}

func TestLoad_TOML(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.toml", `
[loop]
max_iterations = 9
history_limit = 10

[tools]
file = ["Read", "Write"]

[service]
host = "0.0.0.0"
`)

	cfg, err := Load(root, "")
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Loop.MaxIterations)
	assert.Equal(t, 10, cfg.Loop.HistoryLimit)
	assert.Equal(t, []string{"Read", "Write"}, cfg.Tools.File)
	assert.Equal(t, "0.0.0.0:8421", cfg.Address())
}

func TestLoad_YAMLPreferredOverTOML(t *testing.T) {
	root := t.TempDir()
	yamlPath := writeConfig(t, root, "config.yaml", "loop:\n  max_iterations: 3\n")
	writeConfig(t, root, "config.toml", "[loop]\nmax_iterations = 4\n")

	assert.Equal(t, yamlPath, Find(root))

	cfg, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Loop.MaxIterations)
}

func TestLoad_ExplicitPath(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(t.TempDir(), "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("loop:\n  max_iterations: 2\n"), 0644))

	cfg, err := Load(root, path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Loop.MaxIterations)

	_, err = Load(root, filepath.Join(root, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad yaml", "config.yaml", "loop: [unterminated"},
		{"bad toml", "config.toml", "[loop\n"},
		{"zero iterations", "config.yaml", "loop:\n  max_iterations: 0\n"},
		{"bad port", "config.toml", "[service]\nport = 70000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, tt.file, tt.content)

			_, err := Load(root, "")
			assert.Error(t, err)
		})
	}

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
	_, err := Load(t.TempDir(), path)
	assert.ErrorContains(t, err, "unsupported config format")
}

func TestEnsureDirectories(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, filepath.Dir(cfg.LogPath()))
	assert.DirExists(t, filepath.Dir(cfg.StatePath()))
}
