package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsInside(t *testing.T) {
	tests := []struct {
		name   string
		root   string
		target string
		want   bool
	}{
		{"root itself", "/repo", "/repo", true},
		{"direct child", "/repo", "/repo/file.go", true},
		{"nested child", "/repo", "/repo/a/b/c", true},
		{"parent", "/repo", "/", false},
		{"sibling with shared prefix", "/repo", "/repo-other/file", false},
		{"dotdot escape", "/repo", "/repo/../etc", false},
		{"name starting with dots", "/repo", "/repo/..hidden", true},
		{"unrelated", "/repo", "/tmp/x", false},
		{"trailing slash root", "/repo/", "/repo/x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInside(tt.root, tt.target))
		})
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "/repo/a/b", Resolve("/repo", "a/b"))
	assert.Equal(t, "/repo", Resolve("/repo/a", ".."))
	assert.Equal(t, "/etc/passwd", Resolve("/repo", "/etc/../etc/passwd"))
	assert.Equal(t, "/", Resolve("/repo", "../.."))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first\n")))
	require.NoError(t, WriteFileAtomic(path, []byte("second\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")
}

func TestAppendFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "journal.jsonl")

	require.NoError(t, AppendFile(path, []byte("a\n")))
	require.NoError(t, AppendFile(path, []byte("b\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}

func TestIsFileAndRealpath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "PROMPT.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	assert.True(t, IsFile(file))
	assert.False(t, IsFile(dir))
	assert.False(t, IsFile(filepath.Join(dir, "missing")))
	assert.True(t, Exists(dir))

	link := filepath.Join(dir, "link.md")
	require.NoError(t, os.Symlink(file, link))

	realDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realDir, "PROMPT.md"), Realpath(link))

	missing := filepath.Join(dir, "nope.md")
	assert.Equal(t, missing, Realpath(missing))
}
