package watch

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const validPrompt = `# Goal
Ship it.

## Acceptance Criteria
- [ ] one

## Verification
go test ./...

## Progress
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func collect() (Handler, chan Change) {
	ch := make(chan Change, 16)
	return func(c Change) { ch <- c }, ch
}

func waitChange(t *testing.T, ch chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestWatcher_ReportsLintErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, "PROMPT.md")
	writeFile(t, path, validPrompt)

	handler, changes := collect()
	w, err := New(handler, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Watch(path))
	require.NoError(t, w.Start())
	assert.True(t, w.IsRunning())

	writeFile(t, path, "# Goal\nonly a goal\n")

	c := waitChange(t, changes)
	assert.Equal(t, path, c.Path)
	assert.NoError(t, c.Err)
	assert.Contains(t, c.Lint, "Missing section heading: Acceptance Criteria")

	writeFile(t, path, validPrompt)
	c = waitChange(t, changes)
	assert.Empty(t, c.Lint)

	require.NoError(t, os.Remove(path))
	c = waitChange(t, changes)
	assert.Error(t, c.Err)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, "PROMPT.md")
	writeFile(t, path, validPrompt)

	handler, changes := collect()
	w, err := New(handler, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Watch(path))
	require.NoError(t, w.Start())

	writeFile(t, filepath.Join(dir, "notes.md"), "scratch")

	select {
	case c := <-changes:
		t.Fatalf("unexpected change for %s", c.Path)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, w.Stop())
}

func TestWatcher_Debounces(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, "PROMPT.md")
	writeFile(t, path, validPrompt)

	handler, changes := collect()
	w, err := New(handler, WithDebounce(150*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Watch(path))
	require.NoError(t, w.Start())

	for i := 0; i < 5; i++ {
		writeFile(t, path, validPrompt)
		time.Sleep(10 * time.Millisecond)
	}

	waitChange(t, changes)
	select {
	case <-changes:
		t.Fatal("burst of writes should settle into one change")
	case <-time.After(400 * time.Millisecond):
	}

	require.NoError(t, w.Stop())
}

func TestWatcher_Sync(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0755))

	a := filepath.Join(dir, "A.md")
	b := filepath.Join(dir, "B.md")
	c := filepath.Join(sub, "C.md")

	w, err := New(func(Change) {})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Sync([]string{a, b}))
	files := w.Files()
	sort.Strings(files)
	assert.Equal(t, []string{a, b}, files)
	assert.Equal(t, 2, w.dirs[dir])

	require.NoError(t, w.Sync([]string{c}))
	assert.Equal(t, []string{c}, w.Files())
	assert.NotContains(t, w.dirs, dir)
	assert.Equal(t, 1, w.dirs[sub])

	require.NoError(t, w.Sync(nil))
	assert.Empty(t, w.Files())
	assert.Empty(t, w.dirs)
}

func TestWatcher_WatchMissingDir(t *testing.T) {
	w, err := New(func(Change) {})
	require.NoError(t, err)
	defer w.Stop()

	err = w.Watch(filepath.Join(t.TempDir(), "nope", "PROMPT.md"))
	assert.Error(t, err)
	assert.Empty(t, w.Files())
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
