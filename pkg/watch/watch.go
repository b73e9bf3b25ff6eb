// Package watch re-lints prompt files when the agent edits them.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ralph/internal/logger"
	"github.com/ternarybob/ralph/pkg/prompt"
)

// DefaultDebounce is how long a file must stay quiet before it is linted.
const DefaultDebounce = 250 * time.Millisecond

// Change is the result of re-linting one prompt file.
type Change struct {
	Path string
	// Lint holds the lint errors; empty means the file is still valid.
	Lint []string
	// Err is set when the file could not be read.
	Err error
}

// Handler receives changes. It is called from the watcher's goroutine.
type Handler func(Change)

// Watcher monitors prompt files and reports each settled change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange Handler
	logger   arbor.ILogger

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex

	// Watched files, and how many of them live in each directory.
	files map[string]bool
	dirs  map[string]int

	// Debouncing state
	pending   map[string]time.Time
	pendingMu sync.Mutex
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a change is reported.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(l arbor.ILogger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New creates a watcher that calls onChange for every settled edit.
func New(onChange Handler, opts ...Option) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("change handler is required")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fsWatcher,
		debounce: DefaultDebounce,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		files:    make(map[string]bool),
		dirs:     make(map[string]int),
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.GetLogger()
	}
	return w, nil
}

// Watch adds path to the watched files. The parent directory is watched so
// that editors which replace the file by rename are still seen.
func (w *Watcher) Watch(path string) error {
	path = clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.files[path] {
		return nil
	}

	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[path] = true
	return nil
}

// Unwatch removes path from the watched files.
func (w *Watcher) Unwatch(path string) error {
	path = clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.files[path] {
		return nil
	}
	delete(w.files, path)

	dir := filepath.Dir(path)
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return nil
	}
	delete(w.dirs, dir)
	if err := w.watcher.Remove(dir); err != nil {
		return fmt.Errorf("unwatch %s: %w", dir, err)
	}
	return nil
}

// Sync makes paths the exact set of watched files.
func (w *Watcher) Sync(paths []string) error {
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[clean(p)] = true
	}

	var errs []error
	for _, p := range w.Files() {
		if !want[p] {
			if err := w.Unwatch(p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for p := range want {
		if err := w.Watch(p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Files returns the watched files.
func (w *Watcher) Files() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.files))
	for p := range w.files {
		out = append(out, p)
	}
	return out
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	w.running = true

	w.wg.Add(2)
	go w.processEvents()
	go w.processDebounced()
	return nil
}

// Stop stops the watcher and waits for its goroutines to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// IsRunning returns whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) isWatched(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.files[path]
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			name := clean(event.Name)
			if !w.isWatched(name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			w.pendingMu.Lock()
			w.pending[name] = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Prompt watcher error")
		}
	}
}

func (w *Watcher) processDebounced() {
	defer w.wg.Done()

	tick := w.debounce / 2
	if tick > 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			for _, path := range w.settled() {
				w.onChange(lint(path))
			}
		}
	}
}

// settled removes and returns the pending files that have been quiet for
// the debounce period.
func (w *Watcher) settled() []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	now := time.Now()
	var ready []string
	for path, ts := range w.pending {
		if now.Sub(ts) < w.debounce {
			continue
		}
		delete(w.pending, path)
		ready = append(ready, path)
	}
	return ready
}

func lint(path string) Change {
	data, err := os.ReadFile(path)
	if err != nil {
		return Change{Path: path, Err: err}
	}
	return Change{Path: path, Lint: prompt.Lint(string(data))}
}

func clean(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// LogHandler returns a Handler that logs every change to l, at warn level
// when the prompt file is no longer usable.
func LogHandler(l arbor.ILogger) Handler {
	return func(c Change) {
		switch {
		case c.Err != nil:
			l.Warn().Err(c.Err).Str("path", c.Path).Msg("Prompt file unreadable; the next iteration will stop the session")
		case len(c.Lint) > 0:
			l.Warn().Strs("errors", c.Lint).Str("path", c.Path).Msg("Prompt file no longer passes lint")
		default:
			l.Debug().Str("path", c.Path).Msg("Prompt file updated")
		}
	}
}
