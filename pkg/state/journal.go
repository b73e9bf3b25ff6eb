package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/ralph/internal/fileutil"
)

// Event names a session state transition.
type Event string

const (
	EventStart   Event = "start"
	EventIterate Event = "iterate"
	EventStop    Event = "stop"
)

// Transition is one journal record.
type Transition struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	Event         Event     `json:"event"`
	Reason        string    `json:"reason,omitempty"`
	Iteration     int       `json:"iteration"`
	MaxIterations int       `json:"maxIterations"`
	At            time.Time `json:"at"`
}

// Journal records transitions for audit. It is never read by the state
// machine.
type Journal interface {
	Append(t Transition) error
}

// FileJournal appends transitions to a JSON Lines file.
type FileJournal struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileJournal creates a journal backed by path.
func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path, now: time.Now}
}

// Path returns the backing file.
func (j *FileJournal) Path() string {
	return j.path
}

// Append writes t as one line, assigning an ID and timestamp when unset.
func (j *FileJournal) Append(t Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	stamp(&t, j.now)

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode transition: %w", err)
	}
	if err := fileutil.AppendFile(j.path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

// ReadJournal returns every transition in the file at path, oldest first.
// When sessionID is not empty only that session's transitions are returned.
// A missing file yields no transitions.
func ReadJournal(path, sessionID string) ([]Transition, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var out []Transition
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var t Transition
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line, err)
		}
		if sessionID == "" || t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return out, nil
}

// MemoryJournal keeps transitions in memory.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []Transition
}

// Append records t.
func (m *MemoryJournal) Append(t Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&t, time.Now)
	m.entries = append(m.entries, t)
	return nil
}

// Entries returns a copy of the recorded transitions.
func (m *MemoryJournal) Entries() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.entries))
	copy(out, m.entries)
	return out
}

func stamp(t *Transition, now func() time.Time) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.At.IsZero() {
		t.At = now().UTC()
	}
}
