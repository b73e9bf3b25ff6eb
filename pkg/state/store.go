// Package state persists iteration sessions.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ternarybob/ralph/internal/fileutil"
)

// Version is the only document version this package reads and writes.
const Version = 1

// ErrUnsupportedVersion is returned by Load for documents written by a newer
// release.
var ErrUnsupportedVersion = errors.New("unsupported state version")

// Session is the persisted state of one agent session.
type Session struct {
	Enabled       bool   `json:"enabled"`
	PromptPath    string `json:"promptPath"`
	MaxIterations int    `json:"maxIterations"`
	Iteration     int    `json:"iteration"`
}

// State is the whole persisted document. Sessions are never removed, only
// disabled.
type State struct {
	Version  int                 `json:"version"`
	Sessions map[string]*Session `json:"sessions"`
}

// New returns an empty document.
func New() *State {
	return &State{
		Version:  Version,
		Sessions: make(map[string]*Session),
	}
}

// Session returns the session with id, or nil.
func (s *State) Session(id string) *Session {
	if s == nil || s.Sessions == nil {
		return nil
	}
	return s.Sessions[id]
}

// Enabled reports whether session id exists and is enabled.
func (s *State) Enabled(id string) bool {
	sess := s.Session(id)
	return sess != nil && sess.Enabled
}

// IDs returns the session identifiers in sorted order.
func (s *State) IDs() []string {
	ids := make([]string, 0, len(s.Sessions))
	for id := range s.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := &State{
		Version:  s.Version,
		Sessions: make(map[string]*Session, len(s.Sessions)),
	}
	for id, sess := range s.Sessions {
		if sess == nil {
			continue
		}
		c := *sess
		out.Sessions[id] = &c
	}
	return out
}

// Store loads and saves the whole document. Save always rewrites everything.
type Store interface {
	Load() (*State, error)
	Save(st *State) error
}

// Decode parses a persisted document. A missing version is read as the
// current one.
func Decode(data []byte) (*State, error) {
	st := New()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if st.Version == 0 {
		st.Version = Version
	}
	if st.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, st.Version)
	}
	if st.Sessions == nil {
		st.Sessions = make(map[string]*Session)
	}
	for id, sess := range st.Sessions {
		if sess == nil {
			delete(st.Sessions, id)
		}
	}
	return st, nil
}

// Encode renders st as two-space indented JSON with a trailing newline.
func Encode(st *State) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FileStore keeps the document in a single JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path. The file and its directory
// are created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the document. A missing file yields an empty document.
func (f *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return Decode(data)
}

// Save atomically replaces the file with st.
func (f *FileStore) Save(st *State) error {
	data, err := Encode(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := fileutil.WriteFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// MemoryStore keeps the document in memory. Saved documents are copied so
// later mutation by the caller is not visible until the next Save.
type MemoryStore struct {
	mu    sync.RWMutex
	state *State
	saves int

	// SaveErr, when set, is returned by every Save.
	SaveErr error
}

// NewMemoryStore creates a memory store holding an empty document.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: New()}
}

// Load returns a copy of the last saved document.
func (m *MemoryStore) Load() (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone(), nil
}

// Save replaces the held document with a copy of st.
func (m *MemoryStore) Save(st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.state = st.Clone()
	m.saves++
	return nil
}

// Saves returns the number of successful saves.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
