// Package monitor provides live visibility into session transitions.
//
// A Monitor sits in front of a journal: every transition the controller
// records is passed on to the wrapped journal and then fanned out to live
// subscribers, such as a Server-Sent Events stream.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/ralph/pkg/state"
)

// DefaultMaxHistory is how many transitions are kept for late subscribers.
const DefaultMaxHistory = 1000

// subscriberBuffer is the per-subscriber queue; slow readers drop events.
const subscriberBuffer = 100

// Monitor is a state.Journal that also publishes each transition.
type Monitor struct {
	mu sync.RWMutex

	next state.Journal
	now  func() time.Time

	subscribers map[chan state.Transition]struct{}
	history     []state.Transition
	maxHistory  int

	closed bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMaxHistory bounds the retained history.
func WithMaxHistory(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// New creates a monitor forwarding to next, which may be nil.
func New(next state.Journal, opts ...Option) *Monitor {
	m := &Monitor{
		next:        next,
		now:         time.Now,
		subscribers: make(map[chan state.Transition]struct{}),
		maxHistory:  DefaultMaxHistory,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append records t with the wrapped journal and, when that succeeds,
// publishes it.
func (m *Monitor) Append(t state.Transition) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.At.IsZero() {
		t.At = m.now().UTC()
	}

	if m.next != nil {
		if err := m.next.Append(t); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, t)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}

	// Send to subscribers (non-blocking)
	for ch := range m.subscribers {
		select {
		case ch <- t:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of transitions and a function that ends the
// subscription. The channel is closed when the subscription ends or the
// monitor is closed.
func (m *Monitor) Subscribe() (<-chan state.Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan state.Transition, subscriberBuffer)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	m.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subscribers[ch]; ok {
				delete(m.subscribers, ch)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (m *Monitor) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// History returns retained transitions, oldest first. When sessionID is not
// empty only that session's transitions are returned.
func (m *Monitor) History(sessionID string) []state.Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]state.Transition, 0, len(m.history))
	for _, t := range m.history {
		if sessionID == "" || t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out
}

// Counts returns retained transitions by event.
func (m *Monitor) Counts() map[state.Event]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[state.Event]int)
	for _, t := range m.history {
		counts[t.Event]++
	}
	return counts
}

// Close ends every subscription. Later transitions are still journaled.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, ch)
	}
	return nil
}

// ServeEvents streams transitions as Server-Sent Events until the client
// goes away or the monitor is closed. The "session" query parameter limits
// the stream to one session.
func (m *Monitor) ServeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sessionID := r.URL.Query().Get("session")
	ch, cancel := m.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			if sessionID != "" && t.SessionID != sessionID {
				continue
			}
			data, err := json.Marshal(t)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", t.ID, t.Event, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ServeHistory writes retained transitions as JSON, filtered by the
// "session" query parameter.
func (m *Monitor) ServeHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"transitions": m.History(r.URL.Query().Get("session")),
		"counts":      m.Counts(),
	})
}
