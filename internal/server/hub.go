package server

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/translucent/internal/store"
)

// eventBuffer is the per-subscriber channel capacity. Slow subscribers
// miss events rather than block sessions.
const eventBuffer = 100

// Expression is a value the server derives from a session's environment.
//
// Fn is evaluated once when a session opens. It is evaluated again after an
// accepted update to a key it read through its [Scope] in the previous
// evaluation, other than Key itself. The result is stored under Key with
// local origin, so the client receives it.
type Expression struct {
	Key string
	Fn  func(*Scope) (any, error)
}

// Event is one accepted update in one session.
type Event struct {
	Session string       `json:"session"`
	Key     string       `json:"key"`
	Value   any          `json:"value"`
	Origin  store.Origin `json:"origin"`
	At      time.Time    `json:"at"`
}

// Hub tracks open sessions and the values every new session starts with.
type Hub struct {
	values      *store.MemoryStore
	expressions []Expression
	onEvent     func(Event)
	logger      *slog.Logger

	// publishMu orders Publish calls so every session sees them in the
	// same order as values.
	publishMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*Session

	subMu       sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewHub creates a [Hub] whose sessions are seeded with seed.
//
// onEvent, if non-nil, observes every accepted update in every session.
// It is called synchronously from session loops; panics are recovered.
func NewHub(seed store.Environment, expressions []Expression, onEvent func(Event), logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		values:      store.NewMemoryStore(seed),
		expressions: expressions,
		onEvent:     onEvent,
		logger:      logger,
		sessions:    make(map[string]*Session),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Values returns a snapshot of the server-wide values.
func (h *Hub) Values() store.Environment {
	return h.values.Current()
}

// Publish sets a server-wide value and pushes it to every open session.
//
// It reports false if value equals the current server-wide value.
func (h *Hub) Publish(key string, value any) bool {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	if !h.values.Update(key, value, store.Local) {
		return false
	}

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Push(key, value)
	}
	return true
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Session returns the open session with the given id.
func (h *Hub) Session(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Subscribe returns a channel that receives every session's events.
//
// Callers must call [Hub.Unsubscribe] when done to prevent leaks.
func (h *Hub) Subscribe() <-chan Event {
	ch := make(chan Event, eventBuffer)

	h.subMu.Lock()
	h.subscribers[ch] = struct{}{}
	h.subMu.Unlock()

	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	for subCh := range h.subscribers {
		if subCh == ch {
			delete(h.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Info("session opened", "session", s.ID(), "sessions", n)
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Info("session closed", "session", s.ID(), "sessions", n)
}

// broadcast delivers ev to subscribers without blocking and to onEvent.
func (h *Hub) broadcast(ev Event) {
	h.subMu.RLock()
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	h.subMu.RUnlock()

	if h.onEvent != nil {
		h.invokeSafe(ev)
	}
}

// invokeSafe calls onEvent with panic recovery.
func (h *Hub) invokeSafe(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("update callback panic",
				"correlation_id", uuid.NewString(),
				"session", ev.Session,
				"key", ev.Key,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	h.onEvent(ev)
}
