package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jpalmerr/translucent/internal/loop"
	"github.com/jpalmerr/translucent/internal/protocol"
	"github.com/jpalmerr/translucent/internal/store"
)

// writeTimeout bounds a single outbound channel message.
const writeTimeout = 10 * time.Second

// Session is the server side of one client's channel.
//
// Each session owns an environment that mirrors the client's. All of its
// store mutations run on the session's event loop.
type Session struct {
	id     string
	ws     *websocket.Conn
	hub    *Hub
	store  *store.MemoryStore
	loop   *loop.Loop
	logger *slog.Logger

	// Touched only on the loop.
	deps  map[string]*Scope
	dirty map[string]struct{}

	writeMu sync.Mutex
}

func newSession(ws *websocket.Conn, hub *Hub, logger *slog.Logger) *Session {
	id := uuid.NewString()
	logger = logger.With("session", id)
	return &Session{
		id:     id,
		ws:     ws,
		hub:    hub,
		store:  store.NewMemoryStore(nil),
		loop:   loop.New(logger),
		logger: logger,
		deps:   make(map[string]*Scope),
		dirty:  make(map[string]struct{}),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// Current returns a snapshot of the session's environment.
func (s *Session) Current() store.Environment {
	return s.store.Current()
}

// Push sets a server-originated value in the session, which sends it to
// the client if it changed.
func (s *Session) Push(key string, value any) {
	s.loop.Post(func() {
		s.apply(key, value, store.Local)
	})
}

// Serve runs the session until the client disconnects or ctx is done.
//
// On open the session sends every server-wide value, evaluates each
// expression once and then sends ready.
func (s *Session) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		_ = s.ws.Close()
	})
	defer stop()

	sub := s.store.Subscribe(s.onUpdate)
	defer s.store.Unsubscribe(sub)

	s.hub.add(s)
	defer s.hub.remove(s)

	go s.loop.Run(ctx)
	s.loop.Post(s.open)

	s.readLoop()

	cancel()
	<-s.loop.Done()
	_ = s.ws.Close()
}

func (s *Session) open() {
	seed := s.hub.Values()
	keys := make([]string, 0, len(seed))
	for k := range seed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		s.store.Update(k, seed[k], store.Local)
	}

	clear(s.dirty)
	for _, expr := range s.hub.expressions {
		s.evaluate(expr)
	}
	s.settle()

	s.send(protocol.EncodeReady())
	s.logger.Debug("sent ready", "values", len(keys))
}

func (s *Session) readLoop() {
	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("channel dropped", "error", err)
			}
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			s.logger.Warn("discarding message", "error", err)
			continue
		}

		switch msg.Kind {
		case protocol.KindValue:
			value := msg.Value
			s.loop.Post(func() {
				s.apply(value.Key, value.Value, store.Remote)
			})
		case protocol.KindReady:
			s.logger.Debug("ignoring ready from client")
		}
	}
}

// apply stores an update that did not come from an expression, then reruns
// the expressions it invalidated.
func (s *Session) apply(key string, value any, origin store.Origin) {
	s.store.Update(key, value, origin)
	s.settle()
}

// onUpdate sends local mutations to the client, reports every mutation to
// the hub and marks the expressions that read the key as dirty.
func (s *Session) onUpdate(_ store.Environment, rec store.UpdateRecord) {
	s.hub.broadcast(Event{
		Session: s.id,
		Key:     rec.Key,
		Value:   rec.Value,
		Origin:  rec.Origin,
		At:      time.Now(),
	})

	if rec.Origin == store.Local {
		msg, err := protocol.EncodeValue(rec.Key, rec.Value)
		if err != nil {
			s.logger.Warn("dropping unencodable update", "key", rec.Key, "error", err)
		} else {
			s.send(msg)
		}
	}

	for _, expr := range s.hub.expressions {
		if expr.Key == rec.Key {
			continue
		}
		if scope, ok := s.deps[expr.Key]; ok && scope.dependsOn(rec.Key) {
			s.dirty[expr.Key] = struct{}{}
		}
	}
}

// settle reruns dirty expressions in registration order until none are
// left. Each round runs an expression at most once. Expressions that keep
// invalidating each other are stopped after one round more than the
// longest possible dependency chain.
func (s *Session) settle() {
	limit := len(s.hub.expressions) + 1
	for round := 0; len(s.dirty) > 0; round++ {
		if round == limit {
			keys := make([]string, 0, len(s.dirty))
			for k := range s.dirty {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			s.logger.Warn("expressions did not settle", "keys", keys, "rounds", limit)
			clear(s.dirty)
			return
		}

		batch := s.dirty
		s.dirty = make(map[string]struct{})
		for _, expr := range s.hub.expressions {
			if _, ok := batch[expr.Key]; ok {
				s.evaluate(expr)
			}
		}
	}
}

// evaluate recomputes one expression, records what it read and stores its
// value.
func (s *Session) evaluate(expr Expression) {
	scope := newScope(s.store.Current())
	value, err := s.safeEval(expr, scope)
	scope.release()
	s.deps[expr.Key] = scope
	if err != nil {
		s.logger.Warn("expression failed", "key", expr.Key, "error", err)
		return
	}
	s.store.Update(expr.Key, value, store.Local)
}

// safeEval calls an expression with panic recovery.
func (s *Session) safeEval(expr Expression, scope *Scope) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("expression panic",
				"correlation_id", correlationID,
				"key", expr.Key,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("expression panic (correlation_id: %s)", correlationID)
		}
	}()
	return expr.Fn(scope)
}

func (s *Session) send(msg []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		s.logger.Warn("send failed", "error", err)
		_ = s.ws.Close()
	}
}
