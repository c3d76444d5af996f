package translucent

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jpalmerr/translucent/internal/protocol"
)

// dialSession opens a raw channel to ts, bypassing the client.
func dialSession(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWithUpdateCallback_ReceivesSessionUpdates(t *testing.T) {
	var mu sync.Mutex
	var updates []Update

	_, ts := startApp(t,
		WithProgram(testProgram),
		WithValue("theme", "dark"),
		WithUpdateCallback(func(u Update) {
			mu.Lock()
			defer mu.Unlock()
			updates = append(updates, u)
		}),
	)
	conn := dialSession(t, ts)

	msg, err := protocol.EncodeValue("theme", "light")
	if err != nil {
		t.Fatalf("EncodeValue() error = %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "remote update", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) >= 2
	})

	mu.Lock()
	defer mu.Unlock()

	seed, remote := updates[0], updates[1]
	if seed.Key != "theme" || seed.Value != "dark" || seed.Origin != OriginLocal {
		t.Errorf("seed update = %+v, want local theme=dark", seed)
	}
	if remote.Key != "theme" || remote.Value != "light" || remote.Origin != OriginRemote {
		t.Errorf("remote update = %+v, want remote theme=light", remote)
	}
	if seed.Session == "" || seed.Session != remote.Session {
		t.Errorf("sessions = %q, %q, want the same non-empty id", seed.Session, remote.Session)
	}
	if remote.At.IsZero() {
		t.Error("At should not be zero")
	}
}

func TestWithUpdateCallback_MultipleInOrder(t *testing.T) {
	var mu sync.Mutex
	var calls []string

	record := func(name string) func(Update) {
		return func(u Update) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name)
		}
	}

	_, ts := startApp(t,
		WithProgram(testProgram),
		WithValue("k", 1.0),
		WithUpdateCallback(record("first")),
		WithUpdateCallback(record("second")),
	)
	dialSession(t, ts)

	waitFor(t, "callbacks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	if calls[0] != "first" || calls[1] != "second" {
		t.Errorf("calls = %v, want [first second ...]", calls)
	}
}

func TestWithUpdateCallback_PanicRecovered(t *testing.T) {
	var mu sync.Mutex
	var after int

	app, ts := startApp(t,
		WithProgram(testProgram),
		WithValue("k", 1.0),
		WithUpdateCallback(func(u Update) {
			panic("callback exploded")
		}),
		WithUpdateCallback(func(u Update) {
			mu.Lock()
			defer mu.Unlock()
			after++
		}),
	)
	conn := dialSession(t, ts)

	// the session keeps going after the panic
	_, data, err := readMessage(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if m, err := protocol.Decode(data); err != nil || m.Kind != protocol.KindValue {
		t.Errorf("first message = %q, %v; want value", data, err)
	}

	app.Publish("k", 2.0)

	waitFor(t, "second callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return after >= 2
	})
}

func readMessage(conn *websocket.Conn) (int, []byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return 0, nil, err
	}
	return conn.ReadMessage()
}
