// Package connection keeps a client environment synchronized with the server.
//
// A [Connection] owns the duplex channel for its whole lifetime. Local
// mutations of the store are forwarded to the server; values pushed by the
// server are applied to the store with remote origin and are never sent
// back. The server signals the end of its initialization with a single
// ready message, observed through [Connection.OnReady].
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jpalmerr/translucent/internal/loop"
	"github.com/jpalmerr/translucent/internal/protocol"
	"github.com/jpalmerr/translucent/internal/store"
)

// writeTimeout bounds a single outbound message.
const writeTimeout = 10 * time.Second

// ErrClosed is reported by [Connection.Err] after [Connection.Close].
var ErrClosed = errors.New("connection closed")

// Connection is the client side of the duplex channel.
//
// There is at most one Connection per client; the composition root owns
// that discipline.
type Connection struct {
	ws     *websocket.Conn
	store  store.Store
	loop   *loop.Loop
	logger *slog.Logger

	writeMu sync.Mutex

	mu                sync.Mutex
	handshakeComplete bool
	readyFns          []func()
	sub               *store.Subscription
	err               error

	closeOnce sync.Once
	stopCtx   func() bool
	done      chan struct{}
}

// WebSocketURL derives the channel address from a server base URL.
//
// http and https become ws and wss with "/api" appended to the path;
// ws and wss URLs are used as given.
func WebSocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return u.String(), nil
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api"
	return u.String(), nil
}

// Dial opens the channel and starts synchronizing st with the server.
//
// Inbound messages are applied on lp, which the caller must run. The
// connection is closed when ctx is cancelled.
func Dial(ctx context.Context, endpoint string, st store.Store, lp *loop.Loop, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	wsURL, err := WebSocketURL(endpoint)
	if err != nil {
		return nil, err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Connection{
		ws:     ws,
		store:  st,
		loop:   lp,
		logger: logger.With("endpoint", wsURL),
		done:   make(chan struct{}),
	}
	c.sub = st.Subscribe(c.onUpdate)

	c.mu.Lock()
	c.stopCtx = context.AfterFunc(ctx, func() {
		c.shutdown(ctx.Err())
	})
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Info("channel open")
	return c, nil
}

// OnReady registers fn to run once the server has sent ready.
//
// If ready has already arrived fn runs immediately in the caller's
// goroutine. Otherwise it runs on the event loop when ready arrives.
// Each registered function runs at most once.
func (c *Connection) OnReady(fn func()) {
	c.mu.Lock()
	if !c.handshakeComplete {
		c.readyFns = append(c.readyFns, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// HandshakeComplete reports whether ready has been received.
func (c *Connection) HandshakeComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshakeComplete
}

// Done is closed when the channel has closed for any reason.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err reports why the channel closed, or nil while it is open.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the channel. Safe to call multiple times.
func (c *Connection) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

// onUpdate forwards local mutations to the server.
func (c *Connection) onUpdate(_ store.Environment, rec store.UpdateRecord) {
	if rec.Origin != store.Local {
		return
	}

	msg, err := protocol.EncodeValue(rec.Key, rec.Value)
	if err != nil {
		c.logger.Warn("dropping unencodable update", "key", rec.Key, "error", err)
		return
	}

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = c.ws.WriteMessage(websocket.TextMessage, msg)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn("send failed", "key", rec.Key, "error", err)
		c.shutdown(fmt.Errorf("send: %w", err))
		return
	}
	c.logger.Debug("sent value", "key", rec.Key)
}

func (c *Connection) readLoop() {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("receive: %w", err))
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			c.logger.Warn("discarding message", "error", err)
			continue
		}

		switch msg.Kind {
		case protocol.KindValue:
			value := msg.Value
			c.loop.Post(func() {
				c.store.Update(value.Key, value.Value, store.Remote)
			})
		case protocol.KindReady:
			c.loop.Post(c.handleReady)
		}
	}
}

func (c *Connection) handleReady() {
	c.mu.Lock()
	if c.handshakeComplete {
		c.mu.Unlock()
		c.logger.Debug("ignoring repeated ready")
		return
	}
	c.handshakeComplete = true
	fns := c.readyFns
	c.readyFns = nil
	c.mu.Unlock()

	c.logger.Info("handshake complete")
	for _, fn := range fns {
		fn()
	}
}

// shutdown tears the channel down once and records why.
func (c *Connection) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		sub := c.sub
		c.sub = nil
		stop := c.stopCtx
		c.mu.Unlock()

		c.store.Unsubscribe(sub)
		if stop != nil {
			stop()
		}

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()

		if errors.Is(cause, ErrClosed) || errors.Is(cause, context.Canceled) {
			c.logger.Info("channel closed")
		} else {
			c.logger.Warn("channel dropped", "error", cause)
		}
		close(c.done)
	})
}
