package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sseWriteTimeout bounds a single SSE write so a stalled client cannot
	// pin its handler past shutdown.
	sseWriteTimeout = 5 * time.Second

	defaultTitle = "translucent"

	// titlePlaceholder is replaced with the escaped page title.
	titlePlaceholder = "{{.Title}}"
)

// Page is what the server hands to clients besides the channel.
//
// Program and Stylesheet are called on every request so their source may
// change while the server runs. A nil Stylesheet serves an empty sheet.
type Page struct {
	Title      string
	Program    func() (string, error)
	Stylesheet func() (string, error)
}

// Server handles HTTP requests for the page, the program and the channel.
type Server struct {
	hub        *Hub
	port       int
	httpServer *http.Server
	assets     fs.FS
	page       Page
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server]. assets may be nil, in which case
// "/" is not served. The server is not started until [Server.Start].
func NewServer(hub *Hub, port int, assets fs.FS, page Page, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:    hub,
		port:   port,
		assets: assets,
		page:   page,
		logger: logger,
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api", s.handleChannel)
	mux.HandleFunc("/api/env", s.handleEnv)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/index.star", s.handleProgram)
	mux.HandleFunc("/index.css", s.handleStylesheet)

	if s.assets != nil {
		mux.HandleFunc("/", s.handlePage)
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start returns once the port is bound. When ctx is cancelled the server
// shuts down gracefully with a 5-second timeout; open sessions are closed
// because their request contexts derive from ctx.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// handlePage serves the page shell with the title substituted.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Page not found", http.StatusInternalServerError)
		return
	}

	title := s.page.Title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write page response", "error", err)
	}
}

// handleProgram serves the program text as-is.
func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	s.serveSource(w, r, s.page.Program, "text/plain; charset=utf-8", true)
}

// handleStylesheet serves the optional stylesheet.
func (s *Server) handleStylesheet(w http.ResponseWriter, r *http.Request) {
	s.serveSource(w, r, s.page.Stylesheet, "text/css; charset=utf-8", false)
}

func (s *Server) serveSource(w http.ResponseWriter, r *http.Request, source func() (string, error), contentType string, required bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var text string
	switch {
	case source != nil:
		var err error
		text, err = source()
		if err != nil {
			s.logger.Error("failed to read source", "path", r.URL.Path, "error", err)
			http.Error(w, "Source unavailable", http.StatusInternalServerError)
			return
		}
	case required:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write([]byte(text)); err != nil {
		s.logger.Error("failed to write source response", "path", r.URL.Path, "error", err)
	}
}

// handleEnv returns the server-wide values as JSON.
func (s *Server) handleEnv(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")

	if err := json.NewEncoder(w).Encode(s.hub.Values()); err != nil {
		s.logger.Error("failed to encode env response", "error", err)
	}
}

// handleChannel upgrades to a websocket and serves one session.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response
		s.logger.Warn("channel upgrade failed", "error", err)
		return
	}

	newSession(ws, s.hub, s.logger).Serve(r.Context())
}

// handleEvents streams session events via Server-Sent Events.
//
// Writes carry a deadline so a slow or vanished client cannot block the
// handler past shutdown.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	// flush headers so clients see the stream open before the first event
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("dropping unencodable event", "key", ev.Key, "error", err)
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}
