package translucent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jpalmerr/translucent/dashboard"
	"github.com/jpalmerr/translucent/internal/fetch"
	"github.com/jpalmerr/translucent/internal/server"
)

const (
	defaultPollingInterval = 15 * time.Second
	defaultPort            = 8080
	defaultMaxConcurrency  = 10
)

// App serves a program, its shared environment and the feeds that update it.
//
// App is created using [New] with functional options and started with
// [App.Start]:
//
//	app, err := translucent.New(translucent.WithProgramFile("index.star"))
//	if err != nil {
//	    slog.Error("failed to create app", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	app.Start(ctx) // blocks until ctx is cancelled
type App struct {
	title           string
	program         func() (string, error)
	stylesheet      func() (string, error)
	feeds           []Feed
	pollingInterval time.Duration
	port            int
	maxConcurrency  int
	logger          *slog.Logger
	updateCallbacks []func(Update)

	hub *server.Hub
}

// New creates an [App] with the given options.
//
// A program must be configured with [WithProgram] or [WithProgramFile].
// Other options have defaults:
//   - Polling interval: 15 seconds
//   - Port: 8080
//   - Max concurrency: 10
//
// Returns an error if no program is configured, feed keys repeat, or any
// option is invalid.
func New(opts ...Option) (*App, error) {
	cfg := &appConfig{
		pollingInterval: defaultPollingInterval,
		port:            defaultPort,
		maxConcurrency:  defaultMaxConcurrency,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.program == nil {
		return nil, errors.New("a program is required")
	}

	// feed keys identify feeds to the scheduler
	seen := make(map[string]bool, len(cfg.feeds))
	for _, f := range cfg.feeds {
		if seen[f.key] {
			return nil, fmt.Errorf("duplicate feed key: %q", f.key)
		}
		seen[f.key] = true
	}

	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", cfg.port)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{
		title:           cfg.title,
		program:         cfg.program,
		stylesheet:      cfg.stylesheet,
		feeds:           cfg.feeds,
		pollingInterval: cfg.pollingInterval,
		port:            cfg.port,
		maxConcurrency:  cfg.maxConcurrency,
		logger:          logger,
		updateCallbacks: cfg.updateCallbacks,
	}
	app.hub = server.NewHub(cfg.values, toServerExpressions(cfg.expressions), app.dispatchUpdate, logger)
	return app, nil
}

// Start polls feeds and serves the program until ctx is cancelled.
//
// Every feed is polled immediately and then at its interval; each value
// extracted is published to all sessions. The page is available at
// http://localhost:<port>.
//
// Returns nil on graceful shutdown, or an error if the HTTP server fails
// to start.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("translucent starting", "feed_count", len(a.feeds))
	a.logger.Info("page available", "url", fmt.Sprintf("http://localhost:%d", a.port))

	if ctx.Err() != nil {
		return nil
	}

	scheduler := fetch.NewScheduler(a.toFeedInfos(), a.pollingInterval, a.maxConcurrency, a.logger)
	scheduler.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range scheduler.Results() {
			logAttrs := []any{
				"feed", result.Key,
				"url", result.URL,
				"status_code", result.StatusCode,
				"latency_ms", result.Latency.Milliseconds(),
			}
			if result.Error != nil {
				a.logger.Warn("poll completed with error", append(logAttrs, "error", result.Error.Error())...)
				continue
			}

			changed := a.hub.Publish(result.Key, result.Value)
			a.logger.Debug("poll completed", append(logAttrs, "changed", changed)...)
		}
	}()

	cleanup := func() {
		scheduler.Stop()
		wg.Wait()
	}

	httpServer := server.NewServer(a.hub, a.port, dashboard.Assets, a.page(), a.logger)
	if err := httpServer.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	cleanup()
	a.logger.Info("translucent stopped")
	return nil
}

// Handler returns the app's HTTP routes without starting a listener or
// polling feeds, for mounting into an existing server.
func (a *App) Handler() http.Handler {
	return server.NewServer(a.hub, a.port, dashboard.Assets, a.page(), a.logger).Handler()
}

// Publish sets a server-wide value and pushes it to every open session.
// New sessions start with it. Reports false if the value is unchanged.
func (a *App) Publish(key string, value any) bool {
	return a.hub.Publish(key, value)
}

// Values returns a snapshot of the server-wide values.
func (a *App) Values() Environment {
	return a.hub.Values()
}

// Sessions returns the number of connected clients.
func (a *App) Sessions() int {
	return a.hub.Sessions()
}

// Feeds returns a copy of the configured feeds.
func (a *App) Feeds() []Feed {
	cp := make([]Feed, len(a.feeds))
	copy(cp, a.feeds)
	return cp
}

// Port returns the configured HTTP port.
func (a *App) Port() int {
	return a.port
}

// PollingInterval returns the default interval between feed polls.
func (a *App) PollingInterval() time.Duration {
	return a.pollingInterval
}

func (a *App) page() server.Page {
	return server.Page{
		Title:      a.title,
		Program:    a.program,
		Stylesheet: a.stylesheet,
	}
}

// toFeedInfos converts feeds to the scheduler's format.
func (a *App) toFeedInfos() []fetch.FeedInfo {
	result := make([]fetch.FeedInfo, len(a.feeds))

	for i, f := range a.feeds {
		extractor := f.extractor
		if extractor == nil {
			extractor = DefaultExtractor
		}

		result[i] = fetch.FeedInfo{
			Key:       f.key,
			URL:       f.url,
			Method:    f.method,
			Headers:   copyMap(f.headers),
			Timeout:   f.timeout,
			Extractor: fetch.ValueExtractor(extractor),
			Interval:  f.interval,
		}
	}

	return result
}

func toServerExpressions(entries []expressionEntry) []server.Expression {
	result := make([]server.Expression, len(entries))
	for i, e := range entries {
		result[i] = server.Expression{Key: e.key, Fn: e.fn}
	}
	return result
}

// dispatchUpdate hands a session event to every update callback.
func (a *App) dispatchUpdate(ev server.Event) {
	if len(a.updateCallbacks) == 0 {
		return
	}
	update := Update{
		Session: ev.Session,
		Key:     ev.Key,
		Value:   ev.Value,
		Origin:  ev.Origin,
		At:      ev.At,
	}
	for _, cb := range a.updateCallbacks {
		invokeCallbackSafe(cb, update, a.logger)
	}
}

// invokeCallbackSafe calls an update callback with panic recovery.
func invokeCallbackSafe(cb func(Update), update Update, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("update callback panicked",
				"panic", r,
				"session", update.Session,
				"key", update.Key,
			)
		}
	}()
	cb(update)
}
