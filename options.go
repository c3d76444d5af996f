package translucent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// expressionEntry is an [Expression] bound to its key.
type expressionEntry struct {
	key string
	fn  Expression
}

// appConfig holds mutable state during App construction.
type appConfig struct {
	title           string
	program         func() (string, error)
	stylesheet      func() (string, error)
	feeds           []Feed
	values          Environment
	expressions     []expressionEntry
	pollingInterval time.Duration
	port            int
	maxConcurrency  int
	logger          *slog.Logger
	updateCallbacks []func(Update)
}

// Option configures an [App] during construction. Options return an error
// if validation fails.
type Option func(*appConfig) error

// WithProgram sets the program text served to clients.
func WithProgram(src string) Option {
	return func(cfg *appConfig) error {
		if src == "" {
			return errors.New("program cannot be empty")
		}
		cfg.program = func() (string, error) { return src, nil }
		return nil
	}
}

// WithProgramFile serves the program from a file, read again on every
// request so edits reach clients that reconnect.
//
// Returns an error if the file cannot be read at construction time.
func WithProgramFile(path string) Option {
	return func(cfg *appConfig) error {
		source, err := fileSource(path)
		if err != nil {
			return fmt.Errorf("program: %w", err)
		}
		cfg.program = source
		return nil
	}
}

// WithStylesheet sets the stylesheet served at /index.css.
func WithStylesheet(css string) Option {
	return func(cfg *appConfig) error {
		cfg.stylesheet = func() (string, error) { return css, nil }
		return nil
	}
}

// WithStylesheetFile serves the stylesheet from a file, read on every request.
func WithStylesheetFile(path string) Option {
	return func(cfg *appConfig) error {
		source, err := fileSource(path)
		if err != nil {
			return fmt.Errorf("stylesheet: %w", err)
		}
		cfg.stylesheet = source
		return nil
	}
}

func fileSource(path string) (func() (string, error), error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return func() (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}, nil
}

// WithValue seeds every new session's environment with key set to value.
//
// The value must be JSON-encodable, since it crosses the channel.
func WithValue(key string, value any) Option {
	return func(cfg *appConfig) error {
		if key == "" {
			return errors.New("value key cannot be empty")
		}
		if _, err := json.Marshal(value); err != nil {
			return fmt.Errorf("value %q is not JSON-encodable: %w", key, err)
		}
		if cfg.values == nil {
			cfg.values = make(Environment)
		}
		cfg.values[key] = value
		return nil
	}
}

// WithValues seeds several values at once. Equivalent to calling
// [WithValue] for each entry.
func WithValues(values Environment) Option {
	return func(cfg *appConfig) error {
		for _, k := range sortedKeys(values) {
			if err := WithValue(k, values[k])(cfg); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithExpression registers a server-side [Expression] published under key.
//
// Example:
//
//	app, err := translucent.New(
//	    translucent.WithProgram(src),
//	    translucent.WithExpression("total", func(env *translucent.Scope) (any, error) {
//	        qty, _ := env.Number("qty")
//	        price, _ := env.Number("price")
//	        return qty * price, nil
//	    }),
//	)
//
// Returns an error if key is empty, fn is nil, or key is already used by
// another expression.
func WithExpression(key string, fn Expression) Option {
	return func(cfg *appConfig) error {
		if key == "" {
			return errors.New("expression key cannot be empty")
		}
		if fn == nil {
			return fmt.Errorf("expression %q cannot be nil", key)
		}
		for _, e := range cfg.expressions {
			if e.key == key {
				return fmt.Errorf("duplicate expression key: %q", key)
			}
		}
		cfg.expressions = append(cfg.expressions, expressionEntry{key: key, fn: fn})
		return nil
	}
}

// WithFeed adds a single [Feed].
func WithFeed(f Feed) Option {
	return func(cfg *appConfig) error {
		cfg.feeds = append(cfg.feeds, f)
		return nil
	}
}

// WithFeeds adds several feeds, for example the output of [NewFeedGrid].
func WithFeeds(feeds ...Feed) Option {
	return func(cfg *appConfig) error {
		cfg.feeds = append(cfg.feeds, feeds...)
		return nil
	}
}

// WithPollingInterval sets how often feeds without their own interval are
// polled. Defaults to 15 seconds.
func WithPollingInterval(d time.Duration) Option {
	return func(cfg *appConfig) error {
		if d <= 0 {
			return errors.New("polling interval must be positive")
		}
		cfg.pollingInterval = d
		return nil
	}
}

// WithPort sets the HTTP port. Defaults to 8080.
func WithPort(port int) Option {
	return func(cfg *appConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency limits how many feeds are polled at once.
// Defaults to 10.
func WithMaxConcurrency(n int) Option {
	return func(cfg *appConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithLogger sets the [slog.Logger]. If not specified, [slog.Default] is used.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *appConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithUpdateCallback registers a function called for every accepted
// [Update] in every session.
//
// Callbacks run synchronously on the session's event loop, in registration
// order, and must not block. Panics are recovered and logged. Nil
// callbacks are ignored.
func WithUpdateCallback(cb func(Update)) Option {
	return func(cfg *appConfig) error {
		if cb == nil {
			return nil
		}
		cfg.updateCallbacks = append(cfg.updateCallbacks, cb)
		return nil
	}
}

// WithTitle sets the page title. Defaults to "translucent".
func WithTitle(title string) Option {
	return func(cfg *appConfig) error {
		cfg.title = title
		return nil
	}
}
