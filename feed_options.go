package translucent

import (
	"errors"
	"net/http"
	"time"
)

// feedConfig holds mutable state during feed construction.
type feedConfig struct {
	headers   map[string]string
	timeout   time.Duration
	extractor ValueExtractor
	method    string
	interval  time.Duration
}

// FeedOption configures a [Feed] during construction.
type FeedOption func(*feedConfig) error

// WithHeaders adds HTTP headers to every poll of the feed.
//
// Accepts variadic key-value pairs; the number of arguments must be even.
//
//	feed, err := translucent.NewFeed("orders", url,
//	    translucent.WithHeaders("Authorization", "Bearer token123"),
//	)
func WithHeaders(keyValues ...string) FeedOption {
	return func(cfg *feedConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithTimeout sets the per-request timeout. A poll that times out publishes
// nothing. Defaults to 10 seconds.
func WithTimeout(d time.Duration) FeedOption {
	return func(cfg *feedConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithExtractor sets how the response becomes a value. Without it the
// feed uses [DefaultExtractor].
func WithExtractor(e ValueExtractor) FeedOption {
	return func(cfg *feedConfig) error {
		cfg.extractor = e
		return nil
	}
}

// WithMethod sets the HTTP method: GET (default), HEAD or POST.
func WithMethod(method string) FeedOption {
	return func(cfg *feedConfig) error {
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET, HEAD, or POST")
		}
	}
}

// WithInterval polls this feed at its own interval instead of the global
// one. The interval must be between 1 second and 1 hour.
//
// The interval is measured from when a poll starts, so for slow sources the
// effective interval is the configured interval plus the poll duration.
func WithInterval(d time.Duration) FeedOption {
	return func(cfg *feedConfig) error {
		if d < time.Second {
			return errors.New("interval must be at least 1 second")
		}
		if d > time.Hour {
			return errors.New("interval must not exceed 1 hour")
		}
		cfg.interval = d
		return nil
	}
}
