package translucent

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// gridConfig holds configuration during feed grid construction.
type gridConfig struct {
	urlTemplate string
	dimensions  map[string][]string
	headers     map[string]string
	timeout     time.Duration
	extractor   ValueExtractor
	method      string
	interval    time.Duration
}

// GridOption configures [NewFeedGrid].
type GridOption func(*gridConfig) error

// WithURLTemplate sets the text/template used to build each feed's URL.
// Dimension names are the template variables.
func WithURLTemplate(tmpl string) GridOption {
	return func(cfg *gridConfig) error {
		if tmpl == "" {
			return errors.New("URL template required")
		}
		cfg.urlTemplate = tmpl
		return nil
	}
}

// WithDimensions sets the values to expand. Every dimension needs at least
// one non-empty value.
func WithDimensions(dims map[string][]string) GridOption {
	return func(cfg *gridConfig) error {
		if len(dims) == 0 {
			return errors.New("at least one dimension required")
		}
		for k, vals := range dims {
			if len(vals) == 0 {
				return fmt.Errorf("dimension '%s' has no values", k)
			}
			for i, v := range vals {
				if v == "" {
					return fmt.Errorf("dimension '%s' contains empty value at index %d", k, i)
				}
			}
		}
		cfg.dimensions = dims
		return nil
	}
}

// WithGridHeaders adds HTTP headers to every generated feed.
func WithGridHeaders(keyValues ...string) GridOption {
	return func(cfg *gridConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithGridHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithGridTimeout sets the request timeout of every generated feed.
func WithGridTimeout(d time.Duration) GridOption {
	return func(cfg *gridConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithGridExtractor sets the extractor of every generated feed.
func WithGridExtractor(e ValueExtractor) GridOption {
	return func(cfg *gridConfig) error {
		cfg.extractor = e
		return nil
	}
}

// WithGridMethod sets the HTTP method of every generated feed.
func WithGridMethod(method string) GridOption {
	return func(cfg *gridConfig) error {
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET, HEAD, or POST")
		}
	}
}

// WithGridInterval sets the polling interval of every generated feed.
func WithGridInterval(d time.Duration) GridOption {
	return func(cfg *gridConfig) error {
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
