package translucent

import (
	"errors"
	"net/url"
	"time"
)

const defaultFeedTimeout = 10 * time.Second

// Feed is an HTTP source polled by the server and published to every
// session under its key.
//
// Feed is immutable after creation via [NewFeed]. Configure it with
// [FeedOption] functions such as [WithHeaders], [WithTimeout],
// [WithExtractor], [WithMethod] and [WithInterval].
type Feed struct {
	key       string
	url       string
	headers   map[string]string
	timeout   time.Duration
	extractor ValueExtractor
	method    string
	interval  time.Duration
}

// Key returns the environment key the feed publishes under.
func (f Feed) Key() string {
	return f.key
}

// URL returns the polled URL.
func (f Feed) URL() string {
	return f.url
}

// Headers returns a copy of the feed's custom HTTP headers.
func (f Feed) Headers() map[string]string {
	return copyMap(f.headers)
}

// Timeout returns the per-request timeout. Defaults to 10 seconds.
func (f Feed) Timeout() time.Duration {
	return f.timeout
}

// Extractor returns the feed's [ValueExtractor], or nil if none was set,
// in which case [DefaultExtractor] applies.
func (f Feed) Extractor() ValueExtractor {
	return f.extractor
}

// Method returns the HTTP method. Empty means GET.
func (f Feed) Method() string {
	return f.method
}

// Interval returns the feed's own polling interval, or 0 to use the
// interval set with [WithPollingInterval].
func (f Feed) Interval() time.Duration {
	return f.interval
}

// NewFeed creates a [Feed] that publishes under key the value extracted
// from rawURL.
//
// Returns an error if the key is empty or the URL has no http(s) scheme.
//
// Example:
//
//	feed, err := translucent.NewFeed("price", "https://api.example.com/price",
//	    translucent.WithExtractor(translucent.JSONFieldExtractor("data.last")),
//	    translucent.WithInterval(5 * time.Second),
//	)
func NewFeed(key, rawURL string, opts ...FeedOption) (Feed, error) {
	if key == "" {
		return Feed{}, errors.New("feed key cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Feed{}, errors.New("invalid URL: " + err.Error())
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return Feed{}, errors.New("URL must have an http:// or https:// scheme")
	}

	cfg := &feedConfig{
		headers: make(map[string]string),
		timeout: defaultFeedTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Feed{}, err
		}
	}

	return Feed{
		key:       key,
		url:       rawURL,
		headers:   cfg.headers,
		timeout:   cfg.timeout,
		extractor: cfg.extractor,
		method:    cfg.method,
		interval:  cfg.interval,
	}, nil
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
