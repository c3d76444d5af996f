package config

import (
	"sort"
	"time"

	"github.com/jpalmerr/translucent"
)

// BuildFeeds converts parsed configuration into feeds.
//
// Direct feeds come first in file order, followed by each grid's
// expansion.
func BuildFeeds(cfg *Config) ([]translucent.Feed, error) {
	var feeds []translucent.Feed

	for _, fc := range cfg.Feeds {
		feed, err := buildFeed(fc)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}

	for _, gc := range cfg.Grids {
		gridFeeds, err := buildGridFeeds(gc)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, gridFeeds...)
	}

	return feeds, nil
}

// BuildOptions converts parsed configuration into [translucent.Option]
// values for [translucent.New]. Callers append their own options, such as
// a logger.
func BuildOptions(cfg *Config) ([]translucent.Option, error) {
	feeds, err := BuildFeeds(cfg)
	if err != nil {
		return nil, err
	}

	opts := []translucent.Option{
		translucent.WithProgramFile(cfg.Program),
		translucent.WithPort(cfg.Port),
		translucent.WithPollingInterval(cfg.PollInterval.Duration()),
		translucent.WithFeeds(feeds...),
	}
	if cfg.Title != "" {
		opts = append(opts, translucent.WithTitle(cfg.Title))
	}
	if cfg.Stylesheet != "" {
		opts = append(opts, translucent.WithStylesheetFile(cfg.Stylesheet))
	}
	if len(cfg.Values) > 0 {
		opts = append(opts, translucent.WithValues(cfg.Values))
	}
	return opts, nil
}

func buildFeed(fc FeedConfig) (translucent.Feed, error) {
	opts, err := feedOptions(fc.Method, fc.Timeout, fc.Interval, fc.Headers, fc.Extractor)
	if err != nil {
		return translucent.Feed{}, err
	}
	return translucent.NewFeed(fc.Key, fc.URL, opts...)
}

func buildGridFeeds(gc GridConfig) ([]translucent.Feed, error) {
	extractor, err := buildExtractor(gc.Extractor)
	if err != nil {
		return nil, err
	}

	opts := []translucent.GridOption{
		translucent.WithURLTemplate(gc.URLTemplate),
		translucent.WithDimensions(gc.Dimensions),
	}
	if gc.Method != "" {
		opts = append(opts, translucent.WithGridMethod(gc.Method))
	}
	if gc.Timeout != 0 {
		opts = append(opts, translucent.WithGridTimeout(gc.Timeout.Duration()))
	}
	if gc.Interval != 0 {
		opts = append(opts, translucent.WithGridInterval(gc.Interval.Duration()))
	}
	if len(gc.Headers) > 0 {
		opts = append(opts, translucent.WithGridHeaders(mapToKeyValuePairs(gc.Headers)...))
	}
	if extractor != nil {
		opts = append(opts, translucent.WithGridExtractor(extractor))
	}

	return translucent.NewFeedGrid(gc.Key, opts...)
}

func feedOptions(method string, timeout, interval Duration, headers map[string]string, ec ExtractorConfig) ([]translucent.FeedOption, error) {
	var opts []translucent.FeedOption

	if method != "" {
		opts = append(opts, translucent.WithMethod(method))
	}
	if timeout != 0 {
		opts = append(opts, translucent.WithTimeout(time.Duration(timeout)))
	}
	if interval != 0 {
		opts = append(opts, translucent.WithInterval(time.Duration(interval)))
	}
	if len(headers) > 0 {
		opts = append(opts, translucent.WithHeaders(mapToKeyValuePairs(headers)...))
	}

	extractor, err := buildExtractor(ec)
	if err != nil {
		return nil, err
	}
	if extractor != nil {
		opts = append(opts, translucent.WithExtractor(extractor))
	}
	return opts, nil
}

// mapToKeyValuePairs converts a map to key-value pairs sorted by key.
func mapToKeyValuePairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// buildExtractor converts an ExtractorConfig to a ValueExtractor.
// Returns nil for default/empty extractors (the feed then uses
// translucent.DefaultExtractor).
func buildExtractor(ec ExtractorConfig) (translucent.ValueExtractor, error) {
	switch ec.Type {
	case "text":
		return translucent.TextExtractor, nil
	case "status":
		return translucent.StatusCodeExtractor, nil
	case "json":
		if ec.Path == "" {
			return translucent.JSONExtractor, nil
		}
		return translucent.JSONFieldExtractor(ec.Path), nil
	case "regex":
		return translucent.RegexExtractor(ec.Pattern)
	default:
		return nil, nil
	}
}
