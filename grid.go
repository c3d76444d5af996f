package translucent

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"text/template"
)

// NewFeedGrid generates one [Feed] per combination of dimension values.
//
// The URL comes from a text/template executed with the combination
// (values are query-escaped). Keys are baseKey followed by the values in
// dimension-name order, joined with dots:
//
//	feeds, err := translucent.NewFeedGrid("price",
//	    translucent.WithURLTemplate("https://api.example.com/{{.market}}/{{.symbol}}"),
//	    translucent.WithDimensions(map[string][]string{
//	        "market": {"us", "eu"},
//	        "symbol": {"abc", "xyz"},
//	    }),
//	)
//	// keys: price.us.abc, price.us.xyz, price.eu.abc, price.eu.xyz
func NewFeedGrid(baseKey string, opts ...GridOption) ([]Feed, error) {
	if strings.TrimSpace(baseKey) == "" {
		return nil, errors.New("base key cannot be empty")
	}

	cfg := &gridConfig{
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.urlTemplate == "" {
		return nil, errors.New("URL template required")
	}
	if len(cfg.dimensions) == 0 {
		return nil, errors.New("at least one dimension required")
	}

	tmpl, err := template.New("url").Option("missingkey=error").Parse(cfg.urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid URL template: %w", err)
	}

	combinations := cartesianProduct(cfg.dimensions)
	feeds := make([]Feed, 0, len(combinations))
	for _, combo := range combinations {
		urlStr, err := executeTemplate(tmpl, urlEncodeMap(combo))
		if err != nil {
			return nil, fmt.Errorf("template execution failed: %w", err)
		}

		key := formatFeedKey(baseKey, combo)

		var feedOpts []FeedOption
		if len(cfg.headers) > 0 {
			feedOpts = append(feedOpts, WithHeaders(flattenMap(cfg.headers)...))
		}
		if cfg.timeout > 0 {
			feedOpts = append(feedOpts, WithTimeout(cfg.timeout))
		}
		if cfg.extractor != nil {
			feedOpts = append(feedOpts, WithExtractor(cfg.extractor))
		}
		if cfg.method != "" {
			feedOpts = append(feedOpts, WithMethod(cfg.method))
		}
		if cfg.interval > 0 {
			feedOpts = append(feedOpts, WithInterval(cfg.interval))
		}

		feed, err := NewFeed(key, urlStr, feedOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create feed %q: %w", key, err)
		}
		feeds = append(feeds, feed)
	}

	return feeds, nil
}

// cartesianProduct returns every combination of dimension values, iterating
// dimensions in sorted name order with the last dimension varying fastest.
func cartesianProduct(dims map[string][]string) []map[string]string {
	keys := sortedKeys(dims)
	if len(keys) == 0 {
		return nil
	}
	for _, k := range keys {
		if len(dims[k]) == 0 {
			return nil
		}
	}

	total := 1
	for _, k := range keys {
		total *= len(dims[k])
	}
	result := make([]map[string]string, 0, total)

	indices := make([]int, len(keys))
	for {
		combo := make(map[string]string, len(keys))
		for i, k := range keys {
			combo[k] = dims[k][indices[i]]
		}
		result = append(result, combo)

		for i := len(keys) - 1; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(dims[keys[i]]) {
				break
			}
			indices[i] = 0
			if i == 0 {
				return result
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func urlEncodeMap(m map[string]string) map[string]string {
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = url.QueryEscape(v)
	}
	return result
}

func executeTemplate(tmpl *template.Template, data map[string]string) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatFeedKey(baseKey string, combo map[string]string) string {
	parts := []string{baseKey}
	for _, k := range sortedKeys(combo) {
		parts = append(parts, combo[k])
	}
	return strings.Join(parts, ".")
}

func flattenMap(m map[string]string) []string {
	result := make([]string, 0, len(m)*2)
	for _, k := range sortedKeys(m) {
		result = append(result, k, m[k])
	}
	return result
}
