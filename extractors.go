package translucent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoValue is returned by extractors when the response does not contain
// the value they look for.
var ErrNoValue = errors.New("no value in response")

// ValueExtractor turns a feed's HTTP response into an environment value.
//
// Extractors should be pure functions of their inputs. An error means the
// poll produced no value; the previously published value stays in place.
//
// # Panic Safety
//
// Extractors are called within a panic recovery boundary. A panic is logged
// with a correlation id and treated as an error for that poll.
type ValueExtractor func(body []byte, statusCode int) (any, error)

// StatusCodeExtractor publishes the HTTP status code as a number.
var StatusCodeExtractor ValueExtractor = func(body []byte, statusCode int) (any, error) {
	return float64(statusCode), nil
}

// TextExtractor publishes the trimmed body of a 2xx response as a string.
var TextExtractor ValueExtractor = func(body []byte, statusCode int) (any, error) {
	if err := checkStatus(statusCode); err != nil {
		return nil, err
	}
	return strings.TrimSpace(string(body)), nil
}

// JSONExtractor publishes the decoded JSON body of a 2xx response.
//
// Objects become map[string]any, arrays []any and numbers float64, the same
// shapes values have after crossing the channel.
var JSONExtractor ValueExtractor = func(body []byte, statusCode int) (any, error) {
	if err := checkStatus(statusCode); err != nil {
		return nil, err
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return data, nil
}

// JSONFieldExtractor returns a [ValueExtractor] that publishes one field of
// a JSON body, addressed with dot notation.
//
// For example, "data.health" selects {"data": {"health": ...}}. The field
// may hold any JSON value. A missing field yields [ErrNoValue].
//
// Example:
//
//	// For response: {"current": {"temp": 21.5}}
//	extractor := translucent.JSONFieldExtractor("current.temp")
func JSONFieldExtractor(path string) ValueExtractor {
	parts := strings.Split(path, ".")

	return func(body []byte, statusCode int) (any, error) {
		data, err := JSONExtractor(body, statusCode)
		if err != nil {
			return nil, err
		}
		value, ok := extractJSONPath(data, parts)
		if !ok {
			return nil, fmt.Errorf("%w: field %q", ErrNoValue, path)
		}
		return value, nil
	}
}

// extractJSONPath walks a decoded JSON structure using dot notation parts.
func extractJSONPath(data any, parts []string) (any, bool) {
	current := data
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// RegexExtractor returns a [ValueExtractor] that publishes the first capture
// group of pattern matched against the body.
//
// The pattern must contain at least one capture group. No match yields
// [ErrNoValue]. Returns an error if the pattern is invalid.
//
// Example:
//
//	// Publish "42" from "queue depth: 42"
//	extractor, err := translucent.RegexExtractor(`depth:\s*(\d+)`)
func RegexExtractor(pattern string) (ValueExtractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("pattern %q has no capture group", pattern)
	}

	return func(body []byte, statusCode int) (any, error) {
		matches := re.FindSubmatch(body)
		if len(matches) < 2 {
			return nil, fmt.Errorf("%w: no match for %q", ErrNoValue, pattern)
		}
		return string(matches[1]), nil
	}, nil
}

// MustRegexExtractor is like [RegexExtractor] but panics if the pattern is
// invalid. Use it for constant patterns.
func MustRegexExtractor(pattern string) ValueExtractor {
	extractor, err := RegexExtractor(pattern)
	if err != nil {
		panic("translucent: invalid regex pattern: " + err.Error())
	}
	return extractor
}

// FirstMatch returns a [ValueExtractor] that tries extractors in order and
// publishes the first value produced without error.
//
// If every extractor fails, the last error is returned.
//
// Example:
//
//	extractor := translucent.FirstMatch(
//	    translucent.JSONFieldExtractor("price"),
//	    translucent.TextExtractor,
//	)
func FirstMatch(extractors ...ValueExtractor) ValueExtractor {
	return func(body []byte, statusCode int) (any, error) {
		err := ErrNoValue
		for _, extractor := range extractors {
			var value any
			value, err = extractor(body, statusCode)
			if err == nil {
				return value, nil
			}
		}
		return nil, err
	}
}

// DefaultExtractor is used when a [Feed] has no extractor. It publishes the
// decoded JSON body if the body is JSON, and the trimmed text otherwise.
// Non-2xx responses produce no value.
var DefaultExtractor = FirstMatch(
	JSONExtractor,
	TextExtractor,
)

func checkStatus(statusCode int) error {
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("unexpected status %d", statusCode)
	}
	return nil
}
