// Package config provides YAML configuration for running translucent as a
// standalone binary, as an alternative to building an App in Go.
//
// Example configuration:
//
//	title: Desk
//	port: 8080
//	program: ./index.star
//	poll_interval: 10s
//
//	values:
//	  theme: dark
//	  qty: 1
//
//	feeds:
//	  - key: price
//	    url: https://api.example.com/price
//	    extractor: json:data.last
//
//	grids:
//	  - key: health
//	    url_template: "https://{{.env}}.example.com/health"
//	    extractor: status
//	    dimensions:
//	      env: [prod, staging]
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// minPollInterval keeps a config from hammering its feeds.
const minPollInterval = 1 * time.Second

const (
	defaultPort         = 8080
	defaultPollInterval = 15 * time.Second
)

// Config is the root configuration structure.
//
// It maps directly to the YAML file. Use [Load] or [Parse] to create one.
type Config struct {
	// Title is the page title. Defaults to "translucent".
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// Program is the path of the program served to clients. Relative
	// paths are resolved against the config file's directory.
	Program string `yaml:"program"`

	// Stylesheet is an optional path served at /index.css.
	Stylesheet string `yaml:"stylesheet"`

	// PollInterval is the default time between feed polls. Defaults to 15s.
	PollInterval Duration `yaml:"poll_interval"`

	// Values seed every session's environment.
	Values map[string]any `yaml:"values"`

	// Feeds are HTTP sources published under their key.
	Feeds []FeedConfig `yaml:"feeds"`

	// Grids expand into one feed per combination of dimension values.
	Grids []GridConfig `yaml:"grids"`
}

// FeedConfig defines a single feed.
type FeedConfig struct {
	// Key is the environment key values are published under.
	Key string `yaml:"key"`

	// URL is polled for values.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Method is the HTTP method (GET, HEAD, POST). Defaults to GET.
	Method string `yaml:"method"`

	// Timeout is the request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Headers are sent with each request. Values support environment
	// variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Extractor determines how the response becomes a value.
	Extractor ExtractorConfig `yaml:"extractor"`

	// Interval overrides poll_interval for this feed. Must be between 1s
	// and 1h.
	Interval Duration `yaml:"interval"`
}

// GridConfig defines a feed grid.
//
// With dimensions {market: [us, eu]} and key "price", the grid expands to
// feeds price.eu and price.us.
type GridConfig struct {
	Key         string              `yaml:"key"`
	URLTemplate string              `yaml:"url_template"`
	Dimensions  map[string][]string `yaml:"dimensions"`
	Method      string              `yaml:"method"`
	Timeout     Duration            `yaml:"timeout"`
	Headers     map[string]string   `yaml:"headers"`
	Extractor   ExtractorConfig     `yaml:"extractor"`
	Interval    Duration            `yaml:"interval"`
}

// ExtractorConfig specifies how a feed response becomes a value.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	extractor: json:data.last
//	extractor: regex:depth:\s*(\d+)
//	extractor: json
//	extractor: text
//	extractor: status
//	extractor: default
//
// Structured object:
//
//	extractor:
//	  type: json
//	  path: data.last
type ExtractorConfig struct {
	// Type is one of "default", "json", "text", "status", "regex".
	Type string

	// Path is the JSON field path (for type json). Empty publishes the
	// whole body.
	Path string

	// Pattern is the regular expression (for type regex).
	Pattern string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for ExtractorConfig.
func (e *ExtractorConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return e.parseShorthand(s)

	case yaml.MappingNode:
		// separate type so Decode does not recurse into this method
		var raw struct {
			Type    string `yaml:"type"`
			Path    string `yaml:"path"`
			Pattern string `yaml:"pattern"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		e.Type = raw.Type
		e.Path = raw.Path
		e.Pattern = raw.Pattern
		return nil
	}

	return fmt.Errorf("extractor must be a string or object, got %v", node.Kind)
}

// parseShorthand parses "type" or "type:argument".
func (e *ExtractorConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	kind, arg, hasArg := strings.Cut(s, ":")
	switch kind {
	case "json":
		e.Type, e.Path = kind, arg
	case "regex":
		if !hasArg {
			return errors.New("extractor 'regex' requires a pattern (regex:pattern)")
		}
		e.Type, e.Pattern = kind, arg
	case "default", "text", "status":
		if hasArg {
			return fmt.Errorf("extractor %q takes no argument", kind)
		}
		e.Type = kind
	default:
		return fmt.Errorf("unknown extractor %q (expected 'default', 'text', 'status', 'json[:path]', or 'regex:pattern')", s)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
// Group 1: variable name
// Group 2: the ":-default" part, present when a default was given
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		varName := submatches[1]
		hasDefault := submatches[2] != ""

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return submatches[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Relative program and stylesheet paths are resolved against the file's
// directory. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	cfg.Program = resolvePath(dir, cfg.Program)
	cfg.Stylesheet = resolvePath(dir, cfg.Stylesheet)
	return cfg, nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in feed URLs, grid URL templates and
// header values. Defaults are applied for Port (8080) and PollInterval
// (15s).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(defaultPollInterval)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Overrides are the settings that can be replaced from the environment
// after the file has been read.
type Overrides struct {
	Port         int           `env:"TRANSLUCENT_PORT"`
	Title        string        `env:"TRANSLUCENT_TITLE"`
	Program      string        `env:"TRANSLUCENT_PROGRAM"`
	PollInterval time.Duration `env:"TRANSLUCENT_POLL_INTERVAL"`
}

// ApplyEnv replaces settings with the TRANSLUCENT_* environment variables
// that are set, then validates the result.
func ApplyEnv(cfg *Config) error {
	var o Overrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.Port != 0 {
		cfg.Port = o.Port
	}
	if o.Title != "" {
		cfg.Title = o.Title
	}
	if o.Program != "" {
		cfg.Program = o.Program
	}
	if o.PollInterval != 0 {
		cfg.PollInterval = Duration(o.PollInterval)
	}

	return cfg.validateSettings()
}

// validateSettings checks the top-level settings.
func (c *Config) validateSettings() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.Program == "" {
		return errors.New("program is required")
	}
	return nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if err := c.validateSettings(); err != nil {
		return err
	}

	// values take the shapes they will have after crossing the channel,
	// so YAML integers become float64
	for k, v := range c.Values {
		if k == "" {
			return errors.New("values: key cannot be empty")
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("values[%s]: %w", k, err)
		}
		var normalized any
		if err := json.Unmarshal(data, &normalized); err != nil {
			return fmt.Errorf("values[%s]: %w", k, err)
		}
		c.Values[k] = normalized
	}

	keys := make(map[string]struct{})
	claim := func(key, context string) error {
		if _, exists := keys[key]; exists {
			return fmt.Errorf("%s: duplicate feed key %q", context, key)
		}
		keys[key] = struct{}{}
		return nil
	}

	for i := range c.Feeds {
		f := &c.Feeds[i]

		if f.Key == "" {
			return fmt.Errorf("feeds[%d]: key is required", i)
		}
		ctx := fmt.Sprintf("feeds[%d] (%s)", i, f.Key)
		if err := claim(f.Key, ctx); err != nil {
			return err
		}

		if f.URL == "" {
			return fmt.Errorf("%s: url is required", ctx)
		}
		expanded, err := expandEnvVars(f.URL)
		if err != nil {
			return fmt.Errorf("%s: url: %w", ctx, err)
		}
		f.URL = expanded

		parsedURL, err := url.Parse(f.URL)
		if err != nil {
			return fmt.Errorf("%s: invalid url: %w", ctx, err)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("%s: url scheme must be http or https, got %q", ctx, parsedURL.Scheme)
		}

		if err := validateRequest(ctx, f.Method, f.Timeout, f.Interval, f.Headers, &f.Extractor); err != nil {
			return err
		}
	}

	for i := range c.Grids {
		g := &c.Grids[i]

		if g.Key == "" {
			return fmt.Errorf("grids[%d]: key is required", i)
		}
		ctx := fmt.Sprintf("grids[%d] (%s)", i, g.Key)

		if g.URLTemplate == "" {
			return fmt.Errorf("%s: url_template is required", ctx)
		}
		expanded, err := expandEnvVars(g.URLTemplate)
		if err != nil {
			return fmt.Errorf("%s: url_template: %w", ctx, err)
		}
		g.URLTemplate = expanded

		if _, err := template.New("").Parse(g.URLTemplate); err != nil {
			return fmt.Errorf("%s: invalid url_template: %w", ctx, err)
		}

		if len(g.Dimensions) == 0 {
			return fmt.Errorf("%s: at least one dimension is required", ctx)
		}
		for dimName, dimValues := range g.Dimensions {
			if len(dimValues) == 0 {
				return fmt.Errorf("%s: dimension %q has no values", ctx, dimName)
			}
			seen := make(map[string]struct{}, len(dimValues))
			for _, v := range dimValues {
				if _, exists := seen[v]; exists {
					return fmt.Errorf("%s: dimension %q has duplicate value %q", ctx, dimName, v)
				}
				seen[v] = struct{}{}
			}
		}

		for _, key := range gridKeys(g.Key, g.Dimensions) {
			if err := claim(key, ctx); err != nil {
				return err
			}
		}

		if err := validateRequest(ctx, g.Method, g.Timeout, g.Interval, g.Headers, &g.Extractor); err != nil {
			return err
		}
	}

	return nil
}

// validateRequest checks the settings shared by feeds and grids and
// expands header values in place.
func validateRequest(ctx, method string, timeout, interval Duration, headers map[string]string, e *ExtractorConfig) error {
	for k, v := range headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("%s: headers[%s]: %w", ctx, k, err)
		}
		headers[k] = expanded
	}

	if method != "" && method != "GET" && method != "HEAD" && method != "POST" {
		return fmt.Errorf("%s: method must be GET, HEAD, or POST", ctx)
	}

	if timeout != 0 && timeout.Duration() < time.Second {
		return fmt.Errorf("%s: timeout must be at least 1s if specified, got %s", ctx, timeout.Duration())
	}

	if interval != 0 {
		if interval.Duration() < time.Second {
			return fmt.Errorf("%s: interval must be at least 1s, got %s", ctx, interval.Duration())
		}
		if interval.Duration() > time.Hour {
			return fmt.Errorf("%s: interval must not exceed 1h, got %s", ctx, interval.Duration())
		}
	}

	return validateExtractor(e, ctx)
}

// validateExtractor validates an extractor configuration.
func validateExtractor(e *ExtractorConfig, context string) error {
	switch e.Type {
	case "", "default", "text", "status", "json":
		return nil
	case "regex":
		if e.Pattern == "" {
			return fmt.Errorf("%s: extractor type 'regex' requires a pattern", context)
		}
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return fmt.Errorf("%s: invalid extractor pattern: %w", context, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("%s: extractor pattern needs a capture group", context)
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown extractor type %q", context, e.Type)
	}
}

// gridKeys lists the feed keys a grid expands to, matching the keys
// translucent.NewFeedGrid generates.
func gridKeys(base string, dims map[string][]string) []string {
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)

	keys := []string{base}
	for _, name := range names {
		next := make([]string, 0, len(keys)*len(dims[name]))
		for _, k := range keys {
			for _, v := range dims[name] {
				next = append(next, k+"."+v)
			}
		}
		keys = next
	}
	return keys
}
