package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParse_MinimalConfig(t *testing.T) {
	yaml := `
program: index.star
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.PollInterval.Duration() != 15*time.Second {
		t.Errorf("PollInterval = %v, want 15s", cfg.PollInterval.Duration())
	}
	if len(cfg.Feeds) != 0 || len(cfg.Grids) != 0 {
		t.Errorf("Feeds = %v, Grids = %v, want none", cfg.Feeds, cfg.Grids)
	}
}

func TestParse_MissingProgram(t *testing.T) {
	_, err := Parse([]byte("port: 9000\n"))
	if err == nil || !strings.Contains(err.Error(), "program is required") {
		t.Errorf("Parse() error = %v, want error containing 'program is required'", err)
	}
}

func TestParse_FullFeedConfig(t *testing.T) {
	yaml := `
title: Desk
port: 9090
program: index.star
stylesheet: index.css
poll_interval: 30s

feeds:
  - key: price
    url: https://api.example.com/price
    method: POST
    timeout: 5s
    interval: 1m
    headers:
      Authorization: Bearer token123
    extractor: json:data.last
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Title != "Desk" {
		t.Errorf("Title = %q, want Desk", cfg.Title)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Stylesheet != "index.css" {
		t.Errorf("Stylesheet = %q, want index.css", cfg.Stylesheet)
	}
	if cfg.PollInterval.Duration() != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval.Duration())
	}

	f := cfg.Feeds[0]
	if f.Key != "price" {
		t.Errorf("Key = %q, want price", f.Key)
	}
	if f.Method != "POST" {
		t.Errorf("Method = %q, want POST", f.Method)
	}
	if f.Timeout.Duration() != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", f.Timeout.Duration())
	}
	if f.Interval.Duration() != time.Minute {
		t.Errorf("Interval = %v, want 1m", f.Interval.Duration())
	}
	if f.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("Headers = %v", f.Headers)
	}
	if f.Extractor.Type != "json" || f.Extractor.Path != "data.last" {
		t.Errorf("Extractor = %+v, want json data.last", f.Extractor)
	}
}

func TestParse_Values(t *testing.T) {
	yaml := `
program: index.star
values:
  theme: dark
  qty: 2
  ratio: 0.5
  flags: [a, b]
  nested:
    enabled: true
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := map[string]any{
		"theme":  "dark",
		"qty":    2.0,
		"ratio":  0.5,
		"flags":  []any{"a", "b"},
		"nested": map[string]any{"enabled": true},
	}
	if !reflect.DeepEqual(cfg.Values, want) {
		t.Errorf("Values = %#v, want %#v", cfg.Values, want)
	}
}

func TestParse_GridConfig(t *testing.T) {
	yaml := `
program: index.star
grids:
  - key: health
    url_template: "https://{{.env}}.example.com/{{.svc}}"
    extractor: status
    dimensions:
      env: [prod, staging]
      svc: [api, web]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	g := cfg.Grids[0]
	if g.Key != "health" {
		t.Errorf("Key = %q, want health", g.Key)
	}
	if len(g.Dimensions) != 2 {
		t.Errorf("len(Dimensions) = %d, want 2", len(g.Dimensions))
	}
	if g.Extractor.Type != "status" {
		t.Errorf("Extractor.Type = %q, want status", g.Extractor.Type)
	}
}

func TestParse_ExtractorShorthand(t *testing.T) {
	tests := []struct {
		name      string
		extractor string
		want      ExtractorConfig
		wantErr   bool
	}{
		{"default", "default", ExtractorConfig{Type: "default"}, false},
		{"text", "text", ExtractorConfig{Type: "text"}, false},
		{"status", "status", ExtractorConfig{Type: "status"}, false},
		{"whole json", "json", ExtractorConfig{Type: "json"}, false},
		{"json path", "json:data.last", ExtractorConfig{Type: "json", Path: "data.last"}, false},
		{"regex", `'regex:depth:\s*(\d+)'`, ExtractorConfig{Type: "regex", Pattern: `depth:\s*(\d+)`}, false},
		{"regex without pattern", "regex", ExtractorConfig{}, true},
		{"regex without group", `'regex:\d+'`, ExtractorConfig{}, true},
		{"text with argument", "text:x", ExtractorConfig{}, true},
		{"unknown", "contains:ok", ExtractorConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := `
program: index.star
feeds:
  - key: k
    url: https://example.com
    extractor: ` + tt.extractor + "\n"

			cfg, err := Parse([]byte(yaml))
			if tt.wantErr {
				if err == nil {
					t.Errorf("Parse() expected error for extractor %s, got nil", tt.extractor)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got := cfg.Feeds[0].Extractor; got != tt.want {
				t.Errorf("Extractor = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParse_ExtractorStructured(t *testing.T) {
	yaml := `
program: index.star
feeds:
  - key: k
    url: https://example.com
    extractor:
      type: regex
      pattern: "v=(\\d+)"
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := ExtractorConfig{Type: "regex", Pattern: `v=(\d+)`}
	if got := cfg.Feeds[0].Extractor; got != want {
		t.Errorf("Extractor = %+v, want %+v", got, want)
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	t.Setenv("TRANSLUCENT_TEST_HOST", "api.internal")
	t.Setenv("TRANSLUCENT_TEST_TOKEN", "secret")

	yaml := `
program: index.star
feeds:
  - key: k
    url: https://${TRANSLUCENT_TEST_HOST}/price
    headers:
      Authorization: Bearer ${TRANSLUCENT_TEST_TOKEN}
grids:
  - key: g
    url_template: "https://${TRANSLUCENT_TEST_HOST}/{{.x}}"
    dimensions:
      x: ["1"]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Feeds[0].URL != "https://api.internal/price" {
		t.Errorf("URL = %q", cfg.Feeds[0].URL)
	}
	if cfg.Feeds[0].Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization = %q", cfg.Feeds[0].Headers["Authorization"])
	}
	if cfg.Grids[0].URLTemplate != "https://api.internal/{{.x}}" {
		t.Errorf("URLTemplate = %q", cfg.Grids[0].URLTemplate)
	}
}

func TestParse_EnvVarMissing(t *testing.T) {
	yaml := `
program: index.star
feeds:
  - key: k
    url: https://${TRANSLUCENT_TEST_UNSET_VAR}/x
`
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "TRANSLUCENT_TEST_UNSET_VAR") {
		t.Errorf("Parse() error = %v, want error naming the variable", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TRANSLUCENT_TEST_SET", "value")
	t.Setenv("TRANSLUCENT_TEST_EMPTY", "")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"no vars", "plain", "plain", false},
		{"set", "a-${TRANSLUCENT_TEST_SET}-b", "a-value-b", false},
		{"set but empty", "${TRANSLUCENT_TEST_EMPTY:-fallback}", "", false},
		{"default used", "${TRANSLUCENT_TEST_NOPE:-fallback}", "fallback", false},
		{"empty default", "${TRANSLUCENT_TEST_NOPE:-}", "", false},
		{"unset", "${TRANSLUCENT_TEST_NOPE}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expandEnvVars() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "port too high",
			yaml:    "program: p\nport: 70000\n",
			wantErr: "port must be between",
		},
		{
			name:    "poll interval too short",
			yaml:    "program: p\npoll_interval: 500ms\n",
			wantErr: "poll_interval must be at least",
		},
		{
			name:    "feed without key",
			yaml:    "program: p\nfeeds:\n  - url: https://example.com\n",
			wantErr: "key is required",
		},
		{
			name:    "feed without url",
			yaml:    "program: p\nfeeds:\n  - key: k\n",
			wantErr: "url is required",
		},
		{
			name:    "feed url scheme",
			yaml:    "program: p\nfeeds:\n  - key: k\n    url: ftp://example.com\n",
			wantErr: "url scheme must be http or https",
		},
		{
			name:    "feed method",
			yaml:    "program: p\nfeeds:\n  - key: k\n    url: https://example.com\n    method: DELETE\n",
			wantErr: "method must be GET, HEAD, or POST",
		},
		{
			name:    "feed timeout",
			yaml:    "program: p\nfeeds:\n  - key: k\n    url: https://example.com\n    timeout: 100ms\n",
			wantErr: "timeout must be at least 1s",
		},
		{
			name:    "feed interval too long",
			yaml:    "program: p\nfeeds:\n  - key: k\n    url: https://example.com\n    interval: 2h\n",
			wantErr: "interval must not exceed 1h",
		},
		{
			name:    "duplicate feed key",
			yaml:    "program: p\nfeeds:\n  - key: k\n    url: https://a.example.com\n  - key: k\n    url: https://b.example.com\n",
			wantErr: "duplicate feed key",
		},
		{
			name: "grid key collides with feed",
			yaml: `program: p
feeds:
  - key: h.prod
    url: https://example.com
grids:
  - key: h
    url_template: "https://{{.env}}.example.com"
    dimensions:
      env: [prod]
`,
			wantErr: "duplicate feed key",
		},
		{
			name:    "grid without template",
			yaml:    "program: p\ngrids:\n  - key: g\n    dimensions:\n      x: [a]\n",
			wantErr: "url_template is required",
		},
		{
			name:    "grid bad template",
			yaml:    "program: p\ngrids:\n  - key: g\n    url_template: \"https://{{.x\"\n    dimensions:\n      x: [a]\n",
			wantErr: "invalid url_template",
		},
		{
			name:    "grid without dimensions",
			yaml:    "program: p\ngrids:\n  - key: g\n    url_template: https://example.com\n",
			wantErr: "at least one dimension",
		},
		{
			name:    "grid duplicate dimension value",
			yaml:    "program: p\ngrids:\n  - key: g\n    url_template: https://example.com/{{.x}}\n    dimensions:\n      x: [a, a]\n",
			wantErr: "duplicate value",
		},
		{
			name:    "invalid yaml",
			yaml:    "program: [unclosed\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "invalid duration",
			yaml:    "program: p\npoll_interval: soon\n",
			wantErr: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "translucent.yaml")
	yaml := "program: index.star\nstylesheet: /abs/style.css\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Program != filepath.Join(dir, "index.star") {
		t.Errorf("Program = %q, want %q", cfg.Program, filepath.Join(dir, "index.star"))
	}
	if cfg.Stylesheet != "/abs/style.css" {
		t.Errorf("Stylesheet = %q, want absolute path unchanged", cfg.Stylesheet)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Load() error = %v, want read failure", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TRANSLUCENT_PORT", "9191")
	t.Setenv("TRANSLUCENT_TITLE", "From Env")
	t.Setenv("TRANSLUCENT_PROGRAM", "/srv/app.star")
	t.Setenv("TRANSLUCENT_POLL_INTERVAL", "45s")

	cfg, err := Parse([]byte("program: index.star\ntitle: File\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Port)
	}
	if cfg.Title != "From Env" {
		t.Errorf("Title = %q, want From Env", cfg.Title)
	}
	if cfg.Program != "/srv/app.star" {
		t.Errorf("Program = %q, want /srv/app.star", cfg.Program)
	}
	if cfg.PollInterval.Duration() != 45*time.Second {
		t.Errorf("PollInterval = %v, want 45s", cfg.PollInterval.Duration())
	}
}

func TestApplyEnv_UnsetKeepsFile(t *testing.T) {
	cfg, err := Parse([]byte("program: index.star\nport: 7000\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Port)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port not a number", "TRANSLUCENT_PORT", "eighty"},
		{"port out of range", "TRANSLUCENT_PORT", "70000"},
		{"interval too short", "TRANSLUCENT_POLL_INTERVAL", "10ms"},
		{"interval not a duration", "TRANSLUCENT_POLL_INTERVAL", "often"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			cfg, err := Parse([]byte("program: index.star\n"))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if err := ApplyEnv(cfg); err == nil {
				t.Errorf("ApplyEnv() expected error for %s=%s, got nil", tt.key, tt.value)
			}
		})
	}
}
