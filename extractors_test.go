package translucent

import (
	"errors"
	"reflect"
	"testing"
)

func TestStatusCodeExtractor(t *testing.T) {
	got, err := StatusCodeExtractor(nil, 503)
	if err != nil {
		t.Fatalf("StatusCodeExtractor() error = %v", err)
	}
	if got != 503.0 {
		t.Errorf("StatusCodeExtractor() = %v, want 503", got)
	}
}

func TestTextExtractor(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		statusCode int
		want       any
		wantErr    bool
	}{
		{"trims", "  ready \n", 200, "ready", false},
		{"empty body", "", 204, "", false},
		{"server error", "boom", 500, nil, true},
		{"redirect", "moved", 301, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TextExtractor([]byte(tt.body), tt.statusCode)
			if (err != nil) != tt.wantErr {
				t.Fatalf("TextExtractor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("TextExtractor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJSONExtractor(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    any
		wantErr bool
	}{
		{"object", `{"a": 1, "b": [true, null]}`, map[string]any{"a": 1.0, "b": []any{true, nil}}, false},
		{"number", `42`, 42.0, false},
		{"string", `"hi"`, "hi", false},
		{"invalid", `{not json`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JSONExtractor([]byte(tt.body), 200)
			if (err != nil) != tt.wantErr {
				t.Fatalf("JSONExtractor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("JSONExtractor() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestJSONExtractor_NonSuccess(t *testing.T) {
	if _, err := JSONExtractor([]byte(`{}`), 404); err == nil {
		t.Error("JSONExtractor() expected error for 404, got nil")
	}
}

func TestJSONFieldExtractor(t *testing.T) {
	body := []byte(`{"data": {"health": "ok", "count": 3, "tags": ["a"]}, "flat": false}`)

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr error
	}{
		{"nested string", "data.health", "ok", nil},
		{"nested number", "data.count", 3.0, nil},
		{"array", "data.tags", []any{"a"}, nil},
		{"top level false", "flat", false, nil},
		{"missing", "data.missing", nil, ErrNoValue},
		{"through scalar", "flat.x", nil, ErrNoValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JSONFieldExtractor(tt.path)(body, 200)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("JSONFieldExtractor(%q) = %#v, want %#v", tt.path, got, tt.want)
			}
		})
	}
}

func TestRegexExtractor(t *testing.T) {
	extractor, err := RegexExtractor(`depth:\s*(\d+)`)
	if err != nil {
		t.Fatalf("RegexExtractor() error = %v", err)
	}

	got, err := extractor([]byte("queue depth: 42"), 200)
	if err != nil {
		t.Fatalf("extractor() error = %v", err)
	}
	if got != "42" {
		t.Errorf("extractor() = %v, want %q", got, "42")
	}

	if _, err := extractor([]byte("nothing here"), 200); !errors.Is(err, ErrNoValue) {
		t.Errorf("extractor() error = %v, want ErrNoValue", err)
	}
}

func TestRegexExtractor_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{"bad syntax", `(`},
		{"no capture group", `depth: \d+`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RegexExtractor(tt.pattern); err == nil {
				t.Errorf("RegexExtractor(%q) expected error, got nil", tt.pattern)
			}
		})
	}
}

func TestMustRegexExtractor_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustRegexExtractor() should panic for invalid pattern")
		}
	}()
	MustRegexExtractor(`(`)
}

func TestFirstMatch(t *testing.T) {
	extractor := FirstMatch(JSONFieldExtractor("price"), TextExtractor)

	got, err := extractor([]byte(`{"price": 9.5}`), 200)
	if err != nil || got != 9.5 {
		t.Errorf("FirstMatch() = %v, %v; want 9.5, nil", got, err)
	}

	got, err = extractor([]byte("plain"), 200)
	if err != nil || got != "plain" {
		t.Errorf("FirstMatch() = %v, %v; want plain, nil", got, err)
	}
}

func TestFirstMatch_AllFail(t *testing.T) {
	extractor := FirstMatch(JSONFieldExtractor("a"), JSONFieldExtractor("b"))

	if _, err := extractor([]byte(`{}`), 200); !errors.Is(err, ErrNoValue) {
		t.Errorf("FirstMatch() error = %v, want ErrNoValue", err)
	}
}

func TestFirstMatch_Empty(t *testing.T) {
	if _, err := FirstMatch()(nil, 200); !errors.Is(err, ErrNoValue) {
		t.Errorf("FirstMatch() error = %v, want ErrNoValue", err)
	}
}

func TestDefaultExtractor(t *testing.T) {
	got, err := DefaultExtractor([]byte(`[1, 2]`), 200)
	if err != nil || !reflect.DeepEqual(got, []any{1.0, 2.0}) {
		t.Errorf("DefaultExtractor(JSON) = %v, %v", got, err)
	}

	got, err = DefaultExtractor([]byte(" up \n"), 200)
	if err != nil || got != "up" {
		t.Errorf("DefaultExtractor(text) = %v, %v", got, err)
	}

	if _, err := DefaultExtractor([]byte("down"), 503); err == nil {
		t.Error("DefaultExtractor() expected error for 503, got nil")
	}
}
