package server

import (
	"sort"

	"github.com/jpalmerr/translucent/internal/store"
)

// Scope is the read-only environment an [Expression] evaluates against.
//
// It records which keys the expression reads. A session reruns the
// expression only after one of those keys changes.
type Scope struct {
	env   store.Environment
	reads map[string]struct{}
	all   bool
}

func newScope(env store.Environment) *Scope {
	return &Scope{env: env, reads: make(map[string]struct{})}
}

// Get returns the value stored under key.
func (s *Scope) Get(key string) (any, bool) {
	s.reads[key] = struct{}{}
	v, ok := s.env[key]
	return v, ok
}

// Number returns the value under key as a float64. It reports false if the
// key is unset or not numeric.
func (s *Scope) Number(key string) (float64, bool) {
	v, _ := s.Get(key)
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// String returns the value under key if it is a string.
func (s *Scope) String(key string) (string, bool) {
	v, _ := s.Get(key)
	str, ok := v.(string)
	return str, ok
}

// Keys returns every key in sorted order. An expression that lists the
// keys depends on all of them.
func (s *Scope) Keys() []string {
	s.all = true
	keys := make([]string, 0, len(s.env))
	for k := range s.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the whole environment. Like [Scope.Keys] it
// makes the expression depend on every key.
func (s *Scope) Snapshot() store.Environment {
	s.all = true
	return s.env.Clone()
}

// dependsOn reports whether the last evaluation read key.
func (s *Scope) dependsOn(key string) bool {
	if s.all {
		return true
	}
	_, ok := s.reads[key]
	return ok
}

// release drops the environment once evaluation is over. Only the recorded
// reads are kept.
func (s *Scope) release() {
	s.env = nil
}
