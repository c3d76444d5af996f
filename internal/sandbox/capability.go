package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.starlark.net/starlark"
)

// ErrUnknownCapability is returned when a program asks for a capability
// that was never registered.
var ErrUnknownCapability = errors.New("unknown capability")

// Capability is a named set of values a program may obtain from the resolver.
//
// A resident capability sets Members. An optional bundle sets Lazy instead:
// it is loaded the first time a program asks for it, and the result (or the
// error) is reused for every later request. A load that failed because the
// caller's context ended is retried by the next request.
//
// Members are frozen when they are handed to programs, so one program cannot
// change what another one sees.
type Capability struct {
	// Name is the logical name programs use in load() or require().
	Name string

	// Members are the values exposed by a resident capability.
	Members starlark.StringDict

	// Lazy loads the members of an optional bundle.
	Lazy func(ctx context.Context) (starlark.StringDict, error)
}

// Resolver is the closed allowlist of capabilities available to programs.
//
// It is the only path from program text to anything outside the
// interpreter. Names that were not registered explicitly are rejected;
// there is no fallback lookup.
type Resolver struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	capability Capability

	mu      sync.Mutex
	loaded  bool
	members starlark.StringDict
	err     error
}

// NewResolver builds a [Resolver] from explicit registrations.
//
// Returns an error if a name is empty or registered twice, or if a
// capability sets neither or both of Members and Lazy.
func NewResolver(capabilities ...Capability) (*Resolver, error) {
	r := &Resolver{entries: make(map[string]*entry, len(capabilities))}
	for _, c := range capabilities {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds one capability to the allowlist.
func (r *Resolver) Register(c Capability) error {
	if c.Name == "" {
		return errors.New("capability name cannot be empty")
	}
	if (c.Members == nil) == (c.Lazy == nil) {
		return fmt.Errorf("capability %q must set exactly one of Members or Lazy", c.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[c.Name]; exists {
		return fmt.Errorf("duplicate capability: %q", c.Name)
	}
	if c.Members != nil {
		c.Members.Freeze()
	}
	r.entries[c.Name] = &entry{capability: c}
	return nil
}

// Names returns the registered capability names in sorted order.
func (r *Resolver) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the members of the named capability.
//
// For an optional bundle the first call blocks until the bundle has loaded.
func (r *Resolver) Resolve(ctx context.Context, name string) (starlark.StringDict, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}

	if e.capability.Lazy == nil {
		return e.capability.Members, nil
	}

	return e.load(ctx, name)
}

// load runs the lazy loader once. Failures caused by ctx ending are not
// kept.
func (e *entry) load(ctx context.Context, name string) (starlark.StringDict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return e.members, e.err
	}

	members, err := e.capability.Lazy(ctx)
	if err != nil {
		err = fmt.Errorf("load capability %q: %w", name, err)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		members = nil
	}
	members.Freeze()

	e.members, e.err, e.loaded = members, err, true
	return e.members, e.err
}
