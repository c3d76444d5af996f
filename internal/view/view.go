// Package view connects a program's render function to the environment.
//
// The [Adapter] exposes the "ui" capability to programs:
//
//	load("ui", "render", "get", "set")
//
//	def page(env):
//	    return "theme: " + env.get("theme", "light")
//
//	render(page)
//
// After render is called, and after every accepted environment update,
// the adapter calls the render function with the current environment and
// writes the result to its output. The adapter reads the store only through
// Current and Subscribe, and writes only through Update with local origin.
package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/jpalmerr/translucent/internal/sandbox"
	"github.com/jpalmerr/translucent/internal/store"
	"go.starlark.net/starlark"
)

// CapabilityName is the name programs use to load the adapter's bindings.
const CapabilityName = "ui"

// maxRenderSteps bounds a single call of the render function.
const maxRenderSteps = 1_000_000

// Adapter renders a program's view whenever the environment changes.
type Adapter struct {
	ctx    context.Context
	store  store.Store
	out    io.Writer
	logger *slog.Logger

	mu      sync.Mutex
	render  starlark.Callable
	print   func(*starlark.Thread, string)
	sub     *store.Subscription
	renders int
	closed  bool
}

// New creates an [Adapter] that writes rendered output to out.
func New(ctx context.Context, st store.Store, out io.Writer, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		ctx:    ctx,
		store:  st,
		out:    out,
		logger: logger,
	}
}

// Capability returns the resident "ui" capability bound to this adapter.
func (a *Adapter) Capability() sandbox.Capability {
	return sandbox.Capability{
		Name: CapabilityName,
		Members: starlark.StringDict{
			"render": starlark.NewBuiltin("render", a.builtinRender),
			"get":    starlark.NewBuiltin("get", a.builtinGet),
			"set":    starlark.NewBuiltin("set", a.builtinSet),
			"keys":   starlark.NewBuiltin("keys", a.builtinKeys),
		},
	}
}

// Renders returns how many times the render function has produced output.
func (a *Adapter) Renders() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.renders
}

// Close stops re-rendering. Safe to call multiple times.
func (a *Adapter) Close() {
	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	a.closed = true
	a.mu.Unlock()

	a.store.Unsubscribe(sub)
}

// Render calls the registered render function with the current environment.
// It is a no-op until a program has called render.
func (a *Adapter) Render() error {
	return a.renderEnv(a.store.Current())
}

func (a *Adapter) renderEnv(env store.Environment) error {
	a.mu.Lock()
	fn := a.render
	printFn := a.print
	closed := a.closed
	a.mu.Unlock()
	if fn == nil || closed {
		return nil
	}

	arg, err := sandbox.ToStarlark(map[string]any(env))
	if err != nil {
		return fmt.Errorf("convert environment: %w", err)
	}

	// render functions run outside the program's top level, where load
	// statements are not allowed, so the thread needs no resolver
	thread := &starlark.Thread{Name: "render", Print: printFn}
	thread.SetMaxExecutionSteps(maxRenderSteps)
	stop := context.AfterFunc(a.ctx, func() {
		thread.Cancel("context cancelled")
	})
	defer stop()

	result, err := starlark.Call(thread, fn, starlark.Tuple{arg}, nil)
	if err != nil {
		return err
	}

	text := result.String()
	if s, ok := result.(starlark.String); ok {
		text = string(s)
	}
	if _, err := fmt.Fprintln(a.out, text); err != nil {
		return fmt.Errorf("write render output: %w", err)
	}

	a.mu.Lock()
	a.renders++
	a.mu.Unlock()
	return nil
}

// onUpdate re-renders after an accepted mutation.
func (a *Adapter) onUpdate(env store.Environment, rec store.UpdateRecord) {
	if err := a.renderEnv(env); err != nil {
		a.logger.Error("render failed",
			"key", rec.Key,
			"origin", rec.Origin.String(),
			"error", err,
		)
	}
}

func (a *Adapter) builtinRender(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, errors.New("render: view is closed")
	}
	a.render = fn
	a.print = thread.Print
	subscribe := a.sub == nil
	a.mu.Unlock()

	if subscribe {
		sub := a.store.Subscribe(a.onUpdate)
		a.mu.Lock()
		a.sub = sub
		a.mu.Unlock()
	}

	if err := a.Render(); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (a *Adapter) builtinGet(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "default?", &def); err != nil {
		return nil, err
	}

	value, ok := a.store.Current()[key]
	if !ok {
		return def, nil
	}
	return sandbox.ToStarlark(value)
}

func (a *Adapter) builtinSet(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &key, &value); err != nil {
		return nil, err
	}

	data, err := sandbox.FromStarlark(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Bool(a.store.Update(key, data, store.Local)), nil
}

func (a *Adapter) builtinKeys(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}

	env := a.store.Current()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	elems := make([]starlark.Value, len(keys))
	for i, k := range keys {
		elems[i] = starlark.String(k)
	}
	return starlark.NewList(elems), nil
}
