// Package sandbox executes server-supplied program text against a closed
// set of capabilities.
//
// Programs are written in Starlark. They have no ambient access to the
// host: no filesystem, no network, no environment variables. Everything a
// program can use beyond the core language comes from the [Resolver],
// either through a load statement
//
//	load("ui", "render", "get")
//
// or through the predeclared require function
//
//	ui = require("ui")
//	ui.render(lambda env: "hello " + env.get("name", "world"))
//
// Both forms go through the same resolver.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

const (
	defaultMaxSteps = 10_000_000

	// programName is the file name reported in evaluation errors.
	programName = "index.star"

	contextKey = "translucent.context"
)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Transform turns program source into directly executable text.
type Transform func(src string) (string, error)

// Normalize is the default [Transform]. It strips a UTF-8 byte order mark
// and a leading #! line, and converts CRLF line endings to LF.
func Normalize(src string) (string, error) {
	src = strings.TrimPrefix(src, "\ufeff")
	if strings.HasPrefix(src, "#!") {
		if i := strings.IndexByte(src, '\n'); i >= 0 {
			src = src[i+1:]
		} else {
			src = ""
		}
	}
	return strings.ReplaceAll(src, "\r\n", "\n"), nil
}

// loaderConfig holds mutable state during Loader construction.
type loaderConfig struct {
	transform Transform
	logger    *slog.Logger
	maxSteps  uint64
	print     io.Writer
}

// Option configures a [Loader].
type Option func(*loaderConfig)

// WithTransform replaces the default [Normalize] transform.
func WithTransform(t Transform) Option {
	return func(cfg *loaderConfig) {
		if t != nil {
			cfg.transform = t
		}
	}
}

// WithLogger sets the logger used for program output and diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *loaderConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMaxSteps bounds the number of interpreter steps per evaluation.
// Zero keeps the default.
func WithMaxSteps(n uint64) Option {
	return func(cfg *loaderConfig) {
		if n > 0 {
			cfg.maxSteps = n
		}
	}
}

// WithPrint sends program print() output to w instead of the debug log.
func WithPrint(w io.Writer) Option {
	return func(cfg *loaderConfig) {
		cfg.print = w
	}
}

// Loader evaluates program text inside the sandbox.
type Loader struct {
	resolver  *Resolver
	transform Transform
	logger    *slog.Logger
	maxSteps  uint64
	print     io.Writer
}

// NewLoader creates a [Loader] whose programs can reach only resolver.
func NewLoader(resolver *Resolver, opts ...Option) *Loader {
	cfg := &loaderConfig{
		transform: Normalize,
		logger:    slog.Default(),
		maxSteps:  defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Loader{
		resolver:  resolver,
		transform: cfg.transform,
		logger:    cfg.logger,
		maxSteps:  cfg.maxSteps,
		print:     cfg.print,
	}
}

// Load transforms and executes program once.
//
// Errors raised while evaluating the program are returned unmodified
// (a syntax.Error or *starlark.EvalError); the Loader does not retry.
// Transform failures are wrapped.
func (l *Loader) Load(ctx context.Context, program string) error {
	src, err := l.transform(program)
	if err != nil {
		return fmt.Errorf("transform program: %w", err)
	}

	thread := l.NewThread(ctx, "program")
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel("context cancelled")
	})
	defer stop()

	predeclared := starlark.StringDict{
		"require": starlark.NewBuiltin("require", l.require),
	}

	_, err = starlark.ExecFileOptions(fileOptions, thread, programName, src, predeclared)
	return err
}

// NewThread returns a thread wired to the resolver and the loader's print
// and step settings. Capabilities use it to call back into program code.
func (l *Loader) NewThread(ctx context.Context, name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  name,
		Print: l.printFn,
		Load: func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
			return l.resolver.Resolve(threadContext(thread), module)
		},
	}
	thread.SetLocal(contextKey, ctx)
	thread.SetMaxExecutionSteps(l.maxSteps)
	return thread
}

// require is the predeclared form of the resolver. It returns the
// capability as a struct whose fields are its members.
func (l *Loader) require(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	members, err := l.resolver.Resolve(threadContext(thread), name)
	if err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(starlark.String(name), members), nil
}

func (l *Loader) printFn(thread *starlark.Thread, msg string) {
	if l.print != nil {
		fmt.Fprintln(l.print, msg)
		return
	}
	l.logger.Debug("program output", "thread", thread.Name, "message", msg)
}

// threadContext returns the context attached by NewThread.
func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(contextKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}
