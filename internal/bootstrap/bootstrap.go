// Package bootstrap loads the server's program once the channel is ready.
//
// Two prerequisites arrive independently and in any order: the server's
// ready message and the fetched program text. Only when both have arrived
// is the program evaluated, exactly once.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jpalmerr/translucent/internal/barrier"
	"github.com/jpalmerr/translucent/internal/loop"
)

// ErrFetch wraps failures to retrieve the program text.
var ErrFetch = errors.New("fetch program")

// State is the bootstrap lifecycle state.
type State int

const (
	// WaitingBoth means the program has not been evaluated yet.
	WaitingBoth State = iota
	// Loaded means the program evaluated without error.
	Loaded
	// Failed means the program raised during evaluation.
	Failed
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case WaitingBoth:
		return "waiting"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReadySource reports the server's ready signal.
type ReadySource interface {
	OnReady(fn func())
}

// ProgramFetcher retrieves the program text.
type ProgramFetcher interface {
	FetchProgram(ctx context.Context) (string, error)
}

// FetcherFunc adapts a function to [ProgramFetcher].
type FetcherFunc func(ctx context.Context) (string, error)

// FetchProgram calls f.
func (f FetcherFunc) FetchProgram(ctx context.Context) (string, error) {
	return f(ctx)
}

// ProgramLoader evaluates program text.
type ProgramLoader interface {
	Load(ctx context.Context, program string) error
}

// Bootstrap joins the ready signal and the program fetch.
type Bootstrap struct {
	ready  ReadySource
	fetch  ProgramFetcher
	load   ProgramLoader
	loop   *loop.Loop
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	err     error
	started bool

	doneOnce sync.Once
	done     chan struct{}
}

// New creates a [Bootstrap]. Nothing happens until [Bootstrap.Start].
func New(ready ReadySource, fetch ProgramFetcher, load ProgramLoader, lp *loop.Loop, logger *slog.Logger) *Bootstrap {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrap{
		ready:  ready,
		fetch:  fetch,
		load:   load,
		loop:   lp,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start registers for the ready signal and begins fetching the program.
//
// Both arrivals are delivered on the event loop, so the program is
// evaluated there. Start may only be called once.
func (b *Bootstrap) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("bootstrap already started")
	}
	b.started = true
	b.mu.Unlock()

	gate, err := barrier.New(2, func(program string) {
		b.run(ctx, program)
	})
	if err != nil {
		return err
	}

	b.ready.OnReady(gate.Signal)

	go func() {
		program, err := b.fetch.FetchProgram(ctx)
		if err != nil {
			b.logger.Error("program fetch failed", "error", err)
			b.finish(WaitingBoth, fmt.Errorf("%w: %w", ErrFetch, err))
			return
		}
		b.logger.Debug("program fetched", "bytes", len(program))
		b.loop.Post(func() {
			gate.Arrive(program)
		})
	}()

	return nil
}

// State returns the current lifecycle state.
func (b *Bootstrap) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Done is closed once the program has been evaluated or could not be fetched.
func (b *Bootstrap) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the program has been evaluated, the fetch has failed,
// or ctx is done. It returns the evaluation or fetch error, if any.
func (b *Bootstrap) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bootstrap) run(ctx context.Context, program string) {
	if err := b.load.Load(ctx, program); err != nil {
		b.logger.Error("program failed", "error", err)
		b.finish(Failed, err)
		return
	}
	b.logger.Info("program loaded")
	b.finish(Loaded, nil)
}

func (b *Bootstrap) finish(state State, err error) {
	b.doneOnce.Do(func() {
		b.mu.Lock()
		b.state = state
		b.err = err
		b.mu.Unlock()
		close(b.done)
	})
}
