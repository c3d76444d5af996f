// Package loop provides a single-goroutine event queue.
//
// Channel messages, fetch completions and feed pushes are posted to a
// [Loop] and run one at a time, to completion, in posting order. Handlers
// never run concurrently with each other, so state touched only from the
// loop needs no further locking.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// ErrStopped is returned by [Loop.Do] when the loop is no longer running.
var ErrStopped = errors.New("loop stopped")

// Loop is an unbounded FIFO of handlers drained by [Loop.Run].
//
// Post never blocks, so a handler may post follow-up work to its own loop.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

// New creates an idle [Loop]. Handlers posted before Run are kept.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post queues fn. It reports false if the loop has already stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish.
//
// It returns [ErrStopped] if the loop stops before fn has run.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run drains the queue until ctx is cancelled.
//
// Handlers still queued when ctx is cancelled are discarded. A panicking
// handler is logged with a correlation id and does not stop the loop.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return
			}
			l.runSafe(fn)
		}

		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// runSafe calls fn with panic recovery.
func (l *Loop) runSafe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event handler panic",
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
