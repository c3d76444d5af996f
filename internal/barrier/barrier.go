// Package barrier provides a fire-once-after-N-arrivals synchronization primitive.
//
// A [Barrier] joins several independent asynchronous prerequisites: each
// prerequisite arrives once, and when the configured number of arrivals has
// been reached the continuation runs exactly once with the first payload
// that was recorded.
package barrier

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidThreshold is returned by [New] when the threshold is not positive.
var ErrInvalidThreshold = errors.New("barrier threshold must be positive")

// Barrier counts arrivals and fires its continuation once.
//
// A Barrier is terminal after firing and must not be reused.
type Barrier[T any] struct {
	mu           sync.Mutex
	threshold    int
	arrivals     int
	payload      T
	hasPayload   bool
	fired        bool
	continuation func(T)
}

// New creates a [Barrier] that calls continuation after threshold arrivals.
func New[T any](threshold int, continuation func(T)) (*Barrier[T], error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidThreshold, threshold)
	}
	if continuation == nil {
		return nil, errors.New("barrier continuation cannot be nil")
	}
	return &Barrier[T]{
		threshold:    threshold,
		continuation: continuation,
	}, nil
}

// Arrive counts one arrival carrying payload.
//
// The payload is kept only if no earlier arrival recorded one; later
// payloads are discarded even when they differ.
func (b *Barrier[T]) Arrive(payload T) {
	b.arrive(payload, true)
}

// Signal counts one arrival without a payload.
func (b *Barrier[T]) Signal() {
	var zero T
	b.arrive(zero, false)
}

// Fired reports whether the continuation has been invoked.
func (b *Barrier[T]) Fired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fired
}

func (b *Barrier[T]) arrive(payload T, hasPayload bool) {
	b.mu.Lock()
	if b.fired {
		b.mu.Unlock()
		return
	}
	b.arrivals++
	if hasPayload && !b.hasPayload {
		b.payload = payload
		b.hasPayload = true
	}
	if b.arrivals < b.threshold {
		b.mu.Unlock()
		return
	}
	b.fired = true
	first := b.payload
	b.mu.Unlock()

	b.continuation(first)
}
