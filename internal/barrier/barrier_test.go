package barrier

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNew_InvalidThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
	}{
		{"zero", 0},
		{"negative", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.threshold, func(string) {})
			if !errors.Is(err, ErrInvalidThreshold) {
				t.Errorf("New(%d) error = %v, want %v", tt.threshold, err, ErrInvalidThreshold)
			}
		})
	}
}

func TestNew_NilContinuation(t *testing.T) {
	if _, err := New[string](1, nil); err == nil {
		t.Error("New() with nil continuation should return error")
	}
}

func TestBarrier_FiresOnceAtThreshold(t *testing.T) {
	calls := 0
	b, err := New(2, func(string) { calls++ })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	b.Arrive("a")
	if calls != 0 {
		t.Fatalf("continuation called after 1 arrival, want 0 calls")
	}
	if b.Fired() {
		t.Error("Fired() = true before threshold")
	}

	b.Arrive("b")
	if calls != 1 {
		t.Fatalf("calls = %d after 2 arrivals, want 1", calls)
	}

	// a third arrival must not re-invoke
	b.Arrive("c")
	b.Signal()
	if calls != 1 {
		t.Errorf("calls = %d after extra arrivals, want 1", calls)
	}
	if !b.Fired() {
		t.Error("Fired() = false after threshold")
	}
}

func TestBarrier_FirstPayloadWins(t *testing.T) {
	var got string
	b, _ := New(2, func(s string) { got = s })

	b.Arrive("A")
	b.Arrive("B")

	if got != "A" {
		t.Errorf("continuation payload = %q, want %q", got, "A")
	}
}

func TestBarrier_SignalDoesNotRecordPayload(t *testing.T) {
	tests := []struct {
		name   string
		arrive func(b *Barrier[string])
	}{
		{
			name: "signal first",
			arrive: func(b *Barrier[string]) {
				b.Signal()
				b.Arrive("render()")
			},
		},
		{
			name: "payload first",
			arrive: func(b *Barrier[string]) {
				b.Arrive("render()")
				b.Signal()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			calls := 0
			b, _ := New(2, func(s string) {
				got = s
				calls++
			})

			tt.arrive(b)

			if calls != 1 {
				t.Fatalf("calls = %d, want 1", calls)
			}
			if got != "render()" {
				t.Errorf("payload = %q, want %q", got, "render()")
			}
		})
	}
}

func TestBarrier_ThresholdOne(t *testing.T) {
	var got int
	b, _ := New(1, func(n int) { got = n })

	b.Arrive(7)

	if got != 7 {
		t.Errorf("payload = %d, want 7", got)
	}
}

func TestBarrier_ConcurrentArrivals(t *testing.T) {
	var calls atomic.Int32
	b, _ := New(50, func(int) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.Arrive(n)
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
