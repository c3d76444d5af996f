package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// collect reads n results or fails after a timeout.
func collect(t *testing.T, s *Scheduler, n int) map[string]Result {
	t.Helper()
	got := make(map[string]Result, n)
	timeout := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case r, ok := <-s.Results():
			if !ok {
				t.Fatalf("results closed after %d of %d", len(got), n)
			}
			got[r.Key] = r
		case <-timeout:
			t.Fatalf("timed out after %d of %d results", len(got), n)
		}
	}
	return got
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	s := NewScheduler([]FeedInfo{{Key: "k", URL: "http://127.0.0.1:1", Timeout: time.Second}}, time.Minute, 1, testLogger())
	s.Stop()

	if _, ok := <-s.Results(); ok {
		t.Error("Results() still open after Stop()")
	}
}

func TestScheduler_StopTwice(t *testing.T) {
	srv := textServer(t, http.StatusOK, "v")
	s := NewScheduler([]FeedInfo{{Key: "k", URL: srv.URL, Timeout: time.Second}}, time.Minute, 1, testLogger())
	s.Start(context.Background())

	go func() {
		for range s.Results() {
		}
	}()

	s.Stop()
	s.Stop()
}

func TestScheduler_StopBeforeStartThenStart(t *testing.T) {
	s := NewScheduler(nil, time.Minute, 1, testLogger())
	s.Stop()
	s.Start(context.Background())
	s.Stop()
}

func TestScheduler_ConcurrentStartStop(t *testing.T) {
	feeds := []FeedInfo{{Key: "k", URL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond}}

	for i := 0; i < 50; i++ {
		s := NewScheduler(feeds, time.Minute, 1, testLogger())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			s.Stop()
		}()
		wg.Wait()

		for range s.Results() {
		}
	}
}

func TestScheduler_ImmediatePollOnStart(t *testing.T) {
	srv := textServer(t, http.StatusOK, "  42\n")
	feeds := []FeedInfo{
		{Key: "a", URL: srv.URL, Timeout: time.Second},
		{Key: "b", URL: srv.URL, Timeout: time.Second},
	}

	s := NewScheduler(feeds, time.Hour, 2, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	got := collect(t, s, 2)
	for _, key := range []string{"a", "b"} {
		r := got[key]
		if r.Error != nil {
			t.Errorf("result %s error = %v", key, r.Error)
		}
		if r.Value != "42" {
			t.Errorf("result %s value = %v, want 42", key, r.Value)
		}
		if r.StatusCode != http.StatusOK {
			t.Errorf("result %s status = %d, want 200", key, r.StatusCode)
		}
	}
}

func TestScheduler_DefaultExtractionRejectsErrorStatus(t *testing.T) {
	srv := textServer(t, http.StatusServiceUnavailable, "down")
	s := NewScheduler([]FeedInfo{{Key: "k", URL: srv.URL, Timeout: time.Second}}, time.Hour, 1, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	r := collect(t, s, 1)["k"]
	if r.Error == nil {
		t.Fatal("Error = nil for 503, want error")
	}
	if r.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", r.StatusCode)
	}
}

func TestScheduler_RequestFailure(t *testing.T) {
	srv := textServer(t, http.StatusOK, "")
	url := srv.URL
	srv.Close()

	s := NewScheduler([]FeedInfo{{Key: "k", URL: url, Timeout: time.Second}}, time.Hour, 1, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	r := collect(t, s, 1)["k"]
	if r.Error == nil {
		t.Error("Error = nil for unreachable feed, want error")
	}
	if r.Value != nil {
		t.Errorf("Value = %v, want nil", r.Value)
	}
}

func TestScheduler_CustomExtractor(t *testing.T) {
	srv := textServer(t, http.StatusOK, "a,b,c")
	feed := FeedInfo{
		Key:     "parts",
		URL:     srv.URL,
		Timeout: time.Second,
		Extractor: func(body []byte, statusCode int) (any, error) {
			return float64(len(strings.Split(string(body), ","))), nil
		},
	}

	s := NewScheduler([]FeedInfo{feed}, time.Hour, 1, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	if r := collect(t, s, 1)["parts"]; r.Value != 3.0 {
		t.Errorf("Value = %v, want 3", r.Value)
	}
}

func TestScheduler_ExtractorPanicRecovery(t *testing.T) {
	srv := textServer(t, http.StatusOK, "ok")
	feeds := []FeedInfo{
		{
			Key:     "bad",
			URL:     srv.URL,
			Timeout: time.Second,
			Extractor: func([]byte, int) (any, error) {
				panic("extractor exploded")
			},
		},
		{Key: "good", URL: srv.URL, Timeout: time.Second},
	}

	s := NewScheduler(feeds, time.Hour, 2, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	got := collect(t, s, 2)
	if err := got["bad"].Error; err == nil || !strings.Contains(err.Error(), "correlation_id") {
		t.Errorf("bad feed error = %v, want panic error with correlation_id", err)
	}
	if got["good"].Error != nil || got["good"].Value != "ok" {
		t.Errorf("good feed = %+v, want value ok", got["good"])
	}
}

func TestScheduler_GCDCalculation(t *testing.T) {
	tests := []struct {
		name      string
		global    time.Duration
		intervals []time.Duration
		want      time.Duration
	}{
		{"single feed uses its interval", time.Minute, []time.Duration{10 * time.Second}, 10 * time.Second},
		{"gcd of two", time.Minute, []time.Duration{10 * time.Second, 15 * time.Second}, 5 * time.Second},
		{"zero uses global", 30 * time.Second, []time.Duration{0, 20 * time.Second}, 10 * time.Second},
		{"floored at one second", time.Minute, []time.Duration{300 * time.Millisecond}, time.Second},
		{"coprime seconds", time.Minute, []time.Duration{7 * time.Second, 3 * time.Second}, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feeds := make([]FeedInfo, len(tt.intervals))
			for i, iv := range tt.intervals {
				feeds[i] = FeedInfo{Key: string(rune('a' + i)), Interval: iv}
			}
			s := NewScheduler(feeds, tt.global, 1, testLogger())
			if got := s.calculateBaseInterval(); got != tt.want {
				t.Errorf("calculateBaseInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduler_GCDCalculation_NoFeeds(t *testing.T) {
	s := NewScheduler(nil, 42*time.Second, 1, testLogger())
	if got := s.calculateBaseInterval(); got != 42*time.Second {
		t.Errorf("calculateBaseInterval() = %v, want %v", got, 42*time.Second)
	}
}

func TestScheduler_ContextCancellation(t *testing.T) {
	srv := textServer(t, http.StatusOK, "v")
	ctx, cancel := context.WithCancel(context.Background())

	s := NewScheduler([]FeedInfo{{Key: "k", URL: srv.URL, Timeout: time.Second}}, time.Minute, 1, testLogger())
	s.Start(ctx)
	go func() {
		for range s.Results() {
		}
	}()

	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after context cancellation")
	}
}
