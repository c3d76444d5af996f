package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of polling one feed.
type Result struct {
	// Key is the environment key the value is published under.
	Key string

	URL string

	// Value is the extracted value. It is meaningless when Error is set.
	Value any

	Latency    time.Duration
	CheckedAt  time.Time
	StatusCode int
	Error      error
}

// ValueExtractor turns a response into an environment value.
//
// This is the internal form of the root package's extractor type, kept
// separate to avoid an import cycle.
type ValueExtractor func(body []byte, statusCode int) (any, error)

// FeedInfo describes one feed to poll.
type FeedInfo struct {
	Key     string
	URL     string
	Method  string
	Headers map[string]string
	Timeout time.Duration

	// Extractor turns the response into a value. If nil, 2xx bodies are
	// published as trimmed text and other statuses are errors.
	Extractor ValueExtractor

	// Interval overrides the scheduler's default interval when non-zero.
	Interval time.Duration
}

// Scheduler polls feeds periodically with bounded concurrency.
//
// All feeds are polled immediately on start. Afterwards the scheduler
// ticks at the GCD of the feed intervals and polls only feeds that are
// due. Results are emitted on [Scheduler.Results].
type Scheduler struct {
	feeds          []FeedInfo
	interval       time.Duration
	maxConcurrency int
	client         *Client
	results        chan Result
	logger         *slog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	mu        sync.Mutex
	started   bool
	stopped   bool
	closeOnce sync.Once

	lastPolledAt map[string]time.Time
	baseInterval time.Duration
}

// NewScheduler creates a [Scheduler]. It must be started with
// [Scheduler.Start] and stopped with [Scheduler.Stop].
func NewScheduler(feeds []FeedInfo, interval time.Duration, maxConcurrency int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Scheduler{
		feeds:          feeds,
		interval:       interval,
		maxConcurrency: maxConcurrency,
		client:         NewClient(),
		results:        make(chan Result, len(feeds)),
		logger:         logger,
	}
}

// Results emits one [Result] per poll. It is closed when the scheduler stops.
func (s *Scheduler) Results() <-chan Result {
	return s.results
}

// calculateBaseInterval returns the GCD of all feed intervals, floored at
// one second.
func (s *Scheduler) calculateBaseInterval() time.Duration {
	if len(s.feeds) == 0 {
		return s.interval
	}

	result := s.intervalFor(s.feeds[0])
	for _, f := range s.feeds[1:] {
		result = gcdDuration(result, s.intervalFor(f))
	}

	if result < time.Second {
		result = time.Second
	}
	return result
}

func (s *Scheduler) intervalFor(f FeedInfo) time.Duration {
	if f.Interval > 0 {
		return f.Interval
	}
	return s.interval
}

func gcdDuration(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Start begins polling in a background goroutine and returns immediately.
//
// Start is idempotent, and a no-op after Stop. A nil ctx means
// context.Background().
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.lastPolledAt = make(map[string]time.Time, len(s.feeds))
	s.baseInterval = s.calculateBaseInterval()

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	pollCtx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.closeOnce.Do(func() { close(s.results) })

		s.pollDueFeeds(pollCtx, true)

		ticker := time.NewTicker(s.baseInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				s.pollDueFeeds(pollCtx, false)
			}
		}
	}()
}

// Stop cancels polling and waits for in-flight requests. The results
// channel is closed when Stop returns. Safe to call multiple times, and
// before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.client.Close()
	s.closeOnce.Do(func() { close(s.results) })
}

// pollDueFeeds polls feeds whose interval has elapsed, or every feed when
// immediate is set.
//
// lastPolledAt records when a poll starts, so a slow feed's effective
// interval is its configured interval plus the poll duration.
func (s *Scheduler) pollDueFeeds(ctx context.Context, immediate bool) {
	now := time.Now()
	due := make([]FeedInfo, 0, len(s.feeds))

	s.mu.Lock()
	for _, f := range s.feeds {
		last, exists := s.lastPolledAt[f.Key]
		if immediate || !exists || now.Sub(last) >= s.intervalFor(f) {
			due = append(due, f)
			s.lastPolledAt[f.Key] = now
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}
	s.pollFeeds(ctx, due)
}

// pollFeeds polls feeds concurrently, at most maxConcurrency at a time.
func (s *Scheduler) pollFeeds(ctx context.Context, feeds []FeedInfo) {
	jobs := make(chan FeedInfo, len(feeds))

	var wg sync.WaitGroup
	for i := 0; i < s.maxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				result := s.pollFeed(ctx, f)
				select {
				case s.results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, f := range feeds {
		select {
		case jobs <- f:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)

	wg.Wait()
}

func (s *Scheduler) pollFeed(ctx context.Context, f FeedInfo) Result {
	resp := s.client.Fetch(ctx, f.Method, f.URL, f.Headers, f.Timeout)

	result := Result{
		Key:        f.Key,
		URL:        f.URL,
		Latency:    resp.Latency,
		CheckedAt:  time.Now(),
		StatusCode: resp.StatusCode,
		Error:      resp.Error,
	}
	if resp.Error != nil {
		return result
	}

	extractor := f.Extractor
	if extractor == nil {
		extractor = extractText
	}
	result.Value, result.Error = s.safeExtract(extractor, resp.Body, resp.StatusCode)
	return result
}

// safeExtract calls the extractor with panic recovery. A panic is logged
// with a correlation id, which is also returned in the error.
func (s *Scheduler) safeExtract(extractor ValueExtractor, body []byte, statusCode int) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("extractor panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			value = nil
			err = fmt.Errorf("extractor panic (correlation_id: %s)", correlationID)
		}
	}()
	return extractor(body, statusCode)
}

func extractText(body []byte, statusCode int) (any, error) {
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", statusCode)
	}
	return strings.TrimSpace(string(body)), nil
}
