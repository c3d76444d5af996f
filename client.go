package translucent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jpalmerr/translucent/internal/bootstrap"
	"github.com/jpalmerr/translucent/internal/connection"
	"github.com/jpalmerr/translucent/internal/fetch"
	"github.com/jpalmerr/translucent/internal/loop"
	"github.com/jpalmerr/translucent/internal/sandbox"
	"github.com/jpalmerr/translucent/internal/store"
	"github.com/jpalmerr/translucent/internal/view"
)

const (
	defaultProgramPath  = "/index.star"
	defaultFetchTimeout = 10 * time.Second
)

// ErrNotRunning is returned by [Client.Connection] before [Client.Run].
var ErrNotRunning = errors.New("client is not running")

// Capability is a named set of bindings programs can load.
//
// Exactly one of Members (resident) or Lazy (loaded on first use) must be
// set.
type Capability = sandbox.Capability

// Transform turns fetched program text into executable source.
type Transform = sandbox.Transform

// Channel is the client's view of its connection to the server.
type Channel interface {
	// OnReady runs fn once the server has finished initializing the
	// session, or immediately if it already has.
	OnReady(fn func())
	HandshakeComplete() bool
	Done() <-chan struct{}
	Err() error
	Close() error
}

// clientConfig holds mutable state during Client construction.
type clientConfig struct {
	logger       *slog.Logger
	out          io.Writer
	transform    Transform
	capabilities []Capability
	programPath  string
	fetchTimeout time.Duration
	maxSteps     uint64
}

// ClientOption configures a [Client] during construction.
type ClientOption func(*clientConfig) error

// WithClientLogger sets the client's [slog.Logger].
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithOutput sets where rendered views and print output go. Defaults to
// os.Stdout.
func WithOutput(w io.Writer) ClientOption {
	return func(cfg *clientConfig) error {
		if w == nil {
			return errors.New("output cannot be nil")
		}
		cfg.out = w
		return nil
	}
}

// WithTransform replaces the default source normalization.
func WithTransform(t Transform) ClientOption {
	return func(cfg *clientConfig) error {
		if t == nil {
			return errors.New("transform cannot be nil")
		}
		cfg.transform = t
		return nil
	}
}

// WithCapability makes an extra capability available to programs.
func WithCapability(c Capability) ClientOption {
	return func(cfg *clientConfig) error {
		cfg.capabilities = append(cfg.capabilities, c)
		return nil
	}
}

// WithProgramPath sets the path the program is fetched from. Defaults to
// "/index.star".
func WithProgramPath(path string) ClientOption {
	return func(cfg *clientConfig) error {
		if !strings.HasPrefix(path, "/") {
			return errors.New("program path must start with /")
		}
		cfg.programPath = path
		return nil
	}
}

// WithFetchTimeout bounds the program fetch. Defaults to 10 seconds.
func WithFetchTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) error {
		if d <= 0 {
			return errors.New("fetch timeout must be positive")
		}
		cfg.fetchTimeout = d
		return nil
	}
}

// WithMaxSteps bounds the interpreter steps the program may take.
func WithMaxSteps(n uint64) ClientOption {
	return func(cfg *clientConfig) error {
		if n == 0 {
			return errors.New("max steps must be positive")
		}
		cfg.maxSteps = n
		return nil
	}
}

// Client connects to an [App], keeps a local copy of the environment in
// sync and runs the served program.
//
// A Client runs once; create a new one to reconnect.
type Client struct {
	baseURL      string
	programURL   string
	logger       *slog.Logger
	out          io.Writer
	transform    Transform
	capabilities []Capability
	fetchTimeout time.Duration
	maxSteps     uint64

	fetcher *fetch.Client
	loop    *loop.Loop
	store   *store.MemoryStore
	connect func() (*connection.Connection, error)

	mu      sync.Mutex
	ctx     context.Context
	running bool
}

// NewClient creates a [Client] for the server at baseURL.
//
// Returns an error if baseURL is not an http(s) URL or an option is invalid.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base URL must be http(s)://host, got %q", baseURL)
	}

	cfg := &clientConfig{
		out:          os.Stdout,
		programPath:  defaultProgramPath,
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	base := strings.TrimSuffix(baseURL, "/")
	c := &Client{
		baseURL:      base,
		programURL:   base + cfg.programPath,
		logger:       logger,
		out:          cfg.out,
		transform:    cfg.transform,
		capabilities: cfg.capabilities,
		fetchTimeout: cfg.fetchTimeout,
		maxSteps:     cfg.maxSteps,
		fetcher:      fetch.NewClient(),
		loop:         loop.New(logger),
		store:        store.NewMemoryStore(nil),
	}
	c.connect = sync.OnceValues(func() (*connection.Connection, error) {
		c.mu.Lock()
		ctx := c.ctx
		c.mu.Unlock()
		return connection.Dial(ctx, c.baseURL, c.store, c.loop, c.logger)
	})
	return c, nil
}

// Connection returns the client's channel, dialing it on first use.
//
// There is one channel per client: every call returns the same instance
// (or the same dial error). Returns [ErrNotRunning] before [Client.Run].
func (c *Client) Connection() (Channel, error) {
	c.mu.Lock()
	running := c.ctx != nil
	c.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}

	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Environment returns a snapshot of the client's environment.
func (c *Client) Environment() Environment {
	return c.store.Current()
}

// Set updates a key locally; the change is sent to the server. It reports
// false if the client has stopped.
func (c *Client) Set(key string, value any) bool {
	return c.loop.Post(func() {
		c.store.Update(key, value, store.Local)
	})
}

// Run connects, fetches and runs the program, and keeps the environment
// synchronized until ctx is cancelled.
//
// Run returns nil when ctx is cancelled, the evaluation error if the
// program fails, the fetch error if the program cannot be retrieved, or
// an error when the channel drops. A dropped channel is not retried.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		cancel()
		return errors.New("client already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	go c.loop.Run(ctx)
	defer func() {
		cancel()
		<-c.loop.Done()
		c.fetcher.Close()
	}()

	ch, err := c.Connection()
	if err != nil {
		return err
	}
	defer ch.Close()

	adapter := view.New(ctx, c.store, c.out, c.logger)
	defer adapter.Close()

	loader, err := c.newLoader(adapter)
	if err != nil {
		return err
	}

	fetcher := bootstrap.FetcherFunc(func(ctx context.Context) (string, error) {
		return c.fetcher.Text(ctx, c.programURL, c.fetchTimeout)
	})
	boot := bootstrap.New(ch, fetcher, loader, c.loop, c.logger)
	if err := boot.Start(ctx); err != nil {
		return err
	}

	bootDone := boot.Done()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ch.Done():
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("channel closed: %w", ch.Err())

		case <-bootDone:
			bootDone = nil
			if err := boot.Wait(ctx); err != nil {
				return err
			}
		}
	}
}

// newLoader builds the sandbox: the view, the standard bundles and any
// capabilities added with [WithCapability].
func (c *Client) newLoader(adapter *view.Adapter) (*sandbox.Loader, error) {
	caps := []sandbox.Capability{
		adapter.Capability(),
		sandbox.JSONCapability(),
		sandbox.MathCapability(),
		sandbox.TimeCapability(),
		sandbox.UtilsCapability(),
	}
	caps = append(caps, c.capabilities...)

	resolver, err := sandbox.NewResolver(caps...)
	if err != nil {
		return nil, fmt.Errorf("build capabilities: %w", err)
	}

	opts := []sandbox.Option{
		sandbox.WithLogger(c.logger),
		sandbox.WithPrint(c.out),
		sandbox.WithMaxSteps(c.maxSteps),
	}
	if c.transform != nil {
		opts = append(opts, sandbox.WithTransform(c.transform))
	}
	return sandbox.NewLoader(resolver, opts...), nil
}
