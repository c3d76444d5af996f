// Package translucent pushes live programs and live data into running clients.
//
// A translucent [App] serves a Starlark program together with a shared
// key/value environment. Each connected [Client] keeps its own copy of the
// environment synchronized with the server over a websocket, waits until
// both the server's ready signal and the program text have arrived, and
// then runs the program in a sandbox whose only access to the world is a
// closed set of capabilities. The program registers a view that is
// re-rendered every time the environment changes.
//
// # Quick Start
//
// Serve a program with a seeded value and a polled feed:
//
//	feed, _ := translucent.NewFeed("weather", "https://api.example.com/weather",
//	    translucent.WithExtractor(translucent.JSONFieldExtractor("current.temp")),
//	)
//	app, _ := translucent.New(
//	    translucent.WithProgram(`
//	load("ui", "render")
//	render(lambda env: "%s degrees" % env.get("weather", "?"))
//	`),
//	    translucent.WithValue("unit", "C"),
//	    translucent.WithFeed(feed),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	app.Start(ctx) // blocks until ctx is cancelled
//
// Run a client against it:
//
//	client, _ := translucent.NewClient("http://localhost:8080")
//	client.Run(ctx)
//
// # Environment Synchronization
//
// Every update is tagged with its [Origin]. A side forwards only updates
// that originated locally, and an update whose value is deep-equal to the
// current one is dropped, so two synchronized environments never echo
// each other's changes.
//
// # Feeds and Extractors
//
// A [Feed] polls an HTTP URL and publishes the extracted value to every
// session under the feed's key. Built-in extractors:
//
//   - [JSONFieldExtractor]: a field from a JSON body using dot notation
//   - [JSONExtractor]: the whole decoded JSON body
//   - [TextExtractor]: the trimmed body of a 2xx response
//   - [RegexExtractor]: the first capture group of a pattern
//   - [StatusCodeExtractor]: the HTTP status code
//   - [FirstMatch]: the first extractor that succeeds
//   - [DefaultExtractor]: JSON body if it parses, otherwise text
//
// # Architecture
//
// translucent consists of several internal packages (under internal/):
//
//   - internal/store: environment with synchronous change notification
//   - internal/protocol: channel message envelopes
//   - internal/connection: client side of the channel
//   - internal/barrier: fire-once join of independent prerequisites
//   - internal/bootstrap: runs the program once ready and fetched
//   - internal/sandbox: Starlark evaluation against a closed resolver
//   - internal/view: the "ui" capability that renders on change
//   - internal/loop: per-session event loop
//   - internal/fetch: HTTP fetching and feed polling
//   - internal/server: HTTP routes, sessions and the event stream
//   - dashboard: embedded page shell
package translucent
