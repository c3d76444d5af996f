package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/translucent"
)

//go:embed index.star
var program string

func main() {
	// start mock server (see mock_server.go)
	go StartMockPriceServer(":9999")
	time.Sleep(100 * time.Millisecond)

	// 2 markets x 2 symbols = 4 feeds from one declaration
	feeds, err := translucent.NewFeedGrid("price",
		translucent.WithURLTemplate("http://localhost:9999/quote?market={{.market}}&symbol={{.symbol}}"),
		translucent.WithDimensions(map[string][]string{
			"market": {"us", "eu"},
			"symbol": {"abc", "xyz"},
		}),
		translucent.WithGridExtractor(translucent.JSONFieldExtractor("data.last")),
	)
	if err != nil {
		slog.Error("failed to create feed grid", "error", err)
		os.Exit(1)
	}

	app, err := translucent.New(
		translucent.WithProgram(program),
		translucent.WithTitle("translucent demo"),
		translucent.WithFeeds(feeds...),
		translucent.WithPollingInterval(2*time.Second),
		translucent.WithPort(8080),
		translucent.WithValue("theme", "dark"),
		translucent.WithExpression("position", func(env *translucent.Scope) (any, error) {
			qty, _ := env.Number("qty")
			price, _ := env.Number("price.us.abc")
			return qty * price, nil
		}),
		translucent.WithUpdateCallback(func(u translucent.Update) {
			if u.Origin == translucent.OriginRemote {
				slog.Info("client update", "session", u.Session, "key", u.Key, "value", u.Value)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create app", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  translucent demo")
	fmt.Println()
	fmt.Println("  Inspector: http://localhost:8080")
	fmt.Println("  Client:    go run ./cmd/translucent run http://localhost:8080")
	fmt.Println()
	fmt.Println("  Feeds: 4 mock quotes (2 markets x 2 symbols via grid)")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		slog.Error("translucent error", "error", err)
		os.Exit(1)
	}
}
