// Standalone mock price feed for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/translucent serve -c example/config.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
)

func main() {
	fmt.Println("Mock price feed starting on :9999")
	fmt.Println("GET /quote?market=us&symbol=abc")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		prices = make(map[string]float64)
		mu     sync.Mutex
	)

	http.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		market := r.URL.Query().Get("market")
		symbol := r.URL.Query().Get("symbol")
		key := market + "-" + symbol

		mu.Lock()
		price, ok := prices[key]
		if !ok {
			price = 50 + rand.Float64()*100
		}
		price *= 1 + (rand.Float64()-0.5)/50
		prices[key] = price
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"market": market,
			"symbol": symbol,
			"data":   map[string]any{"last": float64(int(price*100)) / 100},
		})
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
