package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// StartMockPriceServer runs a mock price feed whose quotes drift a little
// on every request, one random walk per market and symbol.
// Call this in a goroutine before creating the app's feeds.
func StartMockPriceServer(addr string) {
	var (
		prices = make(map[string]float64)
		mu     sync.Mutex
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		market := r.URL.Query().Get("market")
		symbol := r.URL.Query().Get("symbol")
		key := market + "-" + symbol

		// simulate small latency variance
		time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)

		mu.Lock()
		price, exists := prices[key]
		if !exists {
			price = 50 + rand.Float64()*100
		}
		price *= 1 + (rand.Float64()-0.5)/50
		prices[key] = price
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"market": market,
			"symbol": symbol,
			"data":   map[string]any{"last": float64(int(price*100)) / 100},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
