package clients

import (
	"os"

	"github.com/hirokisan/bybit/v2"
)

// NewBybitClient creates a client for Bybit market data. BYBIT_API_KEY and
// BYBIT_API_SECRET are used when set, tickers need neither.
func NewBybitClient() *bybit.Client {
	client := bybit.NewClient()
	if key := os.Getenv("BYBIT_API_KEY"); key != "" {
		client = client.WithAuth(key, os.Getenv("BYBIT_API_SECRET"))
	}
	return client
}
