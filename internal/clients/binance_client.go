package clients

import (
	"os"

	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient creates a client for Binance public market data.
// BINANCE_API_KEY and BINANCE_API_SECRET are used when set, prices need neither.
func NewBinanceClient() *binance.Client {
	return binance.NewClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
}
