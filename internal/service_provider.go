package internal

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/config"
	"github.com/vadiminshakov/tokensieve/internal/clients"
	"github.com/vadiminshakov/tokensieve/internal/services/pools"
	"github.com/vadiminshakov/tokensieve/internal/services/pricer"
)

// newPoolSource picks where candidate pools come from: the pools file when one is
// configured, the factories otherwise.
func newPoolSource(cfg config.Pools, caller ethereum.ContractCaller, block *big.Int, logger *zap.Logger) pools.Source {
	if cfg.File != "" {
		return pools.NewFileLoader(cfg.File)
	}
	return pools.NewFactoryLoader(caller, cfg, block, logger)
}

// newIndexPricer prices GMX index tokens from the GMX tickers and falls back to
// the Binance, Bybit and Hyperliquid public prices in that order.
func newIndexPricer(cfg config.GMX) pricer.Pricer {
	url := cfg.TickersURL
	if url == "" {
		url = config.DefaultTickersURL
	}
	hlURL := cfg.HyperliquidURL
	if hlURL == "" {
		hlURL = config.DefaultHyperliquidURL
	}

	return pricer.Fallback{
		pricer.NewGMXPricer(url),
		pricer.NewBinancePricer(clients.NewBinanceClient()),
		pricer.NewBybitPricer(clients.NewBybitClient()),
		pricer.NewLazyHyperliquidPricer(func(ctx context.Context) (*hyperliquid.Info, error) {
			return clients.NewHyperliquidInfo(ctx, hlURL)
		}),
	}
}
