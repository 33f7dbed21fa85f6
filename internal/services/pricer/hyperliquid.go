package pricer

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

// InfoDialer creates a Hyperliquid Info client.
type InfoDialer func(ctx context.Context) (*hyperliquid.Info, error)

// HyperliquidPricer fetches mid prices from the Hyperliquid public Info API.
type HyperliquidPricer struct {
	once sync.Once
	dial InfoDialer
	info *hyperliquid.Info
	err  error
}

func NewHyperliquidPricer(info *hyperliquid.Info) *HyperliquidPricer {
	return &HyperliquidPricer{info: info}
}

// NewLazyHyperliquidPricer dials the Info client on the first price request.
func NewLazyHyperliquidPricer(dial InfoDialer) *HyperliquidPricer {
	return &HyperliquidPricer{dial: dial}
}

func (p *HyperliquidPricer) GetPrice(ctx context.Context, symbol string) (domain.PriceRange, error) {
	p.once.Do(func() {
		if p.info == nil && p.dial != nil {
			p.info, p.err = p.dial(context.WithoutCancel(ctx))
		}
	})
	if p.err != nil {
		return domain.PriceRange{}, errors.Wrap(p.err, "dial hyperliquid")
	}
	if p.info == nil {
		return domain.PriceRange{}, errors.New("hyperliquid info client is nil")
	}
	symbol = spotSymbol(symbol)

	mids, err := p.info.AllMids(ctx)
	if err != nil {
		return domain.PriceRange{}, err
	}

	// mids are keyed by base coin, e.g. "ETH"
	mid, ok := mids[symbol]
	if !ok || mid == "" {
		return domain.PriceRange{}, errors.Errorf("hyperliquid API returned empty mid price for %s", symbol)
	}
	price, err := decimal.NewFromString(mid)
	if err != nil {
		return domain.PriceRange{}, err
	}
	return domain.PriceRange{Symbol: symbol, Min: price, Max: price}, nil
}
