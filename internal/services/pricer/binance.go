package pricer

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

// BinancePricer fetches spot prices from the Binance public API. The range collapses to the last price.
type BinancePricer struct {
	client *binance.Client
	quote  string
}

// NewBinancePricer creates a pricer quoting symbols against USDT.
func NewBinancePricer(client *binance.Client) *BinancePricer {
	return &BinancePricer{client: client, quote: "USDT"}
}

func (p *BinancePricer) GetPrice(ctx context.Context, symbol string) (domain.PriceRange, error) {
	symbol = spotSymbol(symbol)
	pair := symbol + p.quote

	prices, err := p.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return domain.PriceRange{}, err
	}
	if len(prices) == 0 {
		return domain.PriceRange{}, errors.Errorf("binance API returned empty prices for %s", pair)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return domain.PriceRange{}, err
	}
	return domain.PriceRange{Symbol: symbol, Min: price, Max: price}, nil
}
