package pricer

import (
	"context"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

// BybitPricer fetches the last spot trade from Bybit. The range collapses to that price.
type BybitPricer struct {
	client *bybit.Client
	quote  string
}

func NewBybitPricer(client *bybit.Client) *BybitPricer {
	return &BybitPricer{client: client, quote: "USDT"}
}

// GetPrice ignores ctx, the Bybit client has no context support.
func (p *BybitPricer) GetPrice(_ context.Context, symbol string) (domain.PriceRange, error) {
	symbol = spotSymbol(symbol)
	pair := bybit.SymbolV5(symbol + p.quote)

	result, err := p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &pair,
	})
	if err != nil {
		return domain.PriceRange{}, err
	}
	if len(result.Result.Spot.List) == 0 {
		return domain.PriceRange{}, errors.Errorf("bybit API returned empty prices for %s", pair)
	}

	price, err := decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
	if err != nil {
		return domain.PriceRange{}, err
	}
	return domain.PriceRange{Symbol: symbol, Min: price, Max: price}, nil
}
