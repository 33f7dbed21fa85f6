// Package pricer provides USD reference prices used to bound GMX orders.
package pricer

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

// ErrNoPricers is returned by an empty Fallback.
var ErrNoPricers = errors.New("no pricers configured")

var wrapped = map[string]string{"WETH": "ETH", "WBTC": "BTC"}

// Pricer returns the oracle price range of a symbol such as "ETH".
type Pricer interface {
	GetPrice(ctx context.Context, symbol string) (domain.PriceRange, error)
}

// Fallback asks each pricer in turn and returns the first price.
type Fallback []Pricer

// GetPrice returns the price of the first pricer that answers. A failing pricer
// hands over to the next one, the error of the last one is returned when none
// answers. Cancellation of ctx stops the walk.
func (f Fallback) GetPrice(ctx context.Context, symbol string) (domain.PriceRange, error) {
	lastErr := ErrNoPricers
	for _, p := range f {
		price, err := p.GetPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		if ctx.Err() != nil {
			return domain.PriceRange{}, ctx.Err()
		}
		lastErr = err
	}
	return domain.PriceRange{}, lastErr
}

// spotSymbol upper-cases symbol and maps wrapped tokens to the coin exchanges list.
func spotSymbol(symbol string) string {
	symbol = strings.ToUpper(symbol)
	if alias, ok := wrapped[symbol]; ok {
		return alias
	}
	return symbol
}
