package pricer

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

func TestFallback(t *testing.T) {
	want := domain.PriceRange{Symbol: "ETH", Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(2)}

	price, err := Fallback{fixedPricer{err: assert.AnError}, fixedPricer{price: want}}.GetPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, want, price)

	_, err = Fallback{fixedPricer{err: assert.AnError}}.GetPrice(context.Background(), "ETH")
	assert.ErrorIs(t, err, assert.AnError)

	_, err = Fallback{}.GetPrice(context.Background(), "ETH")
	assert.ErrorIs(t, err, ErrNoPricers)
}

func TestFallback_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	want := domain.PriceRange{Symbol: "ETH", Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(1)}
	_, err := Fallback{fixedPricer{err: assert.AnError}, fixedPricer{price: want}}.GetPrice(ctx, "ETH")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSpotSymbol(t *testing.T) {
	assert.Equal(t, "ETH", spotSymbol("weth"))
	assert.Equal(t, "BTC", spotSymbol("WBTC"))
	assert.Equal(t, "ARB", spotSymbol("arb"))
}

func TestLazyHyperliquidPricer_DialsOnce(t *testing.T) {
	var dials int
	p := NewLazyHyperliquidPricer(func(context.Context) (*hyperliquid.Info, error) {
		dials++
		return nil, assert.AnError
	})

	for i := 0; i < 2; i++ {
		_, err := p.GetPrice(context.Background(), "ETH")
		assert.ErrorIs(t, err, assert.AnError)
	}
	assert.Equal(t, 1, dials)

	// a failing dial hands over to the next pricer
	want := domain.PriceRange{Symbol: "ETH", Min: decimal.NewFromInt(3), Max: decimal.NewFromInt(3)}
	price, err := Fallback{p, fixedPricer{price: want}}.GetPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, want, price)
}

func TestHyperliquidPricer_NilInfo(t *testing.T) {
	_, err := NewHyperliquidPricer(nil).GetPrice(context.Background(), "ETH")
	assert.Error(t, err)
}
