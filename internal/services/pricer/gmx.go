package pricer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/pkg/retrier"
)

const defaultTimeout = 10 * time.Second

// DefaultDecimals token decimals of the symbols listed by GMX on Arbitrum.
var DefaultDecimals = map[string]int32{
	"ETH":  18,
	"WETH": 18,
	"BTC":  8,
	"WBTC": 8,
	"USDC": 6,
	"USDT": 6,
	"ARB":  18,
	"LINK": 18,
	"SOL":  9,
}

// GMXPricer reads the GMX oracle tickers endpoint.
// Ticker prices carry 30 decimals minus the token decimals.
type GMXPricer struct {
	url        string
	decimals   map[string]int32
	httpClient *http.Client
	retrier    *retrier.Retrier
}

// NewGMXPricer creates a pricer for the tickers endpoint at url.
func NewGMXPricer(url string, opts ...retrier.Option) *GMXPricer {
	return &GMXPricer{
		url:      url,
		decimals: DefaultDecimals,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		retrier: retrier.New(append([]retrier.Option{retrier.WithMaxRetries(3)}, opts...)...),
	}
}

type ticker struct {
	TokenAddress string `json:"tokenAddress"`
	TokenSymbol  string `json:"tokenSymbol"`
	MinPrice     string `json:"minPrice"`
	MaxPrice     string `json:"maxPrice"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// GetPrice returns the min and max oracle price of symbol in USD.
func (p *GMXPricer) GetPrice(ctx context.Context, symbol string) (domain.PriceRange, error) {
	symbol = strings.ToUpper(symbol)
	decimals, ok := p.decimals[symbol]
	if !ok {
		return domain.PriceRange{}, errors.Errorf("unknown decimals of %s", symbol)
	}

	tickers, err := retrier.DoWithData(p.retrier, ctx, p.fetch)
	if err != nil {
		return domain.PriceRange{}, err
	}

	for _, t := range tickers {
		if !strings.EqualFold(t.TokenSymbol, symbol) {
			continue
		}
		minPrice, err := decimal.NewFromString(t.MinPrice)
		if err != nil {
			return domain.PriceRange{}, errors.Wrapf(err, "parse min price of %s", symbol)
		}
		maxPrice, err := decimal.NewFromString(t.MaxPrice)
		if err != nil {
			return domain.PriceRange{}, errors.Wrapf(err, "parse max price of %s", symbol)
		}
		return domain.PriceRange{
			Symbol: symbol,
			Min:    minPrice.Shift(-(30 - decimals)),
			Max:    maxPrice.Shift(-(30 - decimals)),
		}, nil
	}

	return domain.PriceRange{}, errors.Errorf("gmx tickers have no price for %s", symbol)
}

func (p *GMXPricer) fetch(ctx context.Context) ([]ticker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create HTTP request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("gmx tickers returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retrier.Permanent(err)
		}
		return nil, err
	}

	var tickers []ticker
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, retrier.Permanent(errors.Wrap(err, "failed to unmarshal tickers"))
	}
	return tickers, nil
}
