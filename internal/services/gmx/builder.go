// Package gmx builds GMX v2 orders and dry-runs them on a fork.
package gmx

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/config"
	"github.com/vadiminshakov/tokensieve/internal/fork"
	"github.com/vadiminshakov/tokensieve/internal/services/pricer"
	"github.com/vadiminshakov/tokensieve/internal/services/sandbox"
)

const (
	// OrderTypeMarketIncrease opens or increases a position at the market price.
	OrderTypeMarketIncrease uint8 = 2

	// GasLimit of a simulated multicall.
	GasLimit = 1_000_000

	// usdDecimals precision of GMX USD amounts and prices.
	usdDecimals = 30
)

// ErrUnknownMarket is returned for collateral tokens without a configured market.
var ErrUnknownMarket = errors.New("no market for collateral token")

// OrderRequest describes a market increase order.
type OrderRequest struct {
	Receiver         common.Address
	Collateral       common.Address
	CollateralAmount *big.Int
	// SizeDeltaUSD carries 30 decimals.
	SizeDeltaUSD    *big.Int
	AcceptablePrice *big.Int
	ExecutionFee    *big.Int
	IsLong          bool
}

// ShortRequest describes a short position funded with native collateral.
type ShortRequest struct {
	Owner            common.Address
	Collateral       common.Address
	CollateralAmount *big.Int
	SizeUSD          decimal.Decimal
	// IndexSymbol prices the acceptable price, e.g. "ETH". Empty accepts any price.
	IndexSymbol   string
	IndexDecimals int32
}

// Order is a ready to send exchange router call.
type Order struct {
	From     common.Address
	To       common.Address
	Calldata []byte
	Value    *big.Int
}

// Builder encodes exchange router calls.
type Builder struct {
	cfg    config.GMX
	pricer pricer.Pricer
	l      *zap.Logger
}

// NewBuilder creates a builder. p may be nil when no request names an index symbol.
func NewBuilder(cfg config.GMX, p pricer.Pricer, l *zap.Logger) *Builder {
	if l == nil {
		l = zap.NewNop()
	}
	return &Builder{cfg: cfg, pricer: p, l: l}
}

// SendWnt wraps amount of native token into the order vault.
func (b *Builder) SendWnt(amount *big.Int) ([]byte, error) {
	data, err := routerABI.Pack("sendWnt", b.cfg.OrderVault, amount)
	if err != nil {
		return nil, errors.Wrap(err, "pack sendWnt")
	}
	return data, nil
}

// CreateOrder encodes a market increase order for req.
func (b *Builder) CreateOrder(req OrderRequest) ([]byte, error) {
	market, ok := b.cfg.Markets[req.Collateral]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMarket, "collateral %s", req.Collateral.Hex())
	}

	params := CreateOrderParams{
		Addresses: CreateOrderParamsAddresses{
			Receiver:               req.Receiver,
			Market:                 market,
			InitialCollateralToken: req.Collateral,
			SwapPath:               []common.Address{market},
		},
		Numbers: CreateOrderParamsNumbers{
			SizeDeltaUsd:                 orZero(req.SizeDeltaUSD),
			InitialCollateralDeltaAmount: orZero(req.CollateralAmount),
			TriggerPrice:                 new(big.Int),
			AcceptablePrice:              orZero(req.AcceptablePrice),
			ExecutionFee:                 orZero(req.ExecutionFee),
			CallbackGasLimit:             new(big.Int),
			MinOutputAmount:              new(big.Int),
		},
		OrderType: OrderTypeMarketIncrease,
		IsLong:    req.IsLong,
	}

	data, err := routerABI.Pack("createOrder", params)
	if err != nil {
		return nil, errors.Wrap(err, "pack createOrder")
	}
	return data, nil
}

// Multicall batches calls into one router call.
func (b *Builder) Multicall(calls ...[]byte) ([]byte, error) {
	data, err := routerABI.Pack("multicall", calls)
	if err != nil {
		return nil, errors.Wrap(err, "pack multicall")
	}
	return data, nil
}

// AcceptablePrice returns the lowest index price a short accepts, in GMX price units:
// the oracle min price lowered by the configured slippage.
func (b *Builder) AcceptablePrice(ctx context.Context, symbol string, decimals int32) (*big.Int, error) {
	if symbol == "" {
		return new(big.Int), nil
	}
	if b.pricer == nil {
		return nil, errors.New("no pricer configured")
	}

	price, err := b.pricer.GetPrice(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "price of %s", symbol)
	}

	slippage := decimal.NewFromInt(int64(b.cfg.SlippageBps)).Div(decimal.NewFromInt(10_000))
	acceptable := price.Min.Mul(decimal.NewFromInt(1).Sub(slippage))
	return acceptable.Shift(usdDecimals - decimals).BigInt(), nil
}

// CreateShortPosition builds the multicall of sendWnt and createOrder opening a short.
// The sent native amount doubles as the execution fee when the collateral is WETH.
func (b *Builder) CreateShortPosition(ctx context.Context, req ShortRequest) (Order, error) {
	if req.CollateralAmount == nil || req.CollateralAmount.Sign() <= 0 {
		return Order{}, errors.New("collateral amount must be positive")
	}

	acceptable, err := b.AcceptablePrice(ctx, req.IndexSymbol, req.IndexDecimals)
	if err != nil {
		return Order{}, err
	}

	fee := new(big.Int)
	if req.Collateral == b.cfg.WETH {
		fee.Set(req.CollateralAmount)
	}

	sendWnt, err := b.SendWnt(req.CollateralAmount)
	if err != nil {
		return Order{}, err
	}
	createOrder, err := b.CreateOrder(OrderRequest{
		Receiver:         req.Owner,
		Collateral:       req.Collateral,
		CollateralAmount: req.CollateralAmount,
		SizeDeltaUSD:     req.SizeUSD.Shift(usdDecimals).BigInt(),
		AcceptablePrice:  acceptable,
		ExecutionFee:     fee,
	})
	if err != nil {
		return Order{}, err
	}
	calldata, err := b.Multicall(sendWnt, createOrder)
	if err != nil {
		return Order{}, err
	}

	b.l.Debug("short position built",
		zap.Stringer("owner", req.Owner),
		zap.Stringer("collateral", req.Collateral),
		zap.String("amount", req.CollateralAmount.String()),
		zap.String("size_usd", req.SizeUSD.String()),
		zap.String("acceptable_price", acceptable.String()))

	return Order{
		From:     req.Owner,
		To:       b.cfg.ExchangeRouter,
		Calldata: calldata,
		Value:    new(big.Int).Set(req.CollateralAmount),
	}, nil
}

type chain interface {
	Call(ctx context.Context, msg fork.CallMsg) (*fork.CallResult, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	SetBalance(ctx context.Context, addr common.Address, amount *big.Int) error
}

// Simulate funds the order sender with the order value on top of its balance,
// executes the order and returns the decoded multicall results.
func (b *Builder) Simulate(ctx context.Context, c chain, order Order) ([][]byte, error) {
	value := orZero(order.Value)
	balance, err := c.Balance(ctx, order.From)
	if err != nil {
		return nil, err
	}
	if err := c.SetBalance(ctx, order.From, new(big.Int).Add(balance, value)); err != nil {
		return nil, err
	}

	res, err := c.Call(ctx, fork.CallMsg{
		From:  order.From,
		To:    order.To,
		Data:  order.Calldata,
		Value: value,
		Gas:   GasLimit,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &sandbox.CallFailedError{Op: "multicall", Target: order.To, Reason: res.Reason, Err: res.Err}
	}

	out, err := routerABI.Unpack("multicall", res.ReturnData)
	if err != nil {
		return nil, &sandbox.CallFailedError{Op: "multicall", Target: order.To, Err: errors.Wrap(err, "decode results")}
	}
	results, ok := out[0].([][]byte)
	if !ok {
		return nil, errors.Errorf("multicall returned %T", out[0])
	}

	b.l.Info("order simulated", zap.Stringer("router", order.To), zap.Int("results", len(results)), zap.Uint64("gas_used", res.GasUsed))
	return results, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
