package sandbox

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

var (
	feeNumerator   = big.NewInt(997)
	feeDenominator = big.NewInt(1000)
)

// GetAmountOut quotes a constant-product swap net of the 0.3% pool fee.
// It returns zero when any input is not positive.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn == nil || reserveIn == nil || reserveOut == nil ||
		amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}

	inWithFee := new(big.Int).Mul(amountIn, feeNumerator)
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, feeDenominator)
	denominator.Add(denominator, inWithFee)

	return numerator.Quo(numerator, denominator)
}

// ApplyBuffer reduces amount by percent, rounding down.
func ApplyBuffer(amount *big.Int, percent uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(100-percent))
	return out.Quo(out, big.NewInt(100))
}

// SimulateTransfer seeds from with amount of token and transfers it to to.
// Expected is the amount sent, realized is the balance delta of the recipient.
// The probe leaves no trace in the fork.
func (s *Sandbox) SimulateTransfer(ctx context.Context, token common.Address, slot domain.BalanceSlot,
	from, to common.Address, amount *big.Int) (domain.ProbeResult, error) {
	var result domain.ProbeResult

	err := s.atomic(false, func() error {
		if err := s.SeedBalance(token, slot, from, amount); err != nil {
			return err
		}
		before, err := s.BalanceOf(ctx, token, to)
		if err != nil {
			return err
		}
		if err := s.transfer(ctx, token, from, to, amount); err != nil {
			return err
		}
		after, err := s.BalanceOf(ctx, token, to)
		if err != nil {
			return err
		}

		result = domain.ProbeResult{Expected: new(big.Int).Set(amount), Realized: delta(after, before)}
		return nil
	})
	if err != nil {
		return domain.ProbeResult{}, err
	}

	s.l.Debug("transfer probe",
		zap.Stringer("token", token),
		zap.Stringer("result", result))

	return result, nil
}

// PseudoSell describes a sell executed directly against a pool, bypassing any router.
type PseudoSell struct {
	Token common.Address
	Slot  domain.BalanceSlot
	// Pool is the pair the token is sold into.
	Pool common.Address
	// Reference is the other side of the pool, received by the seller.
	Reference common.Address
	Holder    common.Address
	Amount    *big.Int
	// FromHoldsToken makes the holder send the tokens to the pool with transfer.
	// Otherwise the pool balance is credited directly in storage.
	FromHoldsToken bool
}

// SimulatePseudoSell sells token into the pool through the pair's swap entry point.
// Expected is the quote for the full amount, realized is the reference balance delta
// of the holder, so a tax on the way into the pool shows up as a loss. The probe
// leaves no trace in the fork.
func (s *Sandbox) SimulatePseudoSell(ctx context.Context, p PseudoSell) (domain.ProbeResult, error) {
	holder := p.Holder
	if holder == (common.Address{}) {
		holder = s.cfg.Sender
	}
	var result domain.ProbeResult

	err := s.atomic(false, func() error {
		reserveIn, reserveOut, err := s.Reserves(ctx, p.Pool, p.Token, p.Reference)
		if err != nil {
			return err
		}

		if p.FromHoldsToken {
			if err := s.SeedBalance(p.Token, p.Slot, holder, p.Amount); err != nil {
				return err
			}
			if err := s.transfer(ctx, p.Token, holder, p.Pool, p.Amount); err != nil {
				return err
			}
		} else {
			poolBalance, err := s.BalanceOf(ctx, p.Token, p.Pool)
			if err != nil {
				return err
			}
			if err := s.SeedBalance(p.Token, p.Slot, p.Pool, new(big.Int).Add(poolBalance, p.Amount)); err != nil {
				return err
			}
		}

		result, err = s.sellReceived(ctx, holder, p.Pool, p.Token, p.Reference, p.Amount, reserveIn, reserveOut)
		return err
	})
	if err != nil {
		return domain.ProbeResult{}, err
	}

	s.l.Debug("pseudo sell probe",
		zap.Stringer("token", p.Token),
		zap.Stringer("pool", p.Pool),
		zap.Bool("from_holds_token", p.FromHoldsToken),
		zap.Stringer("result", result))

	return result, nil
}

// SimulateV2Swap swaps amountIn of tokenIn held by the helper contract into tokenOut
// through pool. Expected is the quote for amountIn from the live reserves, realized
// is what the helper actually received. The swap stays applied, so the helper holds the output
// for a follow-up probe.
//
// With applySlippageBuffer the helper contract quotes, swaps and measures in a
// single call and requests the quote reduced by its slippage buffer. Otherwise the
// same steps run as one atomic batch of calls requesting the exact quote.
func (s *Sandbox) SimulateV2Swap(ctx context.Context, amountIn *big.Int, pool, tokenIn, tokenOut common.Address,
	applySlippageBuffer bool) (domain.ProbeResult, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return domain.ProbeResult{}, errors.New("swap amount must be positive")
	}

	var (
		result domain.ProbeResult
		err    error
	)
	if applySlippageBuffer {
		result, err = s.helperSwap(ctx, amountIn, pool, tokenIn, tokenOut)
	} else {
		err = s.atomic(true, func() error {
			result, err = s.batchSwap(ctx, amountIn, pool, tokenIn, tokenOut)
			return err
		})
	}
	if err != nil {
		return domain.ProbeResult{}, err
	}

	s.l.Debug("swap probe",
		zap.Stringer("pool", pool),
		zap.Stringer("token_in", tokenIn),
		zap.Stringer("token_out", tokenOut),
		zap.Bool("buffered", applySlippageBuffer),
		zap.Stringer("result", result))

	return result, nil
}

func (s *Sandbox) helperSwap(ctx context.Context, amountIn *big.Int, pool, tokenIn, tokenOut common.Address) (domain.ProbeResult, error) {
	data, err := helperABI.Pack("v2SimulateSwap", amountIn, pool, tokenIn, tokenOut)
	if err != nil {
		return domain.ProbeResult{}, errors.Wrap(err, "pack v2SimulateSwap")
	}
	ret, err := s.call(ctx, "v2SimulateSwap", s.cfg.Sender, s.cfg.Helper, data)
	if err != nil {
		return domain.ProbeResult{}, err
	}

	out, err := helperABI.Unpack("v2SimulateSwap", ret)
	if err != nil || len(out) != 2 {
		return domain.ProbeResult{}, &CallFailedError{Op: "v2SimulateSwap", Target: s.cfg.Helper, Reason: "undecodable result"}
	}
	expected, ok0 := out[0].(*big.Int)
	realized, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return domain.ProbeResult{}, &CallFailedError{Op: "v2SimulateSwap", Target: s.cfg.Helper, Reason: "undecodable result"}
	}

	return domain.ProbeResult{Expected: expected, Realized: realized}, nil
}

func (s *Sandbox) batchSwap(ctx context.Context, amountIn *big.Int, pool, tokenIn, tokenOut common.Address) (domain.ProbeResult, error) {
	helper := s.cfg.Helper

	reserveIn, reserveOut, err := s.Reserves(ctx, pool, tokenIn, tokenOut)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	if err := s.transfer(ctx, tokenIn, helper, pool, amountIn); err != nil {
		return domain.ProbeResult{}, err
	}
	return s.sellReceived(ctx, helper, pool, tokenIn, tokenOut, amountIn, reserveIn, reserveOut)
}

// sellReceived completes a swap whose input already sits in the pool. Expected is the
// quote for amountIn. The swap requests the quote for what the pool received, which
// is all its K check allows, and realized is what to ends up with. Nothing arriving at
// the pool is a total loss rather than a failed swap.
func (s *Sandbox) sellReceived(ctx context.Context, to, pool, tokenIn, tokenOut common.Address,
	amountIn, reserveIn, reserveOut *big.Int) (domain.ProbeResult, error) {
	expected := GetAmountOut(amountIn, reserveIn, reserveOut)
	if expected.Sign() == 0 {
		return domain.ProbeResult{}, errors.Wrap(domain.ErrZeroExpected, "swap quote")
	}

	poolBalance, err := s.BalanceOf(ctx, tokenIn, pool)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	amountOut := GetAmountOut(delta(poolBalance, reserveIn), reserveIn, reserveOut)
	if amountOut.Sign() == 0 {
		return domain.ProbeResult{Expected: expected, Realized: new(big.Int)}, nil
	}

	before, err := s.BalanceOf(ctx, tokenOut, to)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	if err := s.swap(ctx, to, pool, tokenIn, tokenOut, amountOut, to); err != nil {
		return domain.ProbeResult{}, err
	}
	after, err := s.BalanceOf(ctx, tokenOut, to)
	if err != nil {
		return domain.ProbeResult{}, err
	}

	return domain.ProbeResult{Expected: expected, Realized: delta(after, before)}, nil
}

// transfer calls token.transfer(to, amount) from from. A false return value is a failure.
func (s *Sandbox) transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return errors.Wrap(err, "pack transfer")
	}
	ret, err := s.call(ctx, "transfer", from, token, data)
	if err != nil {
		return err
	}
	if len(ret) >= 32 && new(big.Int).SetBytes(ret[:32]).Sign() == 0 {
		return &CallFailedError{Op: "transfer", Target: token, Reason: "returned false"}
	}
	return nil
}

// swap calls pool.swap paying amountOut of tokenOut to to.
func (s *Sandbox) swap(ctx context.Context, from, pool, tokenIn, tokenOut common.Address, amountOut *big.Int, to common.Address) error {
	amount0Out, amount1Out := new(big.Int), new(big.Int)
	if tokenIn.Cmp(tokenOut) < 0 {
		amount1Out.Set(amountOut)
	} else {
		amount0Out.Set(amountOut)
	}

	data, err := pairABI.Pack("swap", amount0Out, amount1Out, to, []byte{})
	if err != nil {
		return errors.Wrap(err, "pack swap")
	}
	_, err = s.call(ctx, "swap", from, pool, data)
	return err
}

// delta returns after - before, or zero when the balance went down.
func delta(after, before *big.Int) *big.Int {
	d := new(big.Int).Sub(after, before)
	if d.Sign() < 0 {
		return new(big.Int)
	}
	return d
}
