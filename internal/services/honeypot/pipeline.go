package honeypot

import (
	"context"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/internal/services/sandbox"
)

// pipeline is the classification of one token. Every step returns false once the
// verdict is final or cannot be decided.
type pipeline struct {
	c    *Classifier
	s    Session
	cand candidate
	v    *domain.Verdict

	slot   domain.BalanceSlot
	bought *big.Int
}

func (p *pipeline) run(ctx context.Context) {
	steps := []struct {
		stage domain.Stage
		fn    func(context.Context) bool
	}{
		{domain.StageProxyChecked, p.checkProxy},
		{domain.StageTransferProbed, p.probeTransfer},
		{domain.StageBuyProbed, p.probeBuy},
		{domain.StageSellProbed, p.probeSell},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			p.v.Inconclusive(ctx.Err())
			return
		}

		start := time.Now()
		ok := step.fn(ctx)
		p.c.rec.ObserveStage(step.stage, time.Since(start))
		if ok || p.v.IsHoneypot {
			p.v.Advance(step.stage)
		}
		if !ok {
			return
		}
	}
}

func (p *pipeline) checkProxy(ctx context.Context) bool {
	res, err := p.s.Inspect(ctx, p.cand.token)
	if err != nil {
		p.v.Inconclusive(errors.Wrap(err, "proxy check"))
		return false
	}
	if res.IsProxy {
		p.v.IsProxy = true
		p.v.Implementation = res.Implementation
		p.v.Token = p.v.Token.WithImplementation(*res.Implementation)
		p.v.Flag(domain.ReasonProxy)
		return false
	}

	token, err := p.s.TokenMetadata(ctx, p.cand.token)
	switch {
	case err == nil:
		p.v.Token = token
	case isRemote(err):
		p.v.Inconclusive(errors.Wrap(err, "read metadata"))
		return false
	default:
		p.c.l.Debug("token metadata unavailable", zap.Stringer("token", p.cand.token), zap.Error(err))
	}

	return true
}

func (p *pipeline) probeTransfer(ctx context.Context) bool {
	slot, err := p.s.Locate(ctx, p.cand.token, p.s.Sender())
	if err != nil {
		p.v.Inconclusive(errors.Wrap(err, "locate balance slot"))
		return false
	}
	p.slot = slot
	// buy and sell never seed the candidate, so they still run
	if !slot.Found {
		p.c.l.Debug("balance slot not found, skipping transfer probe", zap.Stringer("token", p.cand.token))
		return true
	}

	amount := scale(p.c.cfg.TransferAmount, p.decimals())
	res, err := p.s.SimulateTransfer(ctx, p.cand.token, slot, p.s.Sender(), p.s.Recipient(), amount)
	if err != nil {
		if isRemote(err) {
			p.v.Inconclusive(errors.Wrap(err, "transfer probe"))
			return false
		}
		return p.transferFailed(err)
	}

	bps, err := domain.TaxBps(res)
	if err != nil {
		return p.transferFailed(err)
	}
	p.v.TransferTaxBps = domain.Bps(bps)
	if bps >= p.c.cfg.Thresholds.TransferBps {
		p.v.Flag(domain.ReasonTransferTax)
		return false
	}

	return true
}

func (p *pipeline) transferFailed(err error) bool {
	p.v.TransferFailed = true
	p.c.l.Debug("transfer probe failed", zap.Stringer("token", p.cand.token), zap.Error(err))
	if p.c.cfg.TransferFailureConclusive {
		p.v.Flag(domain.ReasonTransferFailed)
		return false
	}
	return true
}

func (p *pipeline) probeBuy(ctx context.Context) bool {
	ref := p.cand.ref
	if err := p.s.SeedBalance(ref.token.Address, ref.slot, p.s.Helper(), ref.amount); err != nil {
		p.v.Inconclusive(errors.Wrap(err, "seed reference balance"))
		return false
	}

	res, err := p.s.SimulateV2Swap(ctx, ref.amount, p.cand.pool.Address, ref.token.Address, p.cand.token, true)
	if err != nil {
		if isRemote(err) {
			p.v.Inconclusive(errors.Wrap(err, "buy probe"))
			return false
		}
		p.c.l.Debug("buy probe failed", zap.Stringer("token", p.cand.token), zap.Error(err))
		p.v.Flag(domain.ReasonBuyFailed)
		return false
	}

	bps, err := domain.TaxBps(res)
	if err != nil {
		p.v.Flag(domain.ReasonBuyFailed)
		return false
	}
	p.v.BuyTaxBps = domain.Bps(bps)
	if bps >= p.c.cfg.Thresholds.BuyBps {
		p.v.Flag(domain.ReasonBuyTax)
		return false
	}

	p.bought = res.Realized
	return true
}

// probeSell sells what the buy probe delivered. Not being able to verify the sell
// is treated the same as a failing sell.
func (p *pipeline) probeSell(ctx context.Context) bool {
	var pseudoBps uint64
	if p.c.cfg.PseudoSell && p.slot.Found {
		res, err := p.s.SimulatePseudoSell(ctx, sandbox.PseudoSell{
			Token:          p.cand.token,
			Slot:           p.slot,
			Pool:           p.cand.pool.Address,
			Reference:      p.cand.ref.token.Address,
			Holder:         p.s.Sender(),
			Amount:         p.bought,
			FromHoldsToken: true,
		})
		bps, ok := p.sellTax(res, err, "pseudo sell")
		if !ok {
			return false
		}
		pseudoBps = bps
	}

	res, err := p.s.SimulateV2Swap(ctx, p.bought, p.cand.pool.Address, p.cand.token, p.cand.ref.token.Address, true)
	bps, ok := p.sellTax(res, err, "sell")
	if !ok {
		return false
	}

	bps = max(bps, pseudoBps)
	p.v.SellTaxBps = domain.Bps(bps)
	if bps >= p.c.cfg.Thresholds.SellBps {
		p.v.Flag(domain.ReasonSellTax)
		return false
	}

	return true
}

func (p *pipeline) sellTax(res domain.ProbeResult, err error, probe string) (uint64, bool) {
	if err != nil {
		p.c.l.Debug(probe+" probe failed", zap.Stringer("token", p.cand.token), zap.Error(err))
		if isRemote(err) {
			p.v.Flag(domain.ReasonSellUnverifiable)
			p.v.Error = errors.Wrap(err, probe+" probe").Error()
			return 0, false
		}
		p.v.Flag(domain.ReasonSellFailed)
		return 0, false
	}

	bps, err := domain.TaxBps(res)
	if err != nil {
		p.v.Flag(domain.ReasonSellFailed)
		return 0, false
	}
	return bps, true
}

func (p *pipeline) decimals() uint8 {
	if p.v.Token.Decimals == 0 && p.v.Token.Symbol == "" {
		return 18
	}
	return p.v.Token.Decimals
}
