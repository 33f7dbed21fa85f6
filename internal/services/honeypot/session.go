package honeypot

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/internal/fork"
	"github.com/vadiminshakov/tokensieve/internal/services/locator"
	"github.com/vadiminshakov/tokensieve/internal/services/proxy"
	"github.com/vadiminshakov/tokensieve/internal/services/sandbox"
)

// Session is an isolated fork of the chain used to classify one token.
type Session interface {
	Inspect(ctx context.Context, addr common.Address) (proxy.Result, error)
	Locate(ctx context.Context, token, holder common.Address) (domain.BalanceSlot, error)
	TokenMetadata(ctx context.Context, token common.Address) (domain.Token, error)
	SeedBalance(token common.Address, slot domain.BalanceSlot, holder common.Address, amount *big.Int) error
	SimulateTransfer(ctx context.Context, token common.Address, slot domain.BalanceSlot, from, to common.Address,
		amount *big.Int) (domain.ProbeResult, error)
	SimulateV2Swap(ctx context.Context, amountIn *big.Int, pool, tokenIn, tokenOut common.Address,
		applySlippageBuffer bool) (domain.ProbeResult, error)
	SimulatePseudoSell(ctx context.Context, p sandbox.PseudoSell) (domain.ProbeResult, error)
	Helper() common.Address
	Sender() common.Address
	Recipient() common.Address
}

// Sessions opens fresh sessions pinned to one block.
type Sessions interface {
	Open(ctx context.Context) (Session, error)
	Block() uint64
}

type forkSession struct {
	*sandbox.Sandbox
	*locator.Locator
	*proxy.Inspector
}

// ForkSessions opens sessions backed by a fresh fork each. Remote reads are shared
// between the forks through one cached source.
type ForkSessions struct {
	src     *fork.CachedSource
	block   *big.Int
	cache   *locator.Cache
	sandbox sandbox.Config
	lopts   []locator.Option
	l       *zap.Logger
}

// NewForkSessions creates a session factory reading from src at block.
// A nil block pins the forks to the latest block at the time of the call.
func NewForkSessions(ctx context.Context, src fork.Source, block *big.Int, cfg sandbox.Config, l *zap.Logger,
	lopts ...locator.Option) (*ForkSessions, error) {
	if l == nil {
		l = zap.NewNop()
	}
	cached := fork.NewCachedSource(src)
	if block == nil {
		header, err := src.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, errors.Wrap(err, "resolve latest block")
		}
		block = header.Number
	}

	return &ForkSessions{
		src:     cached,
		block:   new(big.Int).Set(block),
		cache:   locator.NewCache(),
		sandbox: cfg,
		lopts:   append([]locator.Option{locator.WithLogger(l)}, lopts...),
		l:       l,
	}, nil
}

// Open forks the chain and installs the helper contract.
func (s *ForkSessions) Open(ctx context.Context) (Session, error) {
	f, err := fork.New(ctx, s.src, s.block, fork.WithLogger(s.l))
	if err != nil {
		return nil, errors.Wrap(err, "open fork")
	}
	sb, err := sandbox.New(ctx, f, s.sandbox, s.l)
	if err != nil {
		return nil, errors.Wrap(err, "open sandbox")
	}

	return forkSession{
		Sandbox:   sb,
		Locator:   locator.New(f, sb, s.cache, s.lopts...),
		Inspector: proxy.NewInspector(f, s.l),
	}, nil
}

// Block returns the block every session is pinned to.
func (s *ForkSessions) Block() uint64 {
	return s.block.Uint64()
}

// Cached returns the number of memoized remote reads.
func (s *ForkSessions) Cached() int {
	return s.src.Len()
}
