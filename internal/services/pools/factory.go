package pools

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/tokensieve/config"
	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/pkg/retrier"
)

const factoryJSON = `[
	{"type":"function","name":"allPairsLength","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allPairs","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

var factoryABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(factoryJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// FactoryLoader enumerates the pairs of Uniswap V2 style factories.
type FactoryLoader struct {
	caller    ethereum.ContractCaller
	factories []config.Factory
	block     *big.Int
	max       int
	workers   int
	retrier   *retrier.Retrier
	l         *zap.Logger
}

// NewFactoryLoader creates a loader reading at block, nil meaning latest.
// At most maxPerFactory of the newest pairs of every factory are returned.
func NewFactoryLoader(caller ethereum.ContractCaller, cfg config.Pools, block *big.Int, l *zap.Logger, opts ...retrier.Option) *FactoryLoader {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &FactoryLoader{
		caller:    caller,
		factories: cfg.Factories,
		block:     block,
		max:       cfg.MaxPerFactory,
		workers:   workers,
		retrier:   retrier.New(append([]retrier.Option{retrier.WithMaxRetries(2)}, opts...)...),
		l:         l,
	}
}

// Pools reads every configured factory. Pools seen in more than one factory are returned once.
func (f *FactoryLoader) Pools(ctx context.Context) ([]domain.Pool, error) {
	var (
		out  []domain.Pool
		seen = make(map[common.Address]struct{})
	)
	for _, factory := range f.factories {
		pools, err := f.load(ctx, factory)
		if err != nil {
			return nil, errors.Wrapf(err, "load pools of %s", factory.Name)
		}
		for _, p := range pools {
			if _, ok := seen[p.Address]; ok {
				continue
			}
			seen[p.Address] = struct{}{}
			out = append(out, p)
		}
		f.l.Info("loaded pools", zap.String("factory", factory.Name), zap.Int("pools", len(pools)))
	}
	return out, nil
}

func (f *FactoryLoader) load(ctx context.Context, factory config.Factory) ([]domain.Pool, error) {
	length, err := f.callBig(ctx, factory.Address, "allPairsLength")
	if err != nil {
		return nil, err
	}
	if !length.IsInt64() {
		return nil, errors.Errorf("pair count %s out of range", length)
	}

	total := length.Int64()
	first := int64(0)
	if f.max > 0 && total > int64(f.max) {
		first = total - int64(f.max)
	}

	pools := make([]domain.Pool, total-first)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i := total - 1; i >= first; i-- {
		i := i
		g.Go(func() error {
			pool, err := f.pair(gctx, factory.Address, i)
			if err != nil {
				return errors.Wrapf(err, "pair #%d", i)
			}
			pools[total-1-i] = pool
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pools, nil
}

// Pair reads the tokens of a single pool.
func (f *FactoryLoader) Pair(ctx context.Context, addr common.Address) (domain.Pool, error) {
	return f.tokens(ctx, addr)
}

func (f *FactoryLoader) pair(ctx context.Context, factory common.Address, index int64) (domain.Pool, error) {
	addr, err := f.callAddress(ctx, factory, "allPairs", big.NewInt(index))
	if err != nil {
		return domain.Pool{}, err
	}
	return f.tokens(ctx, addr)
}

func (f *FactoryLoader) tokens(ctx context.Context, addr common.Address) (domain.Pool, error) {
	token0, err := f.callAddress(ctx, addr, "token0")
	if err != nil {
		return domain.Pool{}, err
	}
	token1, err := f.callAddress(ctx, addr, "token1")
	if err != nil {
		return domain.Pool{}, err
	}
	return domain.Pool{Address: addr, Token0: token0, Token1: token1}, nil
}

func (f *FactoryLoader) call(ctx context.Context, to common.Address, method string, args ...any) ([]any, error) {
	data, err := factoryABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}

	out, err := retrier.DoWithData(f.retrier, ctx, func(ctx context.Context) ([]byte, error) {
		return f.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, f.block)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "call %s on %s", method, to.Hex())
	}

	values, err := factoryABI.Unpack(method, out)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s of %s", method, to.Hex())
	}
	if len(values) != 1 {
		return nil, errors.Errorf("%s of %s returned %d values", method, to.Hex(), len(values))
	}
	return values, nil
}

func (f *FactoryLoader) callBig(ctx context.Context, to common.Address, method string) (*big.Int, error) {
	values, err := f.call(ctx, to, method)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("%s returned %T", method, values[0])
	}
	return v, nil
}

func (f *FactoryLoader) callAddress(ctx context.Context, to common.Address, method string, args ...any) (common.Address, error) {
	values, err := f.call(ctx, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, errors.Errorf("%s returned %T", method, values[0])
	}
	return addr, nil
}
