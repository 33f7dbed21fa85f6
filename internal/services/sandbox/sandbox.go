// Package sandbox executes synthetic token operations against a forked chain view.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/internal/fork"
)

const defaultGasLimit = 5_000_000

var (
	// ErrCallFailed is matched by every probe call that reverted or returned false.
	ErrCallFailed = errors.New("call failed")
	// ErrSlotNotFound is returned when seeding a token without a known balance slot.
	ErrSlotNotFound = errors.New("balance slot not found")

	// DefaultHelper address the helper contract is installed at.
	DefaultHelper = common.HexToAddress("0x0000000000000000000000000000000000001e57")
	// DefaultSender caller of direct token probes.
	DefaultSender = common.HexToAddress("0x001a06BF8cE4afdb3f5618f6bafe35e9Fc09F187")
	// DefaultRecipient receiver of transfer probes.
	DefaultRecipient = common.HexToAddress("0x4E17607Fb72C01C280d7b5c41Ba9A2109D74a32C")

	maxWord = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// CallFailedError describes a probe call that did not succeed.
type CallFailedError struct {
	Op     string
	Target common.Address
	Reason string
	Err    error
}

func (e *CallFailedError) Error() string {
	msg := fmt.Sprintf("%s on %s failed", e.Op, e.Target.Hex())
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

// Unwrap returns the EVM error.
func (e *CallFailedError) Unwrap() error { return e.Err }

// Is makes every CallFailedError match ErrCallFailed.
func (e *CallFailedError) Is(target error) bool { return target == ErrCallFailed }

type chain interface {
	Call(ctx context.Context, msg fork.CallMsg) (*fork.CallResult, error)
	SetState(addr common.Address, key, value common.Hash)
	SetBalance(ctx context.Context, addr common.Address, amount *big.Int) error
	DeployAt(addr common.Address, code []byte)
	Snapshot() int
	Revert(id int) error
}

// Config addresses and limits of the sandbox.
type Config struct {
	// Helper is where the swap helper contract is installed.
	Helper common.Address
	// Sender calls direct token probes.
	Sender common.Address
	// Recipient receives transfer probes.
	Recipient common.Address
	// GasLimit bounds every probe call.
	GasLimit uint64
}

// Sandbox runs probes on one fork. It is not safe for concurrent use.
type Sandbox struct {
	chain    chain
	cfg      Config
	slippage uint64
	l        *zap.Logger
}

// New installs the helper contract into c and checks that it executes.
func New(ctx context.Context, c chain, cfg Config, l *zap.Logger) (*Sandbox, error) {
	if cfg.Helper == (common.Address{}) {
		cfg.Helper = DefaultHelper
	}
	if cfg.Sender == (common.Address{}) {
		cfg.Sender = DefaultSender
	}
	if cfg.Recipient == (common.Address{}) {
		cfg.Recipient = DefaultRecipient
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = defaultGasLimit
	}
	if l == nil {
		l = zap.NewNop()
	}

	s := &Sandbox{chain: c, cfg: cfg, l: l}
	c.DeployAt(cfg.Helper, HelperRuntime())

	res, err := s.call(ctx, "slippage", cfg.Sender, cfg.Helper, slippageSelector)
	if err != nil {
		return nil, errors.Wrap(err, "check helper deployment")
	}
	if len(res) != 32 {
		return nil, errors.Errorf("helper deployment check returned %d bytes", len(res))
	}
	s.slippage = new(big.Int).SetBytes(res).Uint64()
	if s.slippage >= 100 {
		return nil, errors.Errorf("helper reports invalid slippage buffer %d%%", s.slippage)
	}

	return s, nil
}

// Helper returns the helper contract address. Swap probes spend its balances.
func (s *Sandbox) Helper() common.Address {
	return s.cfg.Helper
}

// Sender returns the caller of direct token probes.
func (s *Sandbox) Sender() common.Address {
	return s.cfg.Sender
}

// Recipient returns the receiver of transfer probes.
func (s *Sandbox) Recipient() common.Address {
	return s.cfg.Recipient
}

// SlippagePercent returns the output buffer the helper applies to its quotes.
func (s *Sandbox) SlippagePercent() uint64 {
	return s.slippage
}

// SeedBalance writes amount as the token balance of holder directly into storage.
func (s *Sandbox) SeedBalance(token common.Address, slot domain.BalanceSlot, holder common.Address, amount *big.Int) error {
	if !slot.Found {
		return errors.Wrapf(ErrSlotNotFound, "seed %s", token.Hex())
	}
	word, err := toWord(amount)
	if err != nil {
		return errors.Wrapf(err, "seed %s", token.Hex())
	}

	s.chain.SetState(token, slot.Key(holder), word)
	return nil
}

// SeedNativeBalance sets the native balance of holder.
func (s *Sandbox) SeedNativeBalance(ctx context.Context, holder common.Address, amount *big.Int) error {
	return errors.Wrapf(s.chain.SetBalance(ctx, holder, amount), "seed native balance of %s", holder.Hex())
}

// BalanceOf calls balanceOf(holder) on token.
func (s *Sandbox) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, errors.Wrap(err, "pack balanceOf")
	}
	ret, err := s.call(ctx, "balanceOf", s.cfg.Sender, token, data)
	if err != nil {
		return nil, err
	}
	if len(ret) < 32 {
		return nil, &CallFailedError{Op: "balanceOf", Target: token, Reason: "short return data"}
	}
	return new(big.Int).SetBytes(ret[:32]), nil
}

// TokenMetadata reads symbol and decimals of token. Symbols encoded as bytes32 are accepted.
func (s *Sandbox) TokenMetadata(ctx context.Context, token common.Address) (domain.Token, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return domain.Token{}, errors.Wrap(err, "pack decimals")
	}
	ret, err := s.call(ctx, "decimals", s.cfg.Sender, token, data)
	if err != nil {
		return domain.Token{}, err
	}
	if len(ret) < 32 {
		return domain.Token{}, &CallFailedError{Op: "decimals", Target: token, Reason: "short return data"}
	}
	decimals := new(big.Int).SetBytes(ret[:32])
	if !decimals.IsUint64() || decimals.Uint64() > 77 {
		return domain.Token{}, &CallFailedError{Op: "decimals", Target: token, Reason: "decimals out of range"}
	}

	data, err = erc20ABI.Pack("symbol")
	if err != nil {
		return domain.Token{}, errors.Wrap(err, "pack symbol")
	}
	ret, err = s.call(ctx, "symbol", s.cfg.Sender, token, data)
	if err != nil {
		return domain.Token{}, err
	}

	return domain.Token{
		Address:  token,
		Symbol:   decodeSymbol(ret),
		Decimals: uint8(decimals.Uint64()),
	}, nil
}

func decodeSymbol(ret []byte) string {
	if out, err := erc20ABI.Unpack("symbol", ret); err == nil && len(out) == 1 {
		if sym, ok := out[0].(string); ok {
			return sym
		}
	}
	if len(ret) == 32 {
		return string(bytes.TrimRight(ret, "\x00"))
	}
	return ""
}

// Reserves returns the pool reserves ordered as (reserve of tokenIn, reserve of the other side).
func (s *Sandbox) Reserves(ctx context.Context, pool, tokenIn, tokenOut common.Address) (*big.Int, *big.Int, error) {
	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, errors.Wrap(err, "pack getReserves")
	}
	ret, err := s.call(ctx, "getReserves", s.cfg.Sender, pool, data)
	if err != nil {
		return nil, nil, err
	}
	out, err := pairABI.Unpack("getReserves", ret)
	if err != nil || len(out) < 2 {
		return nil, nil, &CallFailedError{Op: "getReserves", Target: pool, Reason: "undecodable reserves"}
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, &CallFailedError{Op: "getReserves", Target: pool, Reason: "undecodable reserves"}
	}

	if bytes.Compare(tokenIn.Bytes(), tokenOut.Bytes()) < 0 {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}

// call executes data on to and returns the return data of a successful call.
func (s *Sandbox) call(ctx context.Context, op string, from, to common.Address, data []byte) ([]byte, error) {
	res, err := s.chain.Call(ctx, fork.CallMsg{From: from, To: to, Data: data, Gas: s.cfg.GasLimit})
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	if !res.Success {
		return nil, &CallFailedError{Op: op, Target: to, Reason: res.Reason, Err: res.Err}
	}
	return res.ReturnData, nil
}

// atomic runs fn as one unit: when it fails every change it made is discarded.
// With keep unset the changes are discarded on success too.
func (s *Sandbox) atomic(keep bool, fn func() error) error {
	snapshot := s.chain.Snapshot()
	if err := fn(); err != nil {
		if revertErr := s.chain.Revert(snapshot); revertErr != nil {
			s.l.Error("failed to roll back probe", zap.Error(revertErr))
		}
		return err
	}
	if !keep {
		return s.chain.Revert(snapshot)
	}
	return nil
}

func toWord(amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() < 0 || amount.Cmp(maxWord) > 0 {
		return common.Hash{}, errors.Errorf("amount %v does not fit a storage word", amount)
	}
	return common.BigToHash(amount), nil
}
