// Package fork provides a local, mutable view of remote chain state at a fixed block.
// Reads fall through to the remote source once and are cached; writes stay local.
package fork

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultGasLimit is used for calls that do not set one.
const DefaultGasLimit = 30_000_000

var (
	// ErrRemoteFetch wraps every failure of the remote source.
	ErrRemoteFetch = errors.New("remote fetch failed")
	// ErrUnknownSnapshot is returned when reverting to a snapshot that no longer exists.
	ErrUnknownSnapshot = errors.New("unknown snapshot")

	errBalanceOverflow = errors.New("balance exceeds 256 bits")

	// deployer derives addresses for code installed with Deploy.
	deployer = common.HexToAddress("0x000000000000000000000000000000000000dE7e")
)

// FetchError remote source failure while reading state.
type FetchError struct {
	Op      string
	Account common.Address
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s of %s: %v", ErrRemoteFetch, e.Op, e.Account.Hex(), e.Err)
}

// Unwrap returns the source error.
func (e *FetchError) Unwrap() error { return e.Err }

// Is makes every FetchError match ErrRemoteFetch.
func (e *FetchError) Is(target error) bool { return target == ErrRemoteFetch }

// CallMsg synthetic message executed against the fork.
type CallMsg struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// CallResult outcome of one call.
type CallResult struct {
	Success    bool
	ReturnData []byte
	Logs       []*types.Log
	GasUsed    uint64
	// Err is the EVM error of a failed call, vm.ErrExecutionReverted for reverts.
	Err error
	// Reason is the decoded Error(string) revert reason, if any.
	Reason string
}

// Option configures a Fork.
type Option func(*Fork)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fork) {
		f.l = l
	}
}

// WithChainConfig overrides the chain config derived from the remote chain id.
func WithChainConfig(cfg *params.ChainConfig) Option {
	return func(f *Fork) {
		f.config = cfg
	}
}

// Fork is a read-through, write-local overlay over remote state at one block.
// A Fork is owned by a single classification and must not be shared between them.
type Fork struct {
	mu sync.Mutex

	src    Source
	header *types.Header
	config *params.ChainConfig
	state  *overlay
	hashes map[uint64]common.Hash

	deployed uint64
	l        *zap.Logger
}

// New creates a fork of src at block. A nil block pins the latest block at creation time.
func New(ctx context.Context, src Source, block *big.Int, opts ...Option) (*Fork, error) {
	f := &Fork{
		src:    src,
		hashes: make(map[uint64]common.Hash),
		l:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	header, err := src.HeaderByNumber(ctx, block)
	if err != nil {
		return nil, errors.Wrap(&FetchError{Op: "header", Err: err}, "fetch fork header")
	}
	f.header = header

	if f.config == nil {
		chainID, err := src.ChainID(ctx)
		if err != nil {
			return nil, errors.Wrap(&FetchError{Op: "chain id", Err: err}, "fetch chain id")
		}
		cfg := *params.MainnetChainConfig
		cfg.ChainID = chainID
		f.config = &cfg
	}

	db, err := state.New(types.EmptyRootHash, state.NewDatabaseForTesting())
	if err != nil {
		return nil, errors.Wrap(err, "create overlay state")
	}
	f.state = newOverlay(db, src, new(big.Int).Set(header.Number))

	f.l.Debug("fork created",
		zap.Uint64("block", header.Number.Uint64()),
		zap.Uint64("chain_id", f.config.ChainID.Uint64()))

	return f, nil
}

// Block returns the block number the fork is pinned to.
func (f *Fork) Block() *big.Int {
	return new(big.Int).Set(f.header.Number)
}

// Header returns a copy of the pinned block header.
func (f *Fork) Header() *types.Header {
	return types.CopyHeader(f.header)
}

// State reads the storage word of addr at key.
func (f *Fork) State(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.begin(ctx)
	value := f.state.GetState(addr, key)
	if err := f.state.end(); err != nil {
		return common.Hash{}, err
	}
	return value, nil
}

// SetState overwrites the storage word of addr at key. The remote source is never touched.
func (f *Fork) SetState(addr common.Address, key, value common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.state.slots[addr][key] {
		f.state.markSlot(addr, key)
	}
	f.state.StateDB.SetState(addr, key, value)
}

// Balance returns the native balance of addr.
func (f *Fork) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.begin(ctx)
	balance := f.state.GetBalance(addr)
	if err := f.state.end(); err != nil {
		return nil, err
	}
	return balance.ToBig(), nil
}

// SetBalance overwrites the native balance of addr.
func (f *Fork) SetBalance(ctx context.Context, addr common.Address, amount *big.Int) error {
	value, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return errors.Wrapf(errBalanceOverflow, "set balance of %s", addr.Hex())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.begin(ctx)
	f.state.loadAccount(addr)
	if err := f.state.end(); err != nil {
		return err
	}
	f.state.StateDB.SetBalance(addr, value, tracing.BalanceChangeUnspecified)
	return nil
}

// Nonce returns the nonce of addr.
func (f *Fork) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.begin(ctx)
	nonce := f.state.GetNonce(addr)
	if err := f.state.end(); err != nil {
		return 0, err
	}
	return nonce, nil
}

// Code returns the runtime code of addr.
func (f *Fork) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.begin(ctx)
	code := f.state.GetCode(addr)
	if err := f.state.end(); err != nil {
		return nil, err
	}
	return common.CopyBytes(code), nil
}

// Deploy installs runtime code at a fresh deterministic address with empty storage.
func (f *Fork) Deploy(code []byte) common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()

	addr := crypto.CreateAddress(deployer, f.deployed)
	f.deployed++
	f.state.install(addr, code)

	return addr
}

// DeployAt installs runtime code at addr with empty storage.
func (f *Fork) DeployAt(addr common.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.install(addr, code)
}

// Snapshot returns a rollback point covering every later change of the fork.
func (f *Fork) Snapshot() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state.Snapshot()
}

// Revert discards every change made after the snapshot was taken.
func (f *Fork) Revert(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.state.hasRevision(id) {
		return errors.Wrapf(ErrUnknownSnapshot, "revert to %d", id)
	}
	f.state.RevertToSnapshot(id)
	return nil
}

// Call executes msg against the overlay. Writes of a successful call stay in the
// overlay, writes of a failed call are discarded. Failed calls are reported through
// CallResult; the returned error is reserved for remote fetch failures.
func (f *Fork) Call(ctx context.Context, msg CallMsg) (*CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	gas := msg.Gas
	if gas == 0 {
		gas = DefaultGasLimit
	}
	value := new(uint256.Int)
	if msg.Value != nil {
		var overflow bool
		if value, overflow = uint256.FromBig(msg.Value); overflow {
			return nil, errors.New("call value exceeds 256 bits")
		}
	}

	f.state.begin(ctx)
	snapshot := f.state.Snapshot()
	logStart := len(f.state.logs)

	evm := f.newEVM(msg.From)
	f.warm(msg)

	ret, leftover, err := evm.Call(msg.From, msg.To, msg.Data, gas, value)

	if fetchErr := f.state.end(); fetchErr != nil {
		f.state.RevertToSnapshot(snapshot)
		return nil, errors.Wrapf(fetchErr, "call %s", msg.To.Hex())
	}

	result := &CallResult{
		ReturnData: common.CopyBytes(ret),
		GasUsed:    gas - leftover,
	}
	if err != nil {
		f.state.RevertToSnapshot(snapshot)
		result.Err = err
		if reason, unpackErr := abi.UnpackRevert(ret); unpackErr == nil {
			result.Reason = reason
		}
		f.l.Debug("call failed",
			zap.Stringer("from", msg.From),
			zap.Stringer("to", msg.To),
			zap.String("reason", result.Reason),
			zap.Error(err))
		return result, nil
	}

	result.Success = true
	result.Logs = append([]*types.Log(nil), f.state.logs[logStart:]...)
	return result, nil
}

// warm adds the call participants to the access list through the journal. The list
// carries over between calls so a revert spanning several calls finds every entry it undoes.
func (f *Fork) warm(msg CallMsg) {
	rules := f.config.Rules(f.header.Number, f.merged(), f.header.Time)
	if !rules.IsBerlin {
		return
	}
	f.state.AddAddressToAccessList(msg.From)
	f.state.AddAddressToAccessList(msg.To)
	for _, addr := range vm.ActivePrecompiles(rules) {
		f.state.AddAddressToAccessList(addr)
	}
	if rules.IsShanghai {
		f.state.AddAddressToAccessList(f.header.Coinbase)
	}
}

func (f *Fork) newEVM(origin common.Address) *vm.EVM {
	baseFee := new(big.Int)
	if f.header.BaseFee != nil {
		baseFee.Set(f.header.BaseFee)
	}
	difficulty := new(big.Int)
	if f.header.Difficulty != nil {
		difficulty.Set(f.header.Difficulty)
	}

	blockCtx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     f.blockHash,
		Coinbase:    f.header.Coinbase,
		GasLimit:    f.header.GasLimit,
		BlockNumber: new(big.Int).Set(f.header.Number),
		Time:        f.header.Time,
		Difficulty:  difficulty,
		BaseFee:     baseFee,
		BlobBaseFee: big.NewInt(1),
	}
	if f.merged() {
		random := f.header.MixDigest
		blockCtx.Random = &random
	}

	evm := vm.NewEVM(blockCtx, f.state, f.config, vm.Config{NoBaseFee: true})
	evm.SetTxContext(core.NewEVMTxContext(&core.Message{
		From:     origin,
		GasPrice: new(big.Int),
		Value:    new(big.Int),
	}))

	return evm
}

func (f *Fork) merged() bool {
	return f.header.Difficulty == nil || f.header.Difficulty.Sign() == 0
}

// blockHash resolves BLOCKHASH through the remote source. Failures are recorded on
// the overlay and abort the surrounding call.
func (f *Fork) blockHash(number uint64) common.Hash {
	if hash, ok := f.hashes[number]; ok {
		return hash
	}
	if f.state.err != nil {
		return common.Hash{}
	}

	header, err := f.src.HeaderByNumber(f.state.ctx, new(big.Int).SetUint64(number))
	if err != nil {
		f.state.fail("block hash", common.Address{}, err)
		return common.Hash{}
	}

	hash := header.Hash()
	f.hashes[number] = hash
	return hash
}
