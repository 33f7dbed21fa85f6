// Package forktest provides an in-memory chain state source for tests.
package forktest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// DefaultBlock is the block number served by a new Source.
const DefaultBlock = 20_000_000

// ErrUnavailable is returned for every read once the source is broken.
var ErrUnavailable = errors.New("source unavailable")

// Account state of one address.
type Account struct {
	Balance *big.Int
	Nonce   uint64
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// Source in-memory remote state. It counts reads and can be made to fail.
type Source struct {
	mu       sync.Mutex
	chainID  *big.Int
	header   *types.Header
	accounts map[common.Address]*Account

	calls      map[string]int
	failOn     map[common.Address]bool
	broken     bool
	storageErr error
}

// NewSource creates an empty mainnet-like source at DefaultBlock.
func NewSource() *Source {
	return &Source{
		chainID: big.NewInt(1),
		header: &types.Header{
			Number:     big.NewInt(DefaultBlock),
			Time:       1_720_000_000,
			GasLimit:   30_000_000,
			BaseFee:    big.NewInt(10_000_000_000),
			Difficulty: new(big.Int),
			Coinbase:   common.HexToAddress("0x95222290DD7278Aa3Ddd389Cc1E1d165CC4BAfe5"),
		},
		accounts: make(map[common.Address]*Account),
		calls:    make(map[string]int),
		failOn:   make(map[common.Address]bool),
	}
}

// SetCode sets the runtime code of addr and gives it the nonce of a deployed contract.
func (s *Source) SetCode(addr common.Address, code []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(addr)
	acc.Code = common.CopyBytes(code)
	if acc.Nonce == 0 {
		acc.Nonce = 1
	}
}

// SetBalance sets the native balance of addr.
func (s *Source) SetBalance(addr common.Address, balance *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.account(addr).Balance = new(big.Int).Set(balance)
}

// SetStorage sets one storage word of addr.
func (s *Source) SetStorage(addr common.Address, key, value common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.account(addr).Storage[key] = value
}

// SetPair deploys Pair at addr trading token0 against token1 with the given reserves.
// token0 must sort below token1 as it does on chain.
func (s *Source) SetPair(addr, token0, token1 common.Address, reserve0, reserve1 *big.Int) {
	s.SetCode(addr, Pair)
	s.SetStorage(addr, common.Hash{}, common.BigToHash(reserve0))
	s.SetStorage(addr, common.BigToHash(big.NewInt(1)), common.BigToHash(reserve1))
	s.SetStorage(addr, common.BigToHash(big.NewInt(2)), common.BytesToHash(token0.Bytes()))
	s.SetStorage(addr, common.BigToHash(big.NewInt(3)), common.BytesToHash(token1.Bytes()))
}

// SetTokenBalance writes the balance of holder into a TaxToken or BalanceMapToken
// mapping at the given base slot.
func (s *Source) SetTokenBalance(token common.Address, slot byte, holder common.Address, amount *big.Int) {
	key := crypto.Keccak256Hash(common.LeftPadBytes(holder.Bytes(), 32), common.LeftPadBytes([]byte{slot}, 32))
	s.SetStorage(token, key, common.BigToHash(amount))
}

// FailOn makes every read of addr fail.
func (s *Source) FailOn(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failOn[addr] = true
}

// Break makes every read fail.
func (s *Source) Break() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.broken = true
}

// Calls returns how many times method was called.
func (s *Source) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[method]
}

// ChainID returns the chain id.
func (s *Source) ChainID(_ context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["ChainID"]++
	if s.broken {
		return nil, ErrUnavailable
	}
	return new(big.Int).Set(s.chainID), nil
}

// HeaderByNumber returns the single header the source knows, renumbered on request.
func (s *Source) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["HeaderByNumber"]++
	if s.broken {
		return nil, ErrUnavailable
	}
	h := types.CopyHeader(s.header)
	if number != nil {
		h.Number = new(big.Int).Set(number)
	}
	return h, nil
}

// BalanceAt returns the balance of account.
func (s *Source) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["BalanceAt"]++
	if err := s.check(account); err != nil {
		return nil, err
	}
	if acc, ok := s.accounts[account]; ok && acc.Balance != nil {
		return new(big.Int).Set(acc.Balance), nil
	}
	return new(big.Int), nil
}

// NonceAt returns the nonce of account.
func (s *Source) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["NonceAt"]++
	if err := s.check(account); err != nil {
		return 0, err
	}
	if acc, ok := s.accounts[account]; ok {
		return acc.Nonce, nil
	}
	return 0, nil
}

// CodeAt returns the code of account.
func (s *Source) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["CodeAt"]++
	if err := s.check(account); err != nil {
		return nil, err
	}
	if acc, ok := s.accounts[account]; ok {
		return common.CopyBytes(acc.Code), nil
	}
	return nil, nil
}

// StorageAt returns the storage word of account at key.
func (s *Source) StorageAt(_ context.Context, account common.Address, key common.Hash, _ *big.Int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["StorageAt"]++
	if err := s.check(account); err != nil {
		return nil, err
	}
	var value common.Hash
	if acc, ok := s.accounts[account]; ok {
		value = acc.Storage[key]
	}
	return value.Bytes(), nil
}

func (s *Source) check(account common.Address) error {
	if s.broken || s.failOn[account] {
		return errors.Wrapf(ErrUnavailable, "read %s", account.Hex())
	}
	return nil
}

func (s *Source) account(addr common.Address) *Account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = &Account{Storage: make(map[common.Hash]common.Hash)}
		s.accounts[addr] = acc
	}
	return acc
}
