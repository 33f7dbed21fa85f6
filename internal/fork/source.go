package fork

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/singleflight"
)

// Source reads remote chain state. *ethclient.Client satisfies it.
type Source interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// CachedSource memoizes answers of a Source. State at a fixed block never changes,
// so successful answers are kept forever and shared by every fork of a run.
// Latest-block queries (nil block number) bypass the cache.
type CachedSource struct {
	src   Source
	group singleflight.Group

	mu      sync.RWMutex
	chainID *big.Int
	entries map[string]any
}

// NewCachedSource wraps src with a read-through cache.
func NewCachedSource(src Source) *CachedSource {
	return &CachedSource{
		src:     src,
		entries: make(map[string]any),
	}
}

// ChainID returns the chain id of the remote source.
func (c *CachedSource) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	id := c.chainID
	c.mu.RUnlock()
	if id != nil {
		return new(big.Int).Set(id), nil
	}

	id, err := c.src.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()

	return id, nil
}

// HeaderByNumber returns the header of the given block.
func (c *CachedSource) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if number == nil {
		return c.src.HeaderByNumber(ctx, nil)
	}
	v, err := c.do(fmt.Sprintf("h/%s", number), func() (any, error) {
		return c.src.HeaderByNumber(ctx, number)
	})
	if err != nil {
		return nil, err
	}
	return types.CopyHeader(v.(*types.Header)), nil
}

// BalanceAt returns the native balance of account.
func (c *CachedSource) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if blockNumber == nil {
		return c.src.BalanceAt(ctx, account, nil)
	}
	v, err := c.do(fmt.Sprintf("b/%s/%s", blockNumber, account.Hex()), func() (any, error) {
		return c.src.BalanceAt(ctx, account, blockNumber)
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(v.(*big.Int)), nil
}

// NonceAt returns the nonce of account.
func (c *CachedSource) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	if blockNumber == nil {
		return c.src.NonceAt(ctx, account, nil)
	}
	v, err := c.do(fmt.Sprintf("n/%s/%s", blockNumber, account.Hex()), func() (any, error) {
		return c.src.NonceAt(ctx, account, blockNumber)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// CodeAt returns the runtime code of account.
func (c *CachedSource) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if blockNumber == nil {
		return c.src.CodeAt(ctx, account, nil)
	}
	v, err := c.do(fmt.Sprintf("c/%s/%s", blockNumber, account.Hex()), func() (any, error) {
		return c.src.CodeAt(ctx, account, blockNumber)
	})
	if err != nil {
		return nil, err
	}
	return common.CopyBytes(v.([]byte)), nil
}

// StorageAt returns the storage word of account at key.
func (c *CachedSource) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	if blockNumber == nil {
		return c.src.StorageAt(ctx, account, key, nil)
	}
	v, err := c.do(fmt.Sprintf("s/%s/%s/%s", blockNumber, account.Hex(), key.Hex()), func() (any, error) {
		return c.src.StorageAt(ctx, account, key, blockNumber)
	})
	if err != nil {
		return nil, err
	}
	return common.CopyBytes(v.([]byte)), nil
}

// Len returns the number of cached answers.
func (c *CachedSource) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

func (c *CachedSource) do(key string, fetch func() (any, error)) (any, error) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		v, err := fetch()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = v
		c.mu.Unlock()

		return v, nil
	})

	return v, err
}
