// Package locator discovers the storage slot of a token's balance mapping.
package locator

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/internal/services/sandbox"
)

// DefaultMaxSlot is the highest mapping index probed by default.
const DefaultMaxSlot = 200

// probeValue is written as a fake balance. It is distinct from any realistic balance.
var probeValue = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000f00dbabe")

var layouts = []domain.SlotLayout{domain.LayoutSolidity, domain.LayoutVyper}

type chain interface {
	SetState(addr common.Address, key, value common.Hash)
	Snapshot() int
	Revert(id int) error
}

type balanceReader interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// Cache memoizes located slots per token. It is safe for concurrent use and meant to be
// shared by every locator of a run, since all forks are pinned to the same block.
type Cache struct {
	mu    sync.RWMutex
	slots map[common.Address]domain.BalanceSlot
	group singleflight.Group
}

// NewCache creates an empty slot cache.
func NewCache() *Cache {
	return &Cache{slots: make(map[common.Address]domain.BalanceSlot)}
}

// Get returns the cached slot of token.
func (c *Cache) Get(token common.Address) (domain.BalanceSlot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	slot, ok := c.slots[token]
	return slot, ok
}

func (c *Cache) put(token common.Address, slot domain.BalanceSlot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.slots[token] = slot
}

// Locator finds balance slots on one fork.
type Locator struct {
	chain   chain
	reader  balanceReader
	cache   *Cache
	maxSlot uint64
	l       *zap.Logger
	onProbe func(outcome string)
}

// Option configures a Locator.
type Option func(*Locator)

// WithMaxSlot sets the highest probed mapping index.
func WithMaxSlot(n uint64) Option {
	return func(l *Locator) {
		l.maxSlot = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Locator) {
		l.l = logger
	}
}

// WithOutcomeHook registers fn to be called with "found", "not_found" or "error"
// after every uncached lookup.
func WithOutcomeHook(fn func(outcome string)) Option {
	return func(l *Locator) {
		l.onProbe = fn
	}
}

// New creates a locator writing probes through chain and reading them back through reader.
// A nil cache gives the locator a private one.
func New(chain chain, reader balanceReader, cache *Cache, opts ...Option) *Locator {
	if cache == nil {
		cache = NewCache()
	}
	l := &Locator{
		chain:   chain,
		reader:  reader,
		cache:   cache,
		maxSlot: DefaultMaxSlot,
		l:       zap.NewNop(),
		onProbe: func(string) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate returns the balance slot of token, probing the mapping indexes 0..max in order
// under both layouts. The lowest matching index wins. A token without a match yields
// domain.SlotNotFound and no error. Results are cached per token, failures are not.
func (l *Locator) Locate(ctx context.Context, token, holder common.Address) (domain.BalanceSlot, error) {
	if slot, ok := l.cache.Get(token); ok {
		return slot, nil
	}

	v, err, _ := l.cache.group.Do(token.Hex(), func() (any, error) {
		if slot, ok := l.cache.Get(token); ok {
			return slot, nil
		}

		slot, err := l.scan(ctx, token, holder)
		if err != nil {
			l.onProbe("error")
			return nil, err
		}

		l.cache.put(token, slot)
		if slot.Found {
			l.onProbe("found")
		} else {
			l.onProbe("not_found")
		}
		l.l.Debug("balance slot located",
			zap.Stringer("token", token),
			zap.Stringer("slot", slot))

		return slot, nil
	})
	if err != nil {
		return domain.SlotNotFound, err
	}

	return v.(domain.BalanceSlot), nil
}

func (l *Locator) scan(ctx context.Context, token, holder common.Address) (domain.BalanceSlot, error) {
	for i := uint64(0); i <= l.maxSlot; i++ {
		if err := ctx.Err(); err != nil {
			return domain.SlotNotFound, err
		}

		for _, layout := range layouts {
			ok, err := l.probe(ctx, token, holder, domain.BalanceSlot{Index: i, Layout: layout, Found: true})
			if err != nil {
				return domain.SlotNotFound, err
			}
			if ok {
				return domain.BalanceSlot{Index: i, Layout: layout, Found: true}, nil
			}
		}
	}

	return domain.SlotNotFound, nil
}

// probe writes the probe value under slot and checks whether balanceOf reports it.
// A failing balanceOf call is a mismatch, any other error is returned.
func (l *Locator) probe(ctx context.Context, token, holder common.Address, slot domain.BalanceSlot) (bool, error) {
	snapshot := l.chain.Snapshot()
	defer func() {
		if err := l.chain.Revert(snapshot); err != nil {
			l.l.Error("failed to roll back slot probe", zap.Error(err))
		}
	}()

	l.chain.SetState(token, slot.Key(holder), probeValue)

	balance, err := l.reader.BalanceOf(ctx, token, holder)
	if err != nil {
		if errors.Is(err, sandbox.ErrCallFailed) {
			return false, nil
		}
		return false, errors.Wrapf(err, "probe slot %s of %s", slot, token.Hex())
	}

	return balance.Cmp(probeValue.Big()) == 0, nil
}
