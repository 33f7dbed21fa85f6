package clients

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/tokensieve/pkg/retrier"
)

// Backend is the subset of ethclient.Client used by the scanner.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthClient throttles and retries every request of a Backend.
type EthClient struct {
	backend Backend
	limiter *rate.Limiter
	retrier *retrier.Retrier
	close   func()
}

// DialEth connects to a JSON-RPC endpoint. rps caps requests per second, 0 disables the cap.
func DialEth(ctx context.Context, url string, rps float64, opts ...retrier.Option) (*EthClient, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	c := NewEthClient(ec, rps, opts...)
	c.close = ec.Close
	return c, nil
}

// NewEthClient wraps backend.
func NewEthClient(backend Backend, rps float64, opts ...retrier.Option) *EthClient {
	limit := rate.Inf
	burst := 0
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps) + 1
	}

	opts = append([]retrier.Option{
		retrier.WithInitialInterval(200 * time.Millisecond),
		retrier.WithMaxInterval(5 * time.Second),
		retrier.WithMaxRetries(4),
		retrier.WithRetryIf(IsTransient),
	}, opts...)

	return &EthClient{
		backend: backend,
		limiter: rate.NewLimiter(limit, burst),
		retrier: retrier.New(opts...),
	}
}

// Close releases the connection if the client dialed it.
func (c *EthClient) Close() {
	if c.close != nil {
		c.close()
	}
}

func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	return do(ctx, c, func(ctx context.Context) (*big.Int, error) {
		return c.backend.ChainID(ctx)
	})
}

func (c *EthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return do(ctx, c, func(ctx context.Context) (*types.Header, error) {
		return c.backend.HeaderByNumber(ctx, number)
	})
}

func (c *EthClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return do(ctx, c, func(ctx context.Context) (*big.Int, error) {
		return c.backend.BalanceAt(ctx, account, blockNumber)
	})
}

func (c *EthClient) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return do(ctx, c, func(ctx context.Context) (uint64, error) {
		return c.backend.NonceAt(ctx, account, blockNumber)
	})
}

func (c *EthClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return do(ctx, c, func(ctx context.Context) ([]byte, error) {
		return c.backend.CodeAt(ctx, account, blockNumber)
	})
}

func (c *EthClient) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	return do(ctx, c, func(ctx context.Context) ([]byte, error) {
		return c.backend.StorageAt(ctx, account, key, blockNumber)
	})
}

func (c *EthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return do(ctx, c, func(ctx context.Context) ([]byte, error) {
		return c.backend.CallContract(ctx, msg, blockNumber)
	})
}

func do[T any](ctx context.Context, c *EthClient, fn func(ctx context.Context) (T, error)) (T, error) {
	return retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (T, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx)
	})
}

// IsRateLimit reports whether err is a provider throttling response.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005") || strings.Contains(s, "429")
}

// IsTransient reports whether a failed request is worth repeating.
// Cancellation and reverted calls are final.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case IsRateLimit(err):
		return true
	case strings.Contains(err.Error(), "execution reverted"):
		return false
	}
	return true
}
