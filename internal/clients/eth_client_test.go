package clients

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokensieve/internal/fork"
	"github.com/vadiminshakov/tokensieve/internal/fork/forktest"
	"github.com/vadiminshakov/tokensieve/pkg/retrier"
)

var _ fork.Source = (*EthClient)(nil)

// flakyBackend fails the first len(errs) calls of CallContract.
type flakyBackend struct {
	*forktest.Source

	mu    sync.Mutex
	errs  []error
	calls int
}

func (b *flakyBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return nil, err
	}
	return []byte{0x01}, nil
}

func fastRetries(opts ...retrier.Option) []retrier.Option {
	return append([]retrier.Option{
		retrier.WithInitialInterval(time.Millisecond),
		retrier.WithMaxInterval(time.Millisecond),
	}, opts...)
}

func TestEthClient_RetriesRateLimit(t *testing.T) {
	backend := &flakyBackend{
		Source: forktest.NewSource(),
		errs: []error{
			errors.New("429 Too Many Requests"),
			errors.New("json-rpc error -32005: limit exceeded"),
		},
	}
	c := NewEthClient(backend, 0, fastRetries()...)

	out, err := c.CallContract(context.Background(), ethereum.CallMsg{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, out)
	assert.Equal(t, 3, backend.calls)
}

func TestEthClient_RevertIsFinal(t *testing.T) {
	backend := &flakyBackend{
		Source: forktest.NewSource(),
		errs:   []error{errors.New("execution reverted: UniswapV2: EXPIRED")},
	}
	c := NewEthClient(backend, 0, fastRetries()...)

	_, err := c.CallContract(context.Background(), ethereum.CallMsg{}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, backend.calls)
}

func TestEthClient_GivesUp(t *testing.T) {
	backend := &flakyBackend{Source: forktest.NewSource()}
	for i := 0; i < 10; i++ {
		backend.errs = append(backend.errs, fmt.Errorf("connection reset %d", i))
	}
	c := NewEthClient(backend, 0, fastRetries(retrier.WithMaxRetries(2))...)

	_, err := c.CallContract(context.Background(), ethereum.CallMsg{}, nil)
	require.Error(t, err)
	assert.Equal(t, 3, backend.calls)
}

func TestEthClient_ForwardsSourceReads(t *testing.T) {
	src := forktest.NewSource()
	addr := common.HexToAddress("0x1000000000000000000000000000000000000001")
	src.SetStorage(addr, common.HexToHash("0x01"), common.HexToHash("0x2a"))
	c := NewEthClient(&flakyBackend{Source: src}, 1000)
	ctx := context.Background()

	raw, err := c.StorageAt(ctx, addr, common.HexToHash("0x01"), nil)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x2a").Bytes(), raw)

	id, err := c.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.Int64())
}

func TestEthClient_Cancelled(t *testing.T) {
	backend := &flakyBackend{Source: forktest.NewSource(), errs: []error{errors.New("boom")}}
	c := NewEthClient(backend, 0, retrier.WithInitialInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := c.CallContract(ctx, ethereum.CallMsg{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{errors.Wrap(context.DeadlineExceeded, "call"), false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("execution reverted"), false},
		{errors.New("EOF"), true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransient(tt.err), "%v", tt.err)
	}
}
