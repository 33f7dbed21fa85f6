package pools

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/config"
	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/pkg/retrier"
)

var (
	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	token = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func pairAddr(i int64) common.Address {
	return common.BigToAddress(big.NewInt(0xa000 + i))
}

// fakeFactory answers factory and pair calls for a factory with n pairs of token/weth.
type fakeFactory struct {
	factory common.Address
	n       int64

	mu    sync.Mutex
	calls int
	fail  int
}

func (f *fakeFactory) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("503 Service Unavailable")
	}

	method, err := factoryABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "allPairsLength":
		return method.Outputs.Pack(big.NewInt(f.n))
	case "allPairs":
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		i := args[0].(*big.Int).Int64()
		if i >= f.n {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(pairAddr(i))
	case "token0":
		return method.Outputs.Pack(token)
	case "token1":
		return method.Outputs.Pack(weth)
	}
	return nil, errors.New("unexpected call")
}

func TestFactoryLoader_NewestFirstAndCapped(t *testing.T) {
	factory := common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	caller := &fakeFactory{factory: factory, n: 10}
	loader := NewFactoryLoader(caller, config.Pools{
		Factories:     []config.Factory{{Name: "uniswap_v2", Address: factory}},
		MaxPerFactory: 3,
		Workers:       2,
	}, nil, zap.NewNop())

	pools, err := loader.Pools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 3)
	assert.Equal(t, pairAddr(9), pools[0].Address)
	assert.Equal(t, pairAddr(8), pools[1].Address)
	assert.Equal(t, pairAddr(7), pools[2].Address)
	assert.Equal(t, token, pools[0].Token0)
	assert.Equal(t, weth, pools[0].Token1)
}

func TestFactoryLoader_DeduplicatesAcrossFactories(t *testing.T) {
	caller := &fakeFactory{n: 2}
	loader := NewFactoryLoader(caller, config.Pools{
		Factories: []config.Factory{
			{Name: "a", Address: common.HexToAddress("0x01")},
			{Name: "b", Address: common.HexToAddress("0x02")},
		},
	}, nil, zap.NewNop())

	pools, err := loader.Pools(context.Background())
	require.NoError(t, err)
	assert.Len(t, pools, 2)
}

func TestFactoryLoader_Pair(t *testing.T) {
	loader := NewFactoryLoader(&fakeFactory{n: 1}, config.Pools{}, nil, zap.NewNop())

	pool, err := loader.Pair(context.Background(), pairAddr(0))
	require.NoError(t, err)
	assert.Equal(t, domain.Pool{Address: pairAddr(0), Token0: token, Token1: weth}, pool)
}

func TestFactoryLoader_RetriesTransientErrors(t *testing.T) {
	caller := &fakeFactory{n: 1, fail: 2}
	loader := NewFactoryLoader(caller, config.Pools{
		Factories: []config.Factory{{Name: "a", Address: common.HexToAddress("0x01")}},
	}, nil, zap.NewNop(), retrier.WithInitialInterval(time.Millisecond))

	pools, err := loader.Pools(context.Background())
	require.NoError(t, err)
	assert.Len(t, pools, 1)
}

func TestFactoryLoader_Unreachable(t *testing.T) {
	caller := &fakeFactory{n: 1, fail: 100}
	loader := NewFactoryLoader(caller, config.Pools{
		Factories: []config.Factory{{Name: "a", Address: common.HexToAddress("0x01")}},
	}, nil, zap.NewNop(), retrier.WithInitialInterval(time.Millisecond), retrier.WithMaxRetries(1))

	_, err := loader.Pools(context.Background())
	assert.Error(t, err)
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "pools.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
- address: "0x000000000000000000000000000000000000a000"
  token0: "0x1111111111111111111111111111111111111111"
  token1: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
`), 0o600))

		pools, err := NewFileLoader(path).Pools(ctx)
		require.NoError(t, err)
		require.Len(t, pools, 1)
		assert.Equal(t, pairAddr(0), pools[0].Address)
		assert.Equal(t, weth, pools[0].Token1)
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "pools.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"address":"0x000000000000000000000000000000000000a001",`+
			`"token0":"0x1111111111111111111111111111111111111111","token1":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"}]`), 0o600))

		pools, err := NewFileLoader(path).Pools(ctx)
		require.NoError(t, err)
		require.Len(t, pools, 1)
		assert.Equal(t, usdc, pools[0].Token1)
	})

	t.Run("missing token", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`- address: "0x000000000000000000000000000000000000a000"`), 0o600))

		_, err := NewFileLoader(path).Pools(ctx)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileLoader(filepath.Join(dir, "nope.yaml")).Pools(ctx)
		assert.Error(t, err)
	})
}

func TestFilter(t *testing.T) {
	pools := []domain.Pool{
		{Address: pairAddr(0), Token0: weth, Token1: usdc},
		{Address: pairAddr(1), Token0: token, Token1: weth},
	}
	trusted := map[common.Address]domain.Token{
		weth: {Address: weth},
		usdc: {Address: usdc},
	}

	got := Filter(pools, trusted)
	require.Len(t, got, 1)
	assert.Equal(t, pairAddr(0), got[0].Address)
	assert.Empty(t, Filter(pools, nil))
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.yaml")
	write := func(n int) {
		var data []byte
		for i := 0; i < n; i++ {
			data = append(data, []byte("- address: \""+pairAddr(int64(i)).Hex()+"\"\n"+
				"  token0: \""+token.Hex()+"\"\n"+
				"  token1: \""+weth.Hex()+"\"\n")...)
		}
		require.NoError(t, os.WriteFile(path, data, 0o600))
	}
	write(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []domain.Pool, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, NewFileLoader(path), 20*time.Millisecond, func(p []domain.Pool) { got <- p }, zap.NewNop())
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	write(2)

	select {
	case pools := <-got:
		assert.Len(t, pools, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("pools file change was not picked up")
	}

	cancel()
	assert.NoError(t, <-done)
}
