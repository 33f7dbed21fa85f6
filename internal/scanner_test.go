package internal

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/config"
	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/internal/fork/forktest"
	"github.com/vadiminshakov/tokensieve/internal/services/gmx"
	"github.com/vadiminshakov/tokensieve/internal/services/honeypot"
	"github.com/vadiminshakov/tokensieve/internal/services/sandbox"
	"github.com/vadiminshakov/tokensieve/internal/storage/verdicts"
)

var (
	weth    = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	safe    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	scam    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	unknown = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// chainBackend serves state from an in-memory source. Contract calls are not supported.
type chainBackend struct {
	*forktest.Source
}

func (chainBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("execution reverted")
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		References: []config.Reference{{Address: weth, Amount: decimal.NewFromFloat(0.1)}},
		MaxSlot:    16,
		WALDir:     filepath.Join(t.TempDir(), "wal"),
		Pools:      config.Pools{File: filepath.Join(t.TempDir(), "pools.yaml")},
	}
}

func journal(t *testing.T, dir string, vs ...domain.Verdict) {
	t.Helper()

	store, err := verdicts.NewWALStore(dir)
	require.NoError(t, err)
	for _, v := range vs {
		require.NoError(t, store.Save(v))
	}
	require.NoError(t, store.Close())
}

func verdict(token common.Address, status domain.Status) domain.Verdict {
	v := domain.NewVerdict(domain.Token{Address: token, Decimals: 18}, common.Address{}, weth)
	switch status {
	case domain.StatusHoneypot:
		v.Flag(domain.ReasonSellFailed)
	case domain.StatusInconclusive:
		v.Inconclusive(errors.New("rpc down"))
	}
	v.Complete()
	return *v
}

func TestScanner_NoUsableReferences(t *testing.T) {
	s, err := NewScanner(context.Background(), testConfig(t), chainBackend{forktest.NewSource()}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint64(forktest.DefaultBlock), s.sessions.Block())
	assert.NotEmpty(t, s.RunID)

	_, err = s.Scan(context.Background())
	assert.ErrorIs(t, err, honeypot.ErrNoReferences)

	// the first setup result sticks
	_, err = s.Token(context.Background(), safe)
	assert.ErrorIs(t, err, honeypot.ErrNoReferences)
}

func TestScanner_LoadsJournal(t *testing.T) {
	conf := testConfig(t)
	journal(t, conf.WALDir,
		verdict(safe, domain.StatusSafe),
		verdict(scam, domain.StatusHoneypot),
		verdict(unknown, domain.StatusInconclusive),
	)

	s, err := NewScanner(context.Background(), conf, chainBackend{forktest.NewSource()}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	got := make(map[common.Address]domain.Status)
	for _, v := range s.Verdicts() {
		got[v.Token.Address] = v.Status
	}
	// inconclusive tokens are probed again
	assert.Equal(t, map[common.Address]domain.Status{
		safe: domain.StatusSafe,
		scam: domain.StatusHoneypot,
	}, got)
}

func TestScanner_Tradable(t *testing.T) {
	conf := testConfig(t)
	other := common.HexToAddress("0x4444444444444444444444444444444444444444")
	journal(t, conf.WALDir,
		verdict(safe, domain.StatusSafe),
		verdict(other, domain.StatusSafe),
		verdict(scam, domain.StatusHoneypot),
	)

	s, err := NewScanner(context.Background(), conf, chainBackend{forktest.NewSource()}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	list := []domain.Pool{
		{Address: common.HexToAddress("0xa1"), Token0: safe, Token1: other},
		{Address: common.HexToAddress("0xa2"), Token0: scam, Token1: safe},
		{Address: common.HexToAddress("0xa3"), Token0: unknown, Token1: other},
	}
	tradable, err := s.Tradable(list)
	require.NoError(t, err)
	assert.Equal(t, list[:1], tradable)
}

func TestNewScanner_UnreachableNode(t *testing.T) {
	src := forktest.NewSource()
	src.Break()

	_, err := NewScanner(context.Background(), testConfig(t), chainBackend{src}, zap.NewNop())
	assert.ErrorIs(t, err, forktest.ErrUnavailable)
}

func TestSimulateShort(t *testing.T) {
	bytesArray, err := abi.NewType("bytes[]", "", nil)
	require.NoError(t, err)
	ret, err := abi.Arguments{{Type: bytesArray}}.Pack([][]byte{{0x01}, {0x02}})
	require.NoError(t, err)

	conf := config.GMX{
		ExchangeRouter: config.GMXExchangeRouter,
		OrderVault:     config.GMXOrderVault,
		WETH:           config.ArbitrumWETH,
		Markets:        map[common.Address]common.Address{config.ArbitrumWETH: config.GMXWETHMarket},
	}
	req := gmx.ShortRequest{
		Owner:            config.DefaultSender,
		Collateral:       config.ArbitrumWETH,
		CollateralAmount: big.NewInt(1e16),
		SizeUSD:          decimal.NewFromInt(100),
	}

	t.Run("success", func(t *testing.T) {
		src := forktest.NewSource()
		src.SetCode(config.GMXExchangeRouter, forktest.Returner(ret))

		res, err := SimulateShort(context.Background(), conf, chainBackend{src}, req, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, [][]byte{{0x01}, {0x02}}, res.Results)
		assert.Equal(t, config.GMXExchangeRouter, res.Order.To)
		assert.Equal(t, big.NewInt(1e16), res.Order.Value)
	})

	t.Run("revert", func(t *testing.T) {
		src := forktest.NewSource()
		src.SetCode(config.GMXExchangeRouter, forktest.Reverter)

		res, err := SimulateShort(context.Background(), conf, chainBackend{src}, req, zap.NewNop())
		assert.ErrorIs(t, err, sandbox.ErrCallFailed)
		assert.NotEmpty(t, res.Order.Calldata)
	})
}
