package honeypot

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/internal/fork/forktest"
	"github.com/vadiminshakov/tokensieve/internal/services/sandbox"
)

var beaconSlot = common.HexToHash("0xa3f0ad74e5423aebfd80d3ef4346578335a9a72aeaee59ff6cb3582b35133d50")

func TestForkSessions_BeaconProxyIsRejected(t *testing.T) {
	src := forktest.NewSource()
	src.SetCode(weth, forktest.BalanceMapToken(3))
	src.SetCode(candidateToken, forktest.TaxToken(0, 0))
	src.SetStorage(candidateToken, beaconSlot, common.BytesToHash(impl.Bytes()))
	ctx := context.Background()

	sessions, err := NewForkSessions(ctx, src, big.NewInt(forktest.DefaultBlock), sandbox.Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(forktest.DefaultBlock), sessions.Block())

	c := New(sessions, Config{References: []Reference{{Address: weth, Amount: decimal.NewFromInt(1)}}})
	require.NoError(t, c.Setup(ctx))

	refs := c.References()
	require.Len(t, refs, 1)

	verdicts, err := c.Classify(ctx, []domain.Pool{{Address: pool, Token0: candidateToken, Token1: weth}})
	require.NoError(t, err)
	require.Len(t, verdicts, 1)

	v := verdicts[0]
	assert.Equal(t, domain.StatusHoneypot, v.Status)
	assert.Equal(t, domain.ReasonProxy, v.Reason)
	assert.True(t, v.IsProxy)
	require.NotNil(t, v.Implementation)
	assert.Equal(t, impl, *v.Implementation)
	assert.Nil(t, v.BuyTaxBps)
	assert.Nil(t, v.SellTaxBps)
	assert.Greater(t, sessions.Cached(), 0)
}

func TestForkSessions_LatestBlock(t *testing.T) {
	sessions, err := NewForkSessions(context.Background(), forktest.NewSource(), nil, sandbox.Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(forktest.DefaultBlock), sessions.Block())

	s, err := sessions.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sandbox.DefaultHelper, s.Helper())
}

func TestForkSessions_SlotsAreSharedBetweenSessions(t *testing.T) {
	src := forktest.NewSource()
	src.SetCode(weth, forktest.BalanceMapToken(3))
	ctx := context.Background()

	sessions, err := NewForkSessions(ctx, src, big.NewInt(forktest.DefaultBlock), sandbox.Config{}, nil)
	require.NoError(t, err)

	first, err := sessions.Open(ctx)
	require.NoError(t, err)
	slot, err := first.Locate(ctx, weth, sandbox.DefaultHelper)
	require.NoError(t, err)
	assert.Equal(t, domain.BalanceSlot{Index: 3, Layout: domain.LayoutSolidity, Found: true}, slot)

	second, err := sessions.Open(ctx)
	require.NoError(t, err)
	again, err := second.Locate(ctx, weth, sandbox.DefaultHelper)
	require.NoError(t, err)
	assert.Equal(t, slot, again)
}

func TestForkSessions_ClassifyAgainstPair(t *testing.T) {
	reserve := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))

	tests := []struct {
		name     string
		tax      byte
		status   domain.Status
		reason   string
		transfer uint64
		buy      uint64
		sell     uint64
	}{
		{"plain token", 0, domain.StatusSafe, "", 0, 0, 0},
		// only the direct pool sell sees the tax, the helper quotes on what the pool received
		{"twenty percent tax", 20, domain.StatusHoneypot, domain.ReasonSellTax, 2000, 1999, 1998},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := forktest.NewSource()
			src.SetCode(weth, forktest.TaxToken(1, 0))
			src.SetCode(candidateToken, forktest.TaxToken(1, tt.tax))
			src.SetPair(pool, candidateToken, weth, reserve, reserve)
			src.SetTokenBalance(candidateToken, 1, pool, reserve)
			src.SetTokenBalance(weth, 1, pool, reserve)
			ctx := context.Background()

			sessions, err := NewForkSessions(ctx, src, big.NewInt(forktest.DefaultBlock), sandbox.Config{}, nil)
			require.NoError(t, err)

			c := New(sessions, Config{
				References: []Reference{{Address: weth, Amount: decimal.NewFromInt(1)}},
				Thresholds: Thresholds{BuyBps: 5000, SellBps: 1000, TransferBps: 5000},
				PseudoSell: true,
			})
			require.NoError(t, c.Setup(ctx))

			verdicts, err := c.Classify(ctx, []domain.Pool{{Address: pool, Token0: candidateToken, Token1: weth}})
			require.NoError(t, err)
			require.Len(t, verdicts, 1)

			v := verdicts[0]
			assert.Equal(t, tt.status, v.Status)
			assert.Equal(t, tt.reason, v.Reason)
			assert.Equal(t, "TAX", v.Token.Symbol)
			assert.Equal(t, uint8(18), v.Token.Decimals)
			assert.False(t, v.TransferFailed)
			require.NotNil(t, v.TransferTaxBps)
			require.NotNil(t, v.BuyTaxBps)
			require.NotNil(t, v.SellTaxBps)
			assert.Equal(t, tt.transfer, *v.TransferTaxBps)
			assert.Equal(t, tt.buy, *v.BuyTaxBps)
			assert.Equal(t, tt.sell, *v.SellTaxBps)
		})
	}
}
