package verdicts

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

var (
	tokenA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenB = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func verdict(addr common.Address, status domain.Status) domain.Verdict {
	v := domain.NewVerdict(domain.Token{Address: addr, Symbol: "TKN", Decimals: 18}, common.HexToAddress("0xa0"), common.HexToAddress("0xb0"))
	switch status {
	case domain.StatusHoneypot:
		v.Flag(domain.ReasonSellTax)
		v.SellTaxBps = domain.Bps(9000)
	case domain.StatusInconclusive:
		v.Inconclusive(assert.AnError)
	}
	v.Complete()
	v.RunID = "run"
	v.CheckedAt = time.Unix(1_720_000_000, 0).UTC()
	return *v
}

func TestWALStore_SaveAndReplay(t *testing.T) {
	dir := t.TempDir()
	store, err := NewWALStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(verdict(tokenA, domain.StatusInconclusive)))
	require.NoError(t, store.Save(verdict(tokenB, domain.StatusHoneypot)))
	require.NoError(t, store.Save(verdict(tokenA, domain.StatusSafe)))
	assert.Equal(t, uint64(3), store.CurrentIndex())

	verdicts, err := store.Verdicts()
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	assert.Equal(t, tokenA, verdicts[0].Token.Address)
	assert.Equal(t, domain.StatusSafe, verdicts[0].Status)
	assert.Equal(t, domain.StatusHoneypot, verdicts[1].Status)
	assert.Equal(t, domain.ReasonSellTax, verdicts[1].Reason)
	require.NotNil(t, verdicts[1].SellTaxBps)
	assert.Equal(t, uint64(9000), *verdicts[1].SellTaxBps)

	trusted, err := store.Trusted()
	require.NoError(t, err)
	assert.Len(t, trusted, 1)
	assert.Equal(t, "TKN", trusted[tokenA].Symbol)

	require.NoError(t, store.Close())

	t.Run("reopened store replays the log", func(t *testing.T) {
		reopened, err := NewWALStore(dir)
		require.NoError(t, err)
		defer reopened.Close()

		verdicts, err := reopened.Verdicts()
		require.NoError(t, err)
		assert.Len(t, verdicts, 2)
		assert.Equal(t, uint64(3), reopened.CurrentIndex())
	})
}

func TestWALStore_EventsAfter(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(verdict(tokenA, domain.StatusSafe)))
	require.NoError(t, store.Save(verdict(tokenB, domain.StatusSafe)))

	records, err := store.EventsAfter(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(2), records[0].Index)
	assert.Equal(t, tokenB, records[0].Verdict.Token.Address)

	records, err = store.EventsAfter(2)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWALStore_RejectsEmptyToken(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.Save(domain.Verdict{}))

	var nilStore *WALStore
	assert.Error(t, nilStore.Save(verdict(tokenA, domain.StatusSafe)))
	assert.Zero(t, nilStore.CurrentIndex())
}
