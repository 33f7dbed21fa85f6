package fork

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokensieve/internal/fork/forktest"
)

var (
	contract = common.HexToAddress("0x1000000000000000000000000000000000000001")
	caller   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	slotA    = common.HexToHash("0x0a")
	slotB    = common.HexToHash("0x0b")
)

func newTestFork(t *testing.T, src *forktest.Source) *Fork {
	t.Helper()

	f, err := New(context.Background(), src, big.NewInt(forktest.DefaultBlock))
	require.NoError(t, err)
	return f
}

func slotCalldata(key, value common.Hash) []byte {
	return append(key.Bytes(), value.Bytes()...)
}

func TestFork_ReadThroughIsCached(t *testing.T) {
	src := forktest.NewSource()
	src.SetStorage(contract, slotA, common.HexToHash("0x2a"))
	f := newTestFork(t, src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := f.State(ctx, contract, slotA)
		require.NoError(t, err)
		assert.Equal(t, common.HexToHash("0x2a"), v)
	}
	assert.Equal(t, 1, src.Calls("StorageAt"))

	v, err := f.State(ctx, contract, slotB)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, v)
	assert.Equal(t, 2, src.Calls("StorageAt"))
}

func TestFork_WriteNeverTouchesRemote(t *testing.T) {
	src := forktest.NewSource()
	src.SetStorage(contract, slotA, common.HexToHash("0x2a"))
	f := newTestFork(t, src)

	f.SetState(contract, slotA, common.HexToHash("0x07"))

	v, err := f.State(context.Background(), contract, slotA)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x07"), v)
	assert.Zero(t, src.Calls("StorageAt"))
}

func TestFork_CallReadsRemoteStorage(t *testing.T) {
	src := forktest.NewSource()
	src.SetCode(contract, forktest.SlotReader)
	src.SetStorage(contract, slotA, common.HexToHash("0x2a"))
	f := newTestFork(t, src)

	res, err := f.Call(context.Background(), CallMsg{From: caller, To: contract, Data: slotA.Bytes()})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, common.HexToHash("0x2a").Bytes(), res.ReturnData)
	assert.NotZero(t, res.GasUsed)
}

func TestFork_SuccessfulCallKeepsWrites(t *testing.T) {
	src := forktest.NewSource()
	src.SetCode(contract, forktest.SlotWriter)
	src.SetStorage(contract, slotA, common.HexToHash("0x2a"))
	f := newTestFork(t, src)
	ctx := context.Background()

	res, err := f.Call(ctx, CallMsg{From: caller, To: contract, Data: slotCalldata(slotA, common.HexToHash("0x63"))})
	require.NoError(t, err)
	require.True(t, res.Success)

	v, err := f.State(ctx, contract, slotA)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x63"), v)
}

func TestFork_RevertedCallDiscardsWrites(t *testing.T) {
	src := forktest.NewSource()
	src.SetCode(contract, forktest.SlotWriterReverting)
	src.SetStorage(contract, slotA, common.HexToHash("0x2a"))
	f := newTestFork(t, src)
	ctx := context.Background()

	res, err := f.Call(ctx, CallMsg{From: caller, To: contract, Data: slotCalldata(slotA, common.HexToHash("0x63"))})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, vm.ErrExecutionReverted)
	assert.Empty(t, res.Logs)

	// the slot was loaded inside the reverted call; it must still resolve to the remote value
	v, err := f.State(ctx, contract, slotA)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x2a"), v)
}

func TestFork_RevertReasonIsDecoded(t *testing.T) {
	src := forktest.NewSource()
	src.SetCode(contract, forktest.Reverter)
	f := newTestFork(t, src)

	res, err := f.Call(context.Background(), CallMsg{From: caller, To: contract})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "nope", res.Reason)
}

func TestFork_CallCollectsLogs(t *testing.T) {
	src := forktest.NewSource()
	src.SetCode(contract, forktest.Logger)
	f := newTestFork(t, src)

	res, err := f.Call(context.Background(), CallMsg{From: caller, To: contract})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, contract, res.Logs[0].Address)
}

func TestFork_SnapshotRevert(t *testing.T) {
	src := forktest.NewSource()
	src.SetStorage(contract, slotA, common.HexToHash("0x2a"))
	f := newTestFork(t, src)
	ctx := context.Background()

	id := f.Snapshot()
	f.SetState(contract, slotA, common.HexToHash("0x01"))
	f.SetState(contract, slotB, common.HexToHash("0x02"))
	require.NoError(t, f.Revert(id))

	v, err := f.State(ctx, contract, slotA)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x2a"), v)

	v, err = f.State(ctx, contract, slotB)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, v)

	assert.ErrorIs(t, f.Revert(id), ErrUnknownSnapshot)
}

func TestFork_RevertSpanningSeveralCalls(t *testing.T) {
	second := common.HexToAddress("0x1100000000000000000000000000000000000011")
	failing := common.HexToAddress("0x1200000000000000000000000000000000000012")
	src := forktest.NewSource()
	src.SetCode(contract, forktest.SlotWriter)
	src.SetCode(second, forktest.SlotWriter)
	src.SetCode(failing, forktest.SlotWriterReverting)
	src.SetStorage(second, slotA, common.HexToHash("0x2a"))
	f := newTestFork(t, src)
	ctx := context.Background()

	id := f.Snapshot()
	calls := []CallMsg{
		{From: caller, To: contract, Data: slotCalldata(slotA, common.HexToHash("0x01"))},
		{From: caller, To: second, Data: slotCalldata(slotA, common.HexToHash("0x02"))},
		{From: caller, To: failing, Data: slotCalldata(slotB, common.HexToHash("0x03"))},
		{From: caller, To: contract, Data: slotCalldata(slotB, common.HexToHash("0x04"))},
	}
	for _, msg := range calls {
		_, err := f.Call(ctx, msg)
		require.NoError(t, err)
	}

	require.NotPanics(t, func() {
		require.NoError(t, f.Revert(id))
	})

	for _, tt := range []struct {
		addr common.Address
		key  common.Hash
		want common.Hash
	}{
		{contract, slotA, common.Hash{}},
		{contract, slotB, common.Hash{}},
		{second, slotA, common.HexToHash("0x2a")},
		{failing, slotB, common.Hash{}},
	} {
		v, err := f.State(ctx, tt.addr, tt.key)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v, "%s %s", tt.addr.Hex(), tt.key.Hex())
	}

	res, err := f.Call(ctx, calls[1])
	require.NoError(t, err)
	assert.True(t, res.Success)
	v, err := f.State(ctx, second, slotA)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x02"), v)
}

func TestFork_RemoteFailureAbortsCall(t *testing.T) {
	src := forktest.NewSource()
	src.SetCode(contract, forktest.SlotReader)
	f := newTestFork(t, src)
	src.Break()

	_, err := f.Call(context.Background(), CallMsg{From: caller, To: contract, Data: slotA.Bytes()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteFetch)
	assert.ErrorIs(t, err, forktest.ErrUnavailable)

	_, err = f.State(context.Background(), contract, slotA)
	assert.ErrorIs(t, err, ErrRemoteFetch)
}

func TestFork_NewFailsWithoutSource(t *testing.T) {
	src := forktest.NewSource()
	src.Break()

	_, err := New(context.Background(), src, nil)
	assert.ErrorIs(t, err, ErrRemoteFetch)
}

func TestFork_NativeBalance(t *testing.T) {
	src := forktest.NewSource()
	src.SetBalance(caller, big.NewInt(5))
	f := newTestFork(t, src)
	ctx := context.Background()

	balance, err := f.Balance(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), balance)

	require.NoError(t, f.SetBalance(ctx, caller, big.NewInt(1_000)))
	recipient := common.HexToAddress("0x3000000000000000000000000000000000000003")

	res, err := f.Call(ctx, CallMsg{From: caller, To: recipient, Value: big.NewInt(400)})
	require.NoError(t, err)
	require.True(t, res.Success)

	balance, err = f.Balance(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(600), balance)

	balance, err = f.Balance(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(400), balance)

	assert.Error(t, f.SetBalance(ctx, caller, big.NewInt(-1)))
}

func TestWithChainConfig(t *testing.T) {
	src := forktest.NewSource()
	f, err := New(context.Background(), src, big.NewInt(forktest.DefaultBlock), WithChainConfig(params.SepoliaChainConfig))
	require.NoError(t, err)

	assert.Same(t, params.SepoliaChainConfig, f.config)
	assert.Zero(t, src.Calls("ChainID"))
}

func TestFork_Deploy(t *testing.T) {
	src := forktest.NewSource()
	f := newTestFork(t, src)
	ctx := context.Background()

	first := f.Deploy(forktest.SlotWriter)
	second := f.Deploy(forktest.SlotReader)
	require.NotEqual(t, first, second)

	code, err := f.Code(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, forktest.SlotReader, code)

	// deployed code has no remote storage behind it
	f.SetState(second, slotA, common.HexToHash("0x05"))
	res, err := f.Call(ctx, CallMsg{From: caller, To: second, Data: slotA.Bytes()})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, common.HexToHash("0x05").Bytes(), res.ReturnData)
	assert.Zero(t, src.Calls("StorageAt"))
}

func TestCachedSource(t *testing.T) {
	src := forktest.NewSource()
	src.SetStorage(contract, slotA, common.HexToHash("0x2a"))
	cached := NewCachedSource(src)
	ctx := context.Background()
	block := big.NewInt(forktest.DefaultBlock)

	for i := 0; i < 3; i++ {
		raw, err := cached.StorageAt(ctx, contract, slotA, block)
		require.NoError(t, err)
		assert.Equal(t, common.HexToHash("0x2a").Bytes(), raw)
	}
	assert.Equal(t, 1, src.Calls("StorageAt"))

	// latest-block reads are never cached
	_, err := cached.StorageAt(ctx, contract, slotA, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Calls("StorageAt"))

	t.Run("errors are not cached", func(t *testing.T) {
		broken := forktest.NewSource()
		broken.Break()
		c := NewCachedSource(broken)

		_, err := c.BalanceAt(ctx, caller, block)
		require.Error(t, err)
		_, err = c.BalanceAt(ctx, caller, block)
		require.Error(t, err)
		assert.Equal(t, 2, broken.Calls("BalanceAt"))
		assert.Zero(t, c.Len())
	})

	t.Run("forks share the cache", func(t *testing.T) {
		shared := forktest.NewSource()
		shared.SetCode(contract, forktest.SlotReader)
		c := NewCachedSource(shared)

		for i := 0; i < 2; i++ {
			f, err := New(ctx, c, block)
			require.NoError(t, err)
			res, err := f.Call(ctx, CallMsg{From: caller, To: contract, Data: slotA.Bytes()})
			require.NoError(t, err)
			require.True(t, res.Success)
		}
		// caller and contract, fetched once each
		assert.Equal(t, 2, shared.Calls("CodeAt"))
	})
}
