package proxy

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokensieve/internal/fork"
	"github.com/vadiminshakov/tokensieve/internal/fork/forktest"
)

var (
	token  = common.HexToAddress("0x3000000000000000000000000000000000000003")
	impl   = common.HexToAddress("0x5000000000000000000000000000000000000005")
	beacon = common.HexToAddress("0x6000000000000000000000000000000000000006")
)

func newTestInspector(t *testing.T, src *forktest.Source) *Inspector {
	t.Helper()

	f, err := fork.New(context.Background(), src, big.NewInt(forktest.DefaultBlock))
	require.NoError(t, err)
	return NewInspector(f, nil)
}

func minimalProxy(target common.Address) []byte {
	code := append([]byte{}, minimalPrefix...)
	code = append(code, target.Bytes()...)
	return append(code, minimalSuffix...)
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name     string
		storage  map[common.Hash]common.Address
		code     []byte
		wantKind Kind
		wantImpl *common.Address
	}{
		{
			name:     "plain token",
			code:     forktest.BalanceMapToken(0),
			wantKind: KindNone,
		},
		{
			name:     "eip1967 logic",
			storage:  map[common.Hash]common.Address{slots[0].key: impl},
			wantKind: KindEIP1967Logic,
			wantImpl: &impl,
		},
		{
			name:     "beacon",
			storage:  map[common.Hash]common.Address{slots[1].key: beacon},
			wantKind: KindEIP1967Beacon,
			wantImpl: &beacon,
		},
		{
			name:     "openzeppelin",
			storage:  map[common.Hash]common.Address{slots[2].key: impl},
			wantKind: KindOpenZeppelin,
			wantImpl: &impl,
		},
		{
			name:     "eip1822",
			storage:  map[common.Hash]common.Address{slots[3].key: impl},
			wantKind: KindEIP1822,
			wantImpl: &impl,
		},
		{
			name:     "logic slot takes precedence over beacon",
			storage:  map[common.Hash]common.Address{slots[0].key: impl, slots[1].key: beacon},
			wantKind: KindEIP1967Logic,
			wantImpl: &impl,
		},
		{
			name:     "minimal proxy",
			code:     minimalProxy(impl),
			wantKind: KindEIP1167Minimal,
			wantImpl: &impl,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := forktest.NewSource()
			if tt.code != nil {
				src.SetCode(token, tt.code)
			}
			for key, addr := range tt.storage {
				src.SetStorage(token, key, common.BytesToHash(addr.Bytes()))
			}

			res, err := newTestInspector(t, src).Inspect(context.Background(), token)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, res.Kind)
			assert.Equal(t, tt.wantImpl != nil, res.IsProxy)
			assert.Equal(t, tt.wantImpl, res.Implementation)
		})
	}
}

func TestInspect_IgnoresHighBytes(t *testing.T) {
	src := forktest.NewSource()
	// only the low 20 bytes are an address
	src.SetStorage(token, slots[0].key, common.HexToHash("0xffffffffffffffffffffffff0000000000000000000000000000000000000000"))

	res, err := newTestInspector(t, src).Inspect(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, res.IsProxy)
}

func TestInspect_RemoteFailure(t *testing.T) {
	src := forktest.NewSource()
	i := newTestInspector(t, src)
	src.FailOn(token)

	_, err := i.Inspect(context.Background(), token)
	require.ErrorIs(t, err, fork.ErrRemoteFetch)
}

func TestMinimalProxyTarget(t *testing.T) {
	target, ok := MinimalProxyTarget(minimalProxy(impl))
	require.True(t, ok)
	assert.Equal(t, impl, target)

	_, ok = MinimalProxyTarget(forktest.BalanceMapToken(0))
	assert.False(t, ok)

	_, ok = MinimalProxyTarget(append(minimalProxy(impl), 0x00))
	assert.False(t, ok)
}
