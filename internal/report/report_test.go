package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

func TestBps(t *testing.T) {
	tests := []struct {
		in   *uint64
		want string
	}{
		{nil, "-"},
		{domain.Bps(0), "0%"},
		{domain.Bps(250), "2.5%"},
		{domain.Bps(1000), "10%"},
		{domain.Bps(1234), "12.34%"},
		{domain.Bps(10_000), "100%"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, bps(tt.in))
	}
}

func TestPrint(t *testing.T) {
	safe := domain.NewVerdict(domain.Token{Address: common.HexToAddress("0x01"), Symbol: "GOOD"}, common.Address{}, common.Address{})
	safe.BuyTaxBps = domain.Bps(100)
	safe.Complete()

	impl := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	proxy := domain.NewVerdict(domain.Token{Address: common.HexToAddress("0x02"), Symbol: "PRXY"}, common.Address{}, common.Address{})
	proxy.IsProxy = true
	proxy.Implementation = &impl
	proxy.Flag(domain.ReasonProxy)
	proxy.Complete()

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, []domain.Verdict{*safe, *proxy}))
	out := buf.String()

	assert.Contains(t, out, "GOOD")
	assert.Contains(t, out, "proxy")
	assert.Contains(t, strings.ToLower(out), "0x0000..00ff")
	assert.Contains(t, out, "2 tokens: 1 safe, 1 honeypot, 0 inconclusive")
	assert.Less(t, strings.Index(out, "PRXY"), strings.Index(out, "GOOD"), "honeypots are listed first")

	buf.Reset()
	require.NoError(t, Print(&buf, nil))
	assert.Equal(t, "no verdicts\n", buf.String())
}
