package main

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokensieve/config"
)

func TestShortRequest(t *testing.T) {
	cfg := config.GMX{WETH: config.ArbitrumWETH}

	req, err := shortRequest(cfg, config.DefaultSender.Hex(), "0.5", "250", "ETH")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSender, req.Owner)
	assert.Equal(t, config.ArbitrumWETH, req.Collateral)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(5), big.NewInt(1e17)), req.CollateralAmount)
	assert.Equal(t, "250", req.SizeUSD.String())
	assert.Equal(t, int32(18), req.IndexDecimals)

	req, err = shortRequest(cfg, config.DefaultSender.Hex(), "1", "10", "")
	require.NoError(t, err)
	assert.Zero(t, req.IndexDecimals)

	for name, args := range map[string][4]string{
		"bad owner":      {"0x12", "1", "10", "ETH"},
		"zero amount":    {config.DefaultSender.Hex(), "0", "10", "ETH"},
		"bad size":       {config.DefaultSender.Hex(), "1", "ten", "ETH"},
		"unknown symbol": {config.DefaultSender.Hex(), "1", "10", "DOGE"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := shortRequest(cfg, args[0], args[1], args[2], args[3])
			assert.Error(t, err)
		})
	}
}
