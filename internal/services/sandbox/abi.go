package sandbox

import (
	_ "embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const erc20JSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

const pairJSON = `[
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"swap","stateMutability":"nonpayable","inputs":[{"name":"amount0Out","type":"uint256"},{"name":"amount1Out","type":"uint256"},{"name":"to","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]}
]`

const helperJSON = `[
	{"type":"function","name":"getAmountOut","stateMutability":"pure","inputs":[{"name":"amountIn","type":"uint256"},{"name":"reserveIn","type":"uint256"},{"name":"reserveOut","type":"uint256"}],"outputs":[{"name":"amountOut","type":"uint256"}]},
	{"type":"function","name":"v2SimulateSwap","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"targetPair","type":"address"},{"name":"inputToken","type":"address"},{"name":"outputToken","type":"address"}],"outputs":[{"name":"amountOut","type":"uint256"},{"name":"realAfterBalance","type":"uint256"}]}
]`

var (
	erc20ABI  = mustParse(erc20JSON)
	pairABI   = mustParse(pairJSON)
	helperABI = mustParse(helperJSON)

	// slippageSelector reads the helper's slippage buffer in percent.
	slippageSelector = hexutil.MustDecode("0xcf62f25b")

	//go:embed helper.hex
	helperHex string
)

// HelperRuntime returns the runtime code of the swap simulation helper.
// Besides v2SimulateSwap and getAmountOut it exposes transfer helpers that are not used here.
func HelperRuntime() []byte {
	return hexutil.MustDecode("0x" + strings.TrimSpace(helperHex))
}

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
