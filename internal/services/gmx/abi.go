package gmx

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const exchangeRouterJSON = `[
	{"type":"function","name":"multicall","stateMutability":"payable","inputs":[{"name":"data","type":"bytes[]"}],"outputs":[{"name":"results","type":"bytes[]"}]},
	{"type":"function","name":"sendWnt","stateMutability":"payable","inputs":[{"name":"receiver","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"createOrder","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[
		{"name":"addresses","type":"tuple","components":[
			{"name":"receiver","type":"address"},
			{"name":"callbackContract","type":"address"},
			{"name":"uiFeeReceiver","type":"address"},
			{"name":"market","type":"address"},
			{"name":"initialCollateralToken","type":"address"},
			{"name":"swapPath","type":"address[]"}
		]},
		{"name":"numbers","type":"tuple","components":[
			{"name":"sizeDeltaUsd","type":"uint256"},
			{"name":"initialCollateralDeltaAmount","type":"uint256"},
			{"name":"triggerPrice","type":"uint256"},
			{"name":"acceptablePrice","type":"uint256"},
			{"name":"executionFee","type":"uint256"},
			{"name":"callbackGasLimit","type":"uint256"},
			{"name":"minOutputAmount","type":"uint256"}
		]},
		{"name":"orderType","type":"uint8"},
		{"name":"decreasePositionSwapType","type":"uint8"},
		{"name":"isLong","type":"bool"},
		{"name":"shouldUnwrapNativeToken","type":"bool"},
		{"name":"referralCode","type":"bytes32"}
	]}],"outputs":[{"name":"","type":"bytes32"}]}
]`

var routerABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(exchangeRouterJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// CreateOrderParamsAddresses mirrors the router struct of the same name.
type CreateOrderParamsAddresses struct {
	Receiver               common.Address
	CallbackContract       common.Address
	UiFeeReceiver          common.Address
	Market                 common.Address
	InitialCollateralToken common.Address
	SwapPath               []common.Address
}

// CreateOrderParamsNumbers mirrors the router struct of the same name. USD values carry 30 decimals.
type CreateOrderParamsNumbers struct {
	SizeDeltaUsd                 *big.Int
	InitialCollateralDeltaAmount *big.Int
	TriggerPrice                 *big.Int
	AcceptablePrice              *big.Int
	ExecutionFee                 *big.Int
	CallbackGasLimit             *big.Int
	MinOutputAmount              *big.Int
}

// CreateOrderParams is the createOrder argument.
type CreateOrderParams struct {
	Addresses                CreateOrderParamsAddresses
	Numbers                  CreateOrderParamsNumbers
	OrderType                uint8
	DecreasePositionSwapType uint8
	IsLong                   bool
	ShouldUnwrapNativeToken  bool
	ReferralCode             [32]byte
}
