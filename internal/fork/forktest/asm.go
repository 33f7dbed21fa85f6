package forktest

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Hand-assembled runtime code used by tests across packages.
var (
	// SlotReader returns SLOAD(calldata[0:32]).
	SlotReader = hexutil.MustDecode("0x600035546000526020" + "6000f3")

	// SlotWriter stores calldata[32:64] at key calldata[0:32] and stops.
	SlotWriter = hexutil.MustDecode("0x6020356000355500")

	// SlotWriterReverting stores like SlotWriter, emits LOG0 and then reverts.
	SlotWriterReverting = hexutil.MustDecode("0x60203560003555" + "60006000a0" + "60006000fd")

	// Logger emits one LOG0 with empty data and stops.
	Logger = hexutil.MustDecode("0x60006000a000")

	// Reverter always reverts with Error("nope").
	Reverter = hexutil.MustDecode(
		"0x" +
			"7f08c379a000000000000000000000000000000000000000000000000000000000" + // PUSH32 selector
			"600052" + // MSTORE at 0
			"6020600452" + // offset 0x20 at 4
			"6004602452" + // length 4 at 0x24
			"7f6e6f706500000000000000000000000000000000000000000000000000000000" + // PUSH32 "nope"
			"604452" + // MSTORE at 0x44
			"60646000fd", // REVERT(0, 0x64)
	)

	// Pair is a Uniswap V2 pair answering getReserves(), token0(), token1() and
	// swap(uint256,uint256,address,bytes) with the 0.3% fee K check. It keeps
	// reserve0, reserve1, token0 and token1 in slots 0 to 3 and ignores the swap callback data.
	Pair = hexutil.MustDecode(
		"0x" +
			"60003560e01c80630902f1ac146100375780630dfe16811461004e578063d21220a71461005a578063022c0d9f1461006657" + // dispatch
			"5b600080fd" + // revert
			"5b600054600052600154602052600060405260606000f3" + // getReserves
			"5b60025460005260206000f3" + // token0
			"5b60035460005260206000f3" + // token1
			"5b600435610100526024356101205260443561014052600054610160526001546101805261016051610100511015610032" +
			"576101805161012051101561003257610100516101205117156100325761010051156100cb576100cb6002546101005161019d56" + // swap: bounds, optimistic transfer of amount0Out
			"5b61012051156100e3576100e36003546101205161019d56" + // amount1Out
			"5b6100ee6002546101c756" + "5b6101a0526100fd6003546101c756" + // balances
			"5b6101c052610100516101605103806101a0511161011c5750600061012256" + "5b6101a05103" + // amount0In
			"5b6101e052610120516101805103806101c051116101415750600061014756" + "5b6101c05103" + // amount1In
			"5b610200526101e0516102005117156100325760036101e051026103e86101a0510203600361020051026103e86101c05102" +
			"0302620f42406101805161016051020211610032576101a0516000556101c05160015500" + // K check, update reserves
			"5b63a9059cbb60e01b6000526101405160045260245260206000604460006000855af115610032575056" + // transfer(to, amount)
			"5b6370a0823160e01b600052306004526020600060246000845afa1561003257506000519056", // balanceOf(this)
	)
)

// BalanceMapToken returns runtime code that answers every call as balanceOf(address)
// backed by a Solidity mapping at the given base slot.
func BalanceMapToken(slot byte) []byte {
	code := []byte{
		0x60, 0x04, 0x35, // PUSH1 4 CALLDATALOAD (holder)
		0x60, 0x00, 0x52, // PUSH1 0 MSTORE
		0x60, slot, // PUSH1 slot
		0x60, 0x20, 0x52, // PUSH1 0x20 MSTORE
		0x60, 0x40, 0x60, 0x00, 0x20, // SHA3(0, 0x40)
		0x54,             // SLOAD
		0x60, 0x00, 0x52, // PUSH1 0 MSTORE
		0x60, 0x20, 0x60, 0x00, 0xf3, // RETURN(0, 0x20)
	}
	return code
}

// VyperBalanceMapToken is BalanceMapToken with the Vyper hashing order,
// keccak256(slot ++ holder).
func VyperBalanceMapToken(slot byte) []byte {
	code := []byte{
		0x60, slot, // PUSH1 slot
		0x60, 0x00, 0x52, // PUSH1 0 MSTORE
		0x60, 0x04, 0x35, // PUSH1 4 CALLDATALOAD (holder)
		0x60, 0x20, 0x52, // PUSH1 0x20 MSTORE
		0x60, 0x40, 0x60, 0x00, 0x20, // SHA3(0, 0x40)
		0x54,             // SLOAD
		0x60, 0x00, 0x52, // PUSH1 0 MSTORE
		0x60, 0x20, 0x60, 0x00, 0xf3, // RETURN(0, 0x20)
	}
	return code
}

// BytesToWord pads b into a calldata word.
func BytesToWord(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

// TaxToken returns runtime code of a minimal token keeping balances in a Solidity
// mapping at the given base slot. It answers balanceOf(address), transfer(address,uint256),
// decimals() with 18 and symbol() with the bytes32 "TAX", burning taxPercent of every transfer.
// Any other selector reverts, as does a transfer exceeding the sender balance.
func TaxToken(slot, taxPercent byte) []byte {
	code := []byte{
		// dispatch
		0x60, 0x00, 0x35, 0x60, 0xe0, 0x1c,
		0x80, 0x63, 0x70, 0xa0, 0x82, 0x31, 0x14, 0x61, 0x00, 0x37, 0x57, // balanceOf
		0x80, 0x63, 0xa9, 0x05, 0x9c, 0xbb, 0x14, 0x61, 0x00, 0x6c, 0x57, // transfer
		0x80, 0x63, 0x31, 0x3c, 0xe5, 0x67, 0x14, 0x61, 0x00, 0x51, 0x57, // decimals
		0x80, 0x63, 0x95, 0xd8, 0x9b, 0x41, 0x14, 0x61, 0x00, 0x5c, 0x57, // symbol
		// revert, also taken on insufficient balance
		0x5b, 0x60, 0x00, 0x80, 0xfd,
		// balanceOf
		0x5b,
		0x60, 0x04, 0x35, 0x60, 0x00, 0x52, 0x60, slot, 0x60, 0x20, 0x52,
		0x60, 0x40, 0x60, 0x00, 0x20, 0x54,
		0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3,
		// decimals
		0x5b, 0x60, 0x12, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3,
		// symbol
		0x5b, 0x62, 0x54, 0x41, 0x58, 0x60, 0xe8, 0x1b, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3,
		// transfer: debit caller
		0x5b,
		0x33, 0x60, 0x00, 0x52, 0x60, slot, 0x60, 0x20, 0x52,
		0x60, 0x40, 0x60, 0x00, 0x20, 0x80, 0x54,
		0x60, 0x24, 0x35, 0x80, 0x82, 0x10, 0x61, 0x00, 0x32, 0x57,
		0x90, 0x81, 0x90, 0x03, 0x82, 0x55, 0x90, 0x50,
		// tax
		0x60, 0x64, 0x60, taxPercent, 0x82, 0x02, 0x04, 0x90, 0x03,
		// credit recipient
		0x60, 0x04, 0x35, 0x60, 0x00, 0x52, 0x60, slot, 0x60, 0x20, 0x52,
		0x60, 0x40, 0x60, 0x00, 0x20, 0x80, 0x54, 0x82, 0x01, 0x90, 0x55,
		0x50, 0x60, 0x01, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3,
	}
	return code
}

// Returner returns runtime code that answers every call with data.
func Returner(data []byte) []byte {
	size := []byte{byte(len(data) >> 8), byte(len(data))}
	code := []byte{
		0x61, size[0], size[1], // PUSH2 size
		0x60, 0x0e, // PUSH1 offset of data
		0x60, 0x00, // PUSH1 0
		0x39,                   // CODECOPY
		0x61, size[0], size[1], // PUSH2 size
		0x60, 0x00, // PUSH1 0
		0xf3, // RETURN
	}
	return append(code, data...)
}
