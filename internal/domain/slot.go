package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SlotLayout is the hashing order used by a compiler for single-level mappings.
type SlotLayout uint8

const (
	// LayoutSolidity keccak256(pad32(key) ++ pad32(slot)).
	LayoutSolidity SlotLayout = iota
	// LayoutVyper keccak256(pad32(slot) ++ pad32(key)).
	LayoutVyper
)

// String returns the string representation of the layout.
func (l SlotLayout) String() string {
	switch l {
	case LayoutSolidity:
		return "solidity"
	case LayoutVyper:
		return "vyper"
	default:
		return "unknown"
	}
}

// BalanceSlot describes where a token keeps its holder balances.
type BalanceSlot struct {
	Index  uint64     `json:"index"`
	Layout SlotLayout `json:"layout"`
	Found  bool       `json:"found"`
}

// SlotNotFound marks a token whose balance storage could not be discovered.
var SlotNotFound = BalanceSlot{}

// String returns the string representation.
func (s BalanceSlot) String() string {
	if !s.Found {
		return "not found"
	}
	return fmt.Sprintf("%d/%s", s.Index, s.Layout)
}

// Key returns the storage key holding the balance of holder.
func (s BalanceSlot) Key(holder common.Address) common.Hash {
	return MappingKey(s.Layout, holder, s.Index)
}

// MappingKey derives the storage key of key in a single-level mapping declared at index.
func MappingKey(layout SlotLayout, key common.Address, index uint64) common.Hash {
	k := common.LeftPadBytes(key.Bytes(), 32)
	i := common.LeftPadBytes(new(big.Int).SetUint64(index).Bytes(), 32)
	if layout == LayoutVyper {
		return crypto.Keccak256Hash(i, k)
	}
	return crypto.Keccak256Hash(k, i)
}
