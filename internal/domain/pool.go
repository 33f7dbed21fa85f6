// Package domain defines core data structures shared by the honeypot scanner.
package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pool AMM pair contract with its two tokens.
type Pool struct {
	Address common.Address `json:"address" yaml:"address"`
	Token0  common.Address `json:"token0" yaml:"token0"`
	Token1  common.Address `json:"token1" yaml:"token1"`
}

// String returns the string representation.
func (p Pool) String() string {
	return fmt.Sprintf("%s(%s/%s)", p.Address.Hex(), p.Token0.Hex(), p.Token1.Hex())
}

// Has reports whether token is one of the pool sides.
func (p Pool) Has(token common.Address) bool {
	return p.Token0 == token || p.Token1 == token
}

// Other returns the opposite side of the pool for token.
func (p Pool) Other(token common.Address) (common.Address, bool) {
	switch token {
	case p.Token0:
		return p.Token1, true
	case p.Token1:
		return p.Token0, true
	}
	return common.Address{}, false
}
