package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Token ERC20 contract metadata.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	// Implementation is set only for tokens identified as delegate proxies.
	Implementation *common.Address `json:"implementation,omitempty"`
}

// WithImplementation returns a copy of the token pointing at impl.
func (t Token) WithImplementation(impl common.Address) Token {
	t.Implementation = &impl
	return t
}

// String returns the string representation.
func (t Token) String() string {
	if t.Symbol == "" {
		return t.Address.Hex()
	}
	return fmt.Sprintf("%s(%s)", t.Symbol, t.Address.Hex())
}
