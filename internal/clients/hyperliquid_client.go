package clients

import (
	"context"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

// NewHyperliquidInfo creates a client for the Hyperliquid public Info API at baseURL.
// The exchange behind it is keyed with a throwaway key that never signs anything.
func NewHyperliquidInfo(ctx context.Context, baseURL string) (*hyperliquid.Info, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate hyperliquid key")
	}
	account := crypto.PubkeyToAddress(key.PublicKey).Hex()

	// Info and SpotMeta are fetched lazily by the SDK
	ex := hyperliquid.NewExchange(ctx, key, baseURL, nil, "", account, nil)
	return ex.Info(), nil
}
