// Package proxy detects upgradeable and minimal proxy token contracts.
package proxy

import (
	"bytes"
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Kind names the proxy standard a contract was recognized by.
type Kind string

const (
	KindNone           Kind = ""
	KindEIP1967Logic   Kind = "eip1967_logic"
	KindEIP1967Beacon  Kind = "eip1967_beacon"
	KindOpenZeppelin   Kind = "openzeppelin"
	KindEIP1822        Kind = "eip1822"
	KindEIP1167Minimal Kind = "eip1167"
)

type slot struct {
	kind Kind
	key  common.Hash
}

// slots are checked in order, the first non-zero address wins.
var slots = []slot{
	{KindEIP1967Logic, common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")},
	{KindEIP1967Beacon, common.HexToHash("0xa3f0ad74e5423aebfd80d3ef4346578335a9a72aeaee59ff6cb3582b35133d50")},
	{KindOpenZeppelin, common.HexToHash("0x7050c9e0f4ca769c69bd3a8ef740bc37934f8e2c036e5a723fd8ee048ed3f8c3")},
	{KindEIP1822, common.HexToHash("0xc5f16f0fcc639fa48a6947836d9850f504798523bf8c9a3a87d5876cf622bcf7")},
}

var (
	minimalPrefix = common.FromHex("0x363d3d373d3d3d363d73")
	minimalSuffix = common.FromHex("0x5af43d82803e903d91602b57fd5bf3")
)

// Result of inspecting one contract.
type Result struct {
	IsProxy bool
	// Implementation is the logic contract, or the beacon for KindEIP1967Beacon.
	Implementation *common.Address
	Kind           Kind
}

type chain interface {
	State(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error)
	Code(ctx context.Context, addr common.Address) ([]byte, error)
}

// Inspector reads proxy markers of contracts on a fork.
type Inspector struct {
	chain chain
	l     *zap.Logger
}

// NewInspector creates an inspector reading from chain.
func NewInspector(chain chain, l *zap.Logger) *Inspector {
	if l == nil {
		l = zap.NewNop()
	}
	return &Inspector{chain: chain, l: l}
}

// Inspect reports whether addr is a proxy. Storage slots are checked before the
// minimal proxy code pattern.
func (i *Inspector) Inspect(ctx context.Context, addr common.Address) (Result, error) {
	for _, s := range slots {
		value, err := i.chain.State(ctx, addr, s.key)
		if err != nil {
			return Result{}, errors.Wrapf(err, "read %s slot of %s", s.kind, addr.Hex())
		}
		if impl := common.BytesToAddress(value.Bytes()); impl != (common.Address{}) {
			i.l.Debug("proxy detected",
				zap.Stringer("token", addr),
				zap.String("kind", string(s.kind)),
				zap.Stringer("implementation", impl))
			return Result{IsProxy: true, Implementation: &impl, Kind: s.kind}, nil
		}
	}

	code, err := i.chain.Code(ctx, addr)
	if err != nil {
		return Result{}, errors.Wrapf(err, "read code of %s", addr.Hex())
	}
	if impl, ok := MinimalProxyTarget(code); ok {
		i.l.Debug("minimal proxy detected",
			zap.Stringer("token", addr),
			zap.Stringer("implementation", impl))
		return Result{IsProxy: true, Implementation: &impl, Kind: KindEIP1167Minimal}, nil
	}

	return Result{}, nil
}

// MinimalProxyTarget returns the delegation target of EIP-1167 minimal proxy code.
func MinimalProxyTarget(code []byte) (common.Address, bool) {
	if len(code) != len(minimalPrefix)+common.AddressLength+len(minimalSuffix) {
		return common.Address{}, false
	}
	if !bytes.HasPrefix(code, minimalPrefix) || !bytes.HasSuffix(code, minimalSuffix) {
		return common.Address{}, false
	}
	return common.BytesToAddress(code[len(minimalPrefix) : len(minimalPrefix)+common.AddressLength]), true
}
