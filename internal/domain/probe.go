package domain

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

// MaxTaxBps is a 100% tax.
const MaxTaxBps = 10_000

// ErrZeroExpected is returned for probes that produced no expected amount.
var ErrZeroExpected = errors.New("expected amount is zero")

// ProbeResult amounts produced by one simulated operation.
type ProbeResult struct {
	Expected *big.Int `json:"expected"`
	Realized *big.Int `json:"realized"`
}

// String returns the string representation.
func (r ProbeResult) String() string {
	return fmt.Sprintf("expected=%s realized=%s", bigString(r.Expected), bigString(r.Realized))
}

// TaxBps returns the shortfall of the realized amount in basis points.
// A realized amount above the expected one clamps to zero.
func TaxBps(r ProbeResult) (uint64, error) {
	if r.Expected == nil || r.Expected.Sign() <= 0 {
		return 0, ErrZeroExpected
	}

	realized := r.Realized
	if realized == nil || realized.Sign() < 0 {
		realized = new(big.Int)
	}
	if realized.Cmp(r.Expected) >= 0 {
		return 0, nil
	}

	shortfall := new(big.Int).Sub(r.Expected, realized)
	shortfall.Mul(shortfall, big.NewInt(MaxTaxBps))
	shortfall.Quo(shortfall, r.Expected)

	return shortfall.Uint64(), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
