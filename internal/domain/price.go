package domain

import "github.com/shopspring/decimal"

// PriceRange min and max oracle price of a symbol in USD.
type PriceRange struct {
	Symbol string          `json:"symbol"`
	Min    decimal.Decimal `json:"min"`
	Max    decimal.Decimal `json:"max"`
}
