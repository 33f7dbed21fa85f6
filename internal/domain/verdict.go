package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status final outcome of a token classification.
type Status string

const (
	StatusSafe         Status = "safe"
	StatusHoneypot     Status = "honeypot"
	StatusInconclusive Status = "inconclusive"
)

// Stage is the last pipeline step a classification completed.
type Stage int

const (
	StageUntested Stage = iota
	StageProxyChecked
	StageTransferProbed
	StageBuyProbed
	StageSellProbed
	StageClassified
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageUntested:
		return "untested"
	case StageProxyChecked:
		return "proxy_checked"
	case StageTransferProbed:
		return "transfer_probed"
	case StageBuyProbed:
		return "buy_probed"
	case StageSellProbed:
		return "sell_probed"
	case StageClassified:
		return "classified"
	default:
		return "unknown"
	}
}

// Honeypot reasons.
const (
	ReasonProxy            = "proxy"
	ReasonTransferFailed   = "transfer failed"
	ReasonTransferTax      = "transfer tax"
	ReasonBuyFailed        = "buy failed"
	ReasonBuyTax           = "buy tax"
	ReasonSellFailed       = "sell failed"
	ReasonSellTax          = "sell tax"
	ReasonSellUnverifiable = "sell unverifiable"
)

// Verdict classification result of one token.
type Verdict struct {
	Token          Token           `json:"token"`
	Pool           common.Address  `json:"pool"`
	Reference      common.Address  `json:"reference"`
	IsHoneypot     bool            `json:"is_honeypot"`
	IsProxy        bool            `json:"is_proxy"`
	Implementation *common.Address `json:"implementation,omitempty"`
	BuyTaxBps      *uint64         `json:"buy_tax_bps,omitempty"`
	SellTaxBps     *uint64         `json:"sell_tax_bps,omitempty"`
	TransferTaxBps *uint64         `json:"transfer_tax_bps,omitempty"`
	TransferFailed bool            `json:"transfer_failed,omitempty"`
	Status         Status          `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	Stage          Stage           `json:"stage"`
	Error          string          `json:"error,omitempty"`
	RunID          string          `json:"run_id"`
	Block          uint64          `json:"block"`
	CheckedAt      time.Time       `json:"checked_at"`
}

// NewVerdict creates an untested verdict for token.
func NewVerdict(token Token, pool, reference common.Address) *Verdict {
	return &Verdict{
		Token:     token,
		Pool:      pool,
		Reference: reference,
		Stage:     StageUntested,
	}
}

// Flag marks the token as a honeypot. The first reason is kept and the flag is never cleared.
func (v *Verdict) Flag(reason string) {
	if v.IsHoneypot {
		return
	}
	v.IsHoneypot = true
	v.Status = StatusHoneypot
	v.Reason = reason
	v.Error = ""
}

// Inconclusive marks the verdict as undecided because of err. It has no effect on honeypots.
func (v *Verdict) Inconclusive(err error) {
	if v.IsHoneypot {
		return
	}
	v.Status = StatusInconclusive
	if err != nil {
		v.Error = err.Error()
	}
}

// Complete finishes the pipeline, turning an unflagged and decided verdict into a safe one.
func (v *Verdict) Complete() {
	v.Stage = StageClassified
	if v.IsHoneypot || v.Status == StatusInconclusive {
		return
	}
	v.Status = StatusSafe
}

// Advance records that stage has completed.
func (v *Verdict) Advance(stage Stage) {
	if stage > v.Stage {
		v.Stage = stage
	}
}

// Decided reports whether the verdict is final and can be reused without probing again.
func (v Verdict) Decided() bool {
	return v.Status == StatusSafe || v.Status == StatusHoneypot
}

// Bps returns a pointer to the given tax value.
func Bps(v uint64) *uint64 {
	return &v
}
