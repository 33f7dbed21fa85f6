// Package report renders verdicts for the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

var (
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle         = lipgloss.NewStyle().Padding(0, 1)
	honeypotStyle     = cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "#B00020", Dark: "#FF5F87"})
	safeStyle         = cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"})
	inconclusiveStyle = cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "#9C9C9C", Dark: "#767676"})
)

// Table renders verdicts as a bordered table, honeypots first.
func Table(verdicts []domain.Verdict) string {
	rows := make([]domain.Verdict, len(verdicts))
	copy(rows, verdicts)
	sort.SliceStable(rows, func(i, j int) bool {
		return rank(rows[i].Status) < rank(rows[j].Status)
	})

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TOKEN", "STATUS", "REASON", "BUY", "SELL", "TRANSFER", "PROXY", "STAGE").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			switch rows[row].Status {
			case domain.StatusHoneypot:
				return honeypotStyle
			case domain.StatusSafe:
				return safeStyle
			default:
				return inconclusiveStyle
			}
		})

	for _, v := range rows {
		reason := v.Reason
		if reason == "" {
			reason = v.Error
		}
		proxy := ""
		if v.IsProxy {
			proxy = "yes"
			if v.Implementation != nil {
				proxy = short(v.Implementation.Hex())
			}
		}
		t.Row(
			v.Token.String(),
			string(v.Status),
			reason,
			bps(v.BuyTaxBps),
			bps(v.SellTaxBps),
			bps(v.TransferTaxBps),
			proxy,
			v.Stage.String(),
		)
	}

	return t.Render()
}

// Summary counts verdicts by status.
func Summary(verdicts []domain.Verdict) string {
	counts := make(map[domain.Status]int)
	for _, v := range verdicts {
		counts[v.Status]++
	}
	return fmt.Sprintf("%d tokens: %d safe, %d honeypot, %d inconclusive",
		len(verdicts), counts[domain.StatusSafe], counts[domain.StatusHoneypot], counts[domain.StatusInconclusive])
}

// Print writes the table followed by the summary.
func Print(w io.Writer, verdicts []domain.Verdict) error {
	if len(verdicts) == 0 {
		_, err := fmt.Fprintln(w, "no verdicts")
		return err
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", Table(verdicts), Summary(verdicts))
	return err
}

func rank(s domain.Status) int {
	switch s {
	case domain.StatusHoneypot:
		return 0
	case domain.StatusInconclusive:
		return 1
	default:
		return 2
	}
}

func bps(v *uint64) string {
	if v == nil {
		return "-"
	}
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", float64(*v)/100), "0"), ".") + "%"
}

func short(hex string) string {
	if len(hex) <= 10 {
		return hex
	}
	return hex[:6] + ".." + hex[len(hex)-4:]
}
