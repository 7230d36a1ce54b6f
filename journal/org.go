package journal

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
)

// FormatTradeOrg renders a trade as an Org-mode block with its facts in a
// PROPERTIES drawer.
func FormatTradeOrg(t ledger.Trade) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Trade: %s %s %s @ %s (%s)\n", t.Side, t.Quantity, t.Symbol, t.Price, shortID(t.ID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":TRADE_ID: %s\n", t.ID)
	fmt.Fprintf(&b, ":CLIENT_ID: %s\n", t.ClientID)
	fmt.Fprintf(&b, ":SYMBOL: %s\n", t.Symbol)
	fmt.Fprintf(&b, ":SIDE: %s\n", t.Side)
	fmt.Fprintf(&b, ":QUANTITY: %s\n", t.Quantity)
	fmt.Fprintf(&b, ":PRICE: %s\n", t.Price)
	fmt.Fprintf(&b, ":EXECUTED_AT: %s\n", market.FormatTime(t.ExecutedAt))
	if t.Strategy != "" {
		fmt.Fprintf(&b, ":STRATEGY: %s\n", t.Strategy)
	}
	b.WriteString(":END:\n")
	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []ledger.Trade) string {
	if len(trades) == 0 {
		return "# no trades"
	}
	blocks := make([]string, 0, len(trades))
	for _, t := range trades {
		blocks = append(blocks, FormatTradeOrg(t))
	}
	return strings.Join(blocks, "\n")
}

// FormatPositionsOrg renders positions as an Org table.
func FormatPositionsOrg(positions []ledger.Position) string {
	if len(positions) == 0 {
		return "# no positions"
	}
	var b strings.Builder
	b.WriteString("| Symbol | Quantity | Avg Price | Status | Opened |\n")
	b.WriteString("|--------+----------+-----------+--------+--------|\n")
	for _, p := range positions {
		avg := "-"
		if v, ok := p.AvgPrice(); ok {
			avg = v.StringFixed(8)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			p.Symbol, p.Quantity, avg, p.Status, market.FormatTime(p.OpenedAt))
	}
	return b.String()
}

// FormatPerformanceOrg renders performance days as an Org table with a
// totals row.
func FormatPerformanceOrg(days []ledger.PerformanceDay) string {
	if len(days) == 0 {
		return "# no performance recorded"
	}
	var b strings.Builder
	b.WriteString("| Date | Realized | Unrealized | Trades |\n")
	b.WriteString("|------+----------+------------+--------|\n")

	total := ledger.NewPerformanceDay("total")
	for _, d := range days {
		fmt.Fprintf(&b, "| %s | %s | %s | %d |\n",
			d.Date, d.RealizedPnL.StringFixed(2), d.UnrealizedPnL.StringFixed(2), d.TradesCount)
		total.RealizedPnL = total.RealizedPnL.Add(d.RealizedPnL)
		total.UnrealizedPnL = total.UnrealizedPnL.Add(d.UnrealizedPnL)
		total.TradesCount += d.TradesCount
	}
	if len(days) > 1 {
		b.WriteString("|------+----------+------------+--------|\n")
		fmt.Fprintf(&b, "| %s | %s | %s | %d |\n",
			total.Date, total.RealizedPnL.StringFixed(2), total.UnrealizedPnL.StringFixed(2), total.TradesCount)
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
