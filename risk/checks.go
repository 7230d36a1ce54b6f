package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/teals/ledger"
)

type Violation struct {
	Code   string `json:"code"`
	Symbol string `json:"symbol,omitempty"`
	Msg    string `json:"msg"`
}

// Decision is the result of checking the book against a Policy.
type Decision struct {
	Allowed    bool            `json:"allowed"`
	Violations []Violation     `json:"violations"`
	DayPnL     decimal.Decimal `json:"day_pnl"`
	Exposure   decimal.Decimal `json:"exposure"`
}

func (d *Decision) add(code, symbol, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Symbol: symbol, Msg: msg})
	d.Allowed = false
}

// Evaluate checks today's P&L against the daily loss breaker and each open
// position against the size limit and its stop. marks are optional; a
// position without one is sized at its average and has no stop check.
func Evaluate(p Policy, day ledger.PerformanceDay, open []ledger.Position, marks map[string]decimal.Decimal) Decision {
	d := Decision{Allowed: true, DayPnL: day.Total(), Exposure: decimal.Zero}

	if p.MaxDailyLoss.IsPositive() && d.DayPnL.LessThanOrEqual(p.MaxDailyLoss.Neg()) {
		d.add("DAILY_LOSS_LIMIT", "",
			fmt.Sprintf("day P&L %s <= limit -%s", d.DayPnL.StringFixed(2), p.MaxDailyLoss.StringFixed(2)))
	}

	for _, pos := range open {
		if !pos.IsOpen() || pos.Quantity.IsZero() {
			continue
		}
		mark, hasMark := marks[pos.Symbol]

		exp := Exposure(pos, mark)
		d.Exposure = d.Exposure.Add(exp)
		if exp.GreaterThan(p.PositionSize) {
			d.add("POSITION_SIZE", pos.Symbol,
				fmt.Sprintf("exposure %s exceeds %s", exp.StringFixed(2), p.PositionSize.StringFixed(2)))
		}

		if !hasMark {
			continue
		}
		stop, _ := StopPrice(pos, p.StopLossPct)
		if (pos.IsLong() && mark.LessThanOrEqual(stop)) || (pos.IsShort() && mark.GreaterThanOrEqual(stop)) {
			d.add("STOP_LOSS", pos.Symbol,
				fmt.Sprintf("mark %s crossed stop %s", mark, stop.StringFixed(8)))
		}
	}
	return d
}
