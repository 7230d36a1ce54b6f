package performance

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/teals/ledger"
)

// AccountSnapshot values the open book at mark prices. Short positions
// contribute negative value.
type AccountSnapshot struct {
	Positions      int             `json:"positions"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	Unmarked       []string        `json:"unmarked,omitempty"`
}

// Snapshot marks every open position. A symbol without a mark is valued at
// its average price, contributes no unrealized P&L and is listed in
// Unmarked. Nothing is stored.
func Snapshot(open []ledger.Position, marks map[string]decimal.Decimal) (AccountSnapshot, error) {
	marks, err := NormalizeMarks(marks)
	if err != nil {
		return AccountSnapshot{}, err
	}

	snap := AccountSnapshot{
		PositionsValue: decimal.Zero,
		CostBasis:      decimal.Zero,
		UnrealizedPnL:  decimal.Zero,
	}
	for _, p := range open {
		avg, ok := p.AvgPrice()
		if !p.IsOpen() || !ok {
			continue
		}
		snap.Positions++
		snap.CostBasis = snap.CostBasis.Add(p.Quantity.Mul(avg))

		mark, marked := marks[p.Symbol]
		if !marked {
			snap.Unmarked = append(snap.Unmarked, p.Symbol)
			mark = avg
		}
		snap.PositionsValue = snap.PositionsValue.Add(p.Quantity.Mul(mark))
		snap.UnrealizedPnL = snap.UnrealizedPnL.Add(p.Unrealized(mark))
	}
	sort.Strings(snap.Unmarked)
	return snap, nil
}
