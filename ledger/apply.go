package ledger

import (
	"github.com/shopspring/decimal"
)

// Outcome is the result of applying one trade to a symbol's position.
//
// Closed is set when the trade took the existing position to zero or
// through zero; it is the old row with status closed. Current is the open
// position after the trade, or nil when the symbol ends flat. A Current with
// an empty ID is a new row.
type Outcome struct {
	Closed  *Position
	Current *Position
	Delta   PositionDelta
}

// Position returns the row a caller should report: the open position when
// there is one, otherwise the row that was closed.
func (o Outcome) Position() Position {
	if o.Current != nil {
		return *o.Current
	}
	if o.Closed != nil {
		return *o.Closed
	}
	return Position{}
}

// Apply books t against the open position for its symbol using the
// weighted-average cost method. open is nil when the symbol has no open
// position. Apply does no I/O and does not mutate open.
func Apply(open *Position, t Trade) Outcome {
	signed := t.SignedQuantity()

	if open == nil || !open.IsOpen() || open.Quantity.IsZero() {
		if open != nil && open.IsOpen() {
			// A zero-quantity open row should not exist; treat it as an add.
			return add(*open, t, signed)
		}
		p := opened(t, signed)
		return Outcome{
			Current: &p,
			Delta: PositionDelta{
				Symbol:        t.Symbol,
				RealizedPnL:   decimal.Zero,
				NewQuantity:   p.Quantity,
				NewAvgPrice:   p.Avg,
				StatusChanged: true,
			},
		}
	}

	p := *open
	if p.Quantity.Sign() == signed.Sign() {
		return add(p, t, signed)
	}

	held := p.Quantity.Abs()
	qty := t.Quantity
	sign := decimal.NewFromInt(int64(p.Quantity.Sign()))

	switch qty.Cmp(held) {
	case -1:
		// Partial close: average stays, the closed slice leaves at cost.
		avg := p.Avg.Decimal
		removed := qty.Mul(avg)
		realized := qty.Mul(t.Price).Sub(removed).Mul(sign)

		p.Quantity = p.Quantity.Add(signed)
		p.CostBasis = p.CostBasis.Sub(removed)
		return Outcome{
			Current: &p,
			Delta: PositionDelta{
				Symbol:      t.Symbol,
				RealizedPnL: realized,
				NewQuantity: p.Quantity,
				NewAvgPrice: p.Avg,
			},
		}

	case 0:
		realized := closeAll(&p, t)
		return Outcome{
			Closed: &p,
			Delta: PositionDelta{
				Symbol:        t.Symbol,
				RealizedPnL:   realized,
				NewQuantity:   decimal.Zero,
				StatusChanged: true,
			},
		}

	default:
		// Flip: close everything held, open the remainder the other way.
		realized := closeAll(&p, t)
		rest := Trade{
			ClientID:   t.ClientID,
			Symbol:     t.Symbol,
			Side:       t.Side,
			Quantity:   qty.Sub(held),
			Price:      t.Price,
			ExecutedAt: t.ExecutedAt,
			Strategy:   t.Strategy,
		}
		next := opened(rest, rest.SignedQuantity())
		return Outcome{
			Closed:  &p,
			Current: &next,
			Delta: PositionDelta{
				Symbol:        t.Symbol,
				RealizedPnL:   realized,
				NewQuantity:   next.Quantity,
				NewAvgPrice:   next.Avg,
				StatusChanged: true,
				Flipped:       true,
			},
		}
	}
}

func opened(t Trade, signed decimal.Decimal) Position {
	return Position{
		Symbol:    t.Symbol,
		Quantity:  signed,
		Avg:       decimal.NewNullDecimal(t.Price),
		CostBasis: t.Quantity.Mul(t.Price),
		OpenedAt:  t.ExecutedAt,
		Status:    StatusOpen,
	}
}

func add(p Position, t Trade, signed decimal.Decimal) Outcome {
	held := p.Quantity.Abs()
	total := held.Add(t.Quantity)

	oldAvg := decimal.Zero
	if p.Avg.Valid {
		oldAvg = p.Avg.Decimal
	}
	avg := held.Mul(oldAvg).Add(t.Quantity.Mul(t.Price)).DivRound(total, AvgPrecision)

	p.Quantity = p.Quantity.Add(signed)
	p.Avg = decimal.NewNullDecimal(avg)
	p.CostBasis = p.CostBasis.Add(t.Notional())
	return Outcome{
		Current: &p,
		Delta: PositionDelta{
			Symbol:      t.Symbol,
			RealizedPnL: decimal.Zero,
			NewQuantity: p.Quantity,
			NewAvgPrice: p.Avg,
		},
	}
}

// closeAll realizes the whole held quantity at t.Price against the remaining
// cost basis and marks p closed.
func closeAll(p *Position, t Trade) decimal.Decimal {
	held := p.Quantity.Abs()
	sign := decimal.NewFromInt(int64(p.Quantity.Sign()))
	realized := held.Mul(t.Price).Sub(p.CostBasis).Mul(sign)

	p.Quantity = decimal.Zero
	p.Avg = decimal.NullDecimal{}
	p.CostBasis = decimal.Zero
	p.Status = StatusClosed
	p.ClosedAt = t.ExecutedAt
	return realized
}

