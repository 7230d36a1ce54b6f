package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// AvgPrecision is the number of fractional digits kept when a weighted
// average price is divided out.
const AvgPrecision int32 = 16

// Position is the net holding in one symbol. Quantity is signed: positive is
// long, negative is short. Avg is invalid whenever Quantity is zero.
//
// CostBasis is the absolute cost of the open quantity. It differs from
// |Quantity|*Avg only by division rounding, and is what a full close realizes
// against so that a round trip books exactly proceeds minus cost.
type Position struct {
	ID        string              `json:"id"`
	Symbol    string              `json:"symbol"`
	Quantity  decimal.Decimal     `json:"quantity"`
	Avg       decimal.NullDecimal `json:"avg_price"`
	CostBasis decimal.Decimal     `json:"cost_basis"`
	OpenedAt  time.Time           `json:"opened_at"`
	ClosedAt  time.Time           `json:"closed_at,omitzero"`
	Status    Status              `json:"status"`
	Version   int64               `json:"version"`
}

// AvgPrice returns the average entry price and false when the position is flat.
func (p Position) AvgPrice() (decimal.Decimal, bool) {
	if p.Quantity.IsZero() || !p.Avg.Valid {
		return decimal.Zero, false
	}
	return p.Avg.Decimal, true
}

func (p Position) IsOpen() bool  { return p.Status == StatusOpen }
func (p Position) IsLong() bool  { return p.Quantity.IsPositive() }
func (p Position) IsShort() bool { return p.Quantity.IsNegative() }

// Unrealized marks the open quantity at mark.
func (p Position) Unrealized(mark decimal.Decimal) decimal.Decimal {
	avg, ok := p.AvgPrice()
	if !ok {
		return decimal.Zero
	}
	return p.Quantity.Mul(mark.Sub(avg))
}

// PositionDelta summarizes what one trade did to a symbol's position.
type PositionDelta struct {
	Symbol        string              `json:"symbol"`
	RealizedPnL   decimal.Decimal     `json:"realized_pnl_delta"`
	NewQuantity   decimal.Decimal     `json:"new_quantity"`
	NewAvgPrice   decimal.NullDecimal `json:"new_avg_price"`
	StatusChanged bool                `json:"status_changed"`
	Flipped       bool                `json:"flipped,omitempty"`
}

// PerformanceDay is the per-date aggregate. TradesCount equals the number of
// trades executed on Date.
type PerformanceDay struct {
	Date          string          `json:"date"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TradesCount   int64           `json:"trades_count"`
	UpdatedAt     time.Time       `json:"updated_at,omitzero"`
}

// NewPerformanceDay is the zero row for a date.
func NewPerformanceDay(date string) PerformanceDay {
	return PerformanceDay{
		Date:          date,
		RealizedPnL:   decimal.Zero,
		UnrealizedPnL: decimal.Zero,
	}
}

// Total is realized plus unrealized P&L.
func (d PerformanceDay) Total() decimal.Decimal {
	return d.RealizedPnL.Add(d.UnrealizedPnL)
}
