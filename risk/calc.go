package risk

import (
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/teals/ledger"
)

// UnitScale is the number of fractional digits kept when sizing an order.
const UnitScale int32 = 8

// StopPrice is the stop for p under pct: below the average for a long,
// above it for a short. False when p is flat.
func StopPrice(p ledger.Position, pct decimal.Decimal) (decimal.Decimal, bool) {
	avg, ok := p.AvgPrice()
	if !ok {
		return decimal.Zero, false
	}
	one := decimal.NewFromInt(1)
	if p.IsShort() {
		return avg.Mul(one.Add(pct)), true
	}
	return avg.Mul(one.Sub(pct)), true
}

// Units sizes an order to the policy's notional at price, rounded down.
func Units(p Policy, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return p.PositionSize.DivRound(price, UnitScale+4).RoundDown(UnitScale)
}

// PlannedRisk is what a position loses if its stop is hit.
func PlannedRisk(p ledger.Position, pct decimal.Decimal) decimal.Decimal {
	stop, ok := StopPrice(p, pct)
	if !ok {
		return decimal.Zero
	}
	return p.Unrealized(stop).Neg()
}

// Exposure is |quantity| × mark, or × average when mark is not positive.
func Exposure(p ledger.Position, mark decimal.Decimal) decimal.Decimal {
	if !mark.IsPositive() {
		avg, _ := p.AvgPrice()
		mark = avg
	}
	return p.Quantity.Abs().Mul(mark)
}
