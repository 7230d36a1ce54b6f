package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", Validationf("side must be BUY or SELL, got %q", s)
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() int {
	if s == Sell {
		return -1
	}
	return 1
}

// Signed applies the side's sign to an unsigned quantity.
func (s Side) Signed(qty decimal.Decimal) decimal.Decimal {
	if s == Sell {
		return qty.Neg()
	}
	return qty
}
