package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Book is an in-memory position ledger used to replay the trade log without
// touching storage: audits and as-of-date unrealized P&L both fold the log
// through one.
type Book struct {
	open     map[string]Position
	realized decimal.Decimal
	trades   int64
}

func NewBook() *Book {
	return &Book{open: make(map[string]Position), realized: decimal.Zero}
}

// Apply books t and returns the outcome Apply produced for it.
func (b *Book) Apply(t Trade) Outcome {
	var cur *Position
	if p, ok := b.open[t.Symbol]; ok {
		cur = &p
	}
	out := Apply(cur, t)
	if out.Current != nil {
		b.open[t.Symbol] = *out.Current
	} else {
		delete(b.open, t.Symbol)
	}
	b.realized = b.realized.Add(out.Delta.RealizedPnL)
	b.trades++
	return out
}

// Position returns the open position for symbol.
func (b *Book) Position(symbol string) (Position, bool) {
	p, ok := b.open[symbol]
	return p, ok
}

// Open lists open positions ordered by symbol.
func (b *Book) Open() []Position {
	out := make([]Position, 0, len(b.open))
	for _, p := range b.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Realized is the total realized P&L booked so far.
func (b *Book) Realized() decimal.Decimal { return b.realized }

// Trades is the number of trades applied.
func (b *Book) Trades() int64 { return b.trades }

// Unrealized marks every open position. A held symbol without a mark is a
// validation error.
func (b *Book) Unrealized(marks map[string]decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range b.Open() {
		mark, ok := marks[p.Symbol]
		if !ok {
			return decimal.Zero, Validationf("no mark price for open position %s", p.Symbol)
		}
		total = total.Add(p.Unrealized(mark))
	}
	return total, nil
}
