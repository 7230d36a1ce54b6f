package cmd

import (
	"fmt"
	"iter"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
)

// limitTrades stops seq after n trades; n <= 0 means no limit.
func limitTrades(seq iter.Seq2[ledger.Trade, error], n int) iter.Seq2[ledger.Trade, error] {
	if n <= 0 {
		return seq
	}
	return func(yield func(ledger.Trade, error) bool) {
		count := 0
		for t, err := range seq {
			if !yield(t, err) || err != nil {
				return
			}
			if count++; count == n {
				return
			}
		}
	}
}

// parseMarks reads SYMBOL=PRICE pairs.
func parseMarks(raw []string) (map[string]decimal.Decimal, error) {
	marks := make(map[string]decimal.Decimal, len(raw))
	for _, m := range raw {
		sym, px, found := strings.Cut(m, "=")
		if !found || strings.TrimSpace(sym) == "" {
			return nil, fmt.Errorf("mark %q: want SYMBOL=PRICE", m)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(px))
		if err != nil {
			return nil, fmt.Errorf("mark %q: %w", m, err)
		}
		marks[market.NormalizeSymbol(sym)] = price
	}
	return marks, nil
}
