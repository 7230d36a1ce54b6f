package journal

import (
	"encoding/csv"
	"io"
	"iter"
	"strconv"

	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
)

var (
	tradeCSVHeader       = []string{"id", "client_id", "symbol", "side", "quantity", "price", "executed_at", "strategy"}
	performanceCSVHeader = []string{"date", "realized_pnl", "unrealized_pnl", "trades_count"}
)

// WriteTradesCSV streams trades to w with a header row and returns the number
// of trades written.
func WriteTradesCSV(w io.Writer, trades iter.Seq2[ledger.Trade, error]) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeCSVHeader); err != nil {
		return 0, err
	}

	n := 0
	for t, err := range trades {
		if err != nil {
			return n, err
		}
		if err := cw.Write([]string{
			t.ID,
			t.ClientID,
			t.Symbol,
			string(t.Side),
			t.Quantity.String(),
			t.Price.String(),
			market.FormatTime(t.ExecutedAt),
			t.Strategy,
		}); err != nil {
			return n, err
		}
		n++
	}

	cw.Flush()
	return n, cw.Error()
}

// WritePerformanceCSV writes one row per day.
func WritePerformanceCSV(w io.Writer, days []ledger.PerformanceDay) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(performanceCSVHeader); err != nil {
		return err
	}
	for _, d := range days {
		if err := cw.Write([]string{
			d.Date,
			d.RealizedPnL.StringFixed(8),
			d.UnrealizedPnL.StringFixed(8),
			strconv.FormatInt(d.TradesCount, 10),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
