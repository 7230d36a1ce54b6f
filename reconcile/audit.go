package reconcile

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/teals/internal/trace"
	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
)

// Drift is one disagreement between stored state and a replay of the trade
// log.
type Drift struct {
	Kind    string `json:"kind"` // "position" or "performance"
	Key     string `json:"key"`  // symbol or date
	Field   string `json:"field"`
	Stored  string `json:"stored"`
	Rebuilt string `json:"rebuilt"`
}

// AuditReport is the state rebuilt from the trade log alone, and where the
// stored rows differ from it.
type AuditReport struct {
	Trades    int64                   `json:"trades"`
	Positions []ledger.Position       `json:"positions"`
	Days      []ledger.PerformanceDay `json:"days"`
	Drift     []Drift                 `json:"drift"`
}

// Clean reports whether stored state matches the replay.
func (r AuditReport) Clean() bool { return len(r.Drift) == 0 }

// Audit replays the whole trade log and compares the result with the stored
// open positions and each day's realized P&L and trade count. Unrealized P&L
// depends on marks and is not compared. Nothing is written.
func (e *Engine) Audit(ctx context.Context) (rep AuditReport, err error) {
	ctx, span := trace.StartSpan(ctx, "reconcile.Audit")
	defer func() { trace.End(span, err) }()

	// A write transaction gives a snapshot that no reconciliation can move.
	err = e.db.WithTx(ctx, func(tx *journal.Tx) error {
		var err error
		rep, err = audit(ctx, tx)
		return err
	})
	if err != nil {
		return AuditReport{}, err
	}

	if rep.Clean() {
		e.log.Info("audit clean", zap.Int64("trades", rep.Trades))
	} else {
		e.log.Warn("audit found drift", zap.Int64("trades", rep.Trades), zap.Int("drift", len(rep.Drift)))
	}
	return rep, nil
}

func audit(ctx context.Context, tx *journal.Tx) (AuditReport, error) {
	book := ledger.NewBook()
	days := make(map[string]*ledger.PerformanceDay)

	for t, err := range tx.ListSince(ctx, time.Time{}) {
		if err != nil {
			return AuditReport{}, err
		}
		out := book.Apply(t)

		date := market.DateOf(t.ExecutedAt)
		d, ok := days[date]
		if !ok {
			nd := ledger.NewPerformanceDay(date)
			d = &nd
			days[date] = d
		}
		d.RealizedPnL = d.RealizedPnL.Add(out.Delta.RealizedPnL)
		d.TradesCount++
	}

	rep := AuditReport{Trades: book.Trades(), Positions: book.Open()}

	stored, err := tx.ListOpenPositions(ctx)
	if err != nil {
		return AuditReport{}, err
	}
	rep.Drift = append(rep.Drift, comparePositions(stored, rep.Positions)...)

	storedDays, err := tx.ListPerformance(ctx, "", "")
	if err != nil {
		return AuditReport{}, err
	}
	for _, d := range days {
		rep.Days = append(rep.Days, *d)
	}
	sort.Slice(rep.Days, func(i, j int) bool { return rep.Days[i].Date < rep.Days[j].Date })
	rep.Drift = append(rep.Drift, compareDays(storedDays, rep.Days)...)

	return rep, nil
}

func comparePositions(stored, rebuilt []ledger.Position) []Drift {
	s := make(map[string]ledger.Position, len(stored))
	for _, p := range stored {
		s[p.Symbol] = p
	}
	r := make(map[string]ledger.Position, len(rebuilt))
	for _, p := range rebuilt {
		r[p.Symbol] = p
	}

	var drift []Drift
	for _, sym := range unionKeys(s, r) {
		sp, sok := s[sym]
		rp, rok := r[sym]
		switch {
		case !rok:
			drift = append(drift, Drift{Kind: "position", Key: sym, Field: "open", Stored: "true", Rebuilt: "false"})
		case !sok:
			drift = append(drift, Drift{Kind: "position", Key: sym, Field: "open", Stored: "false", Rebuilt: "true"})
		default:
			drift = appendIfDiffers(drift, "position", sym, "quantity", sp.Quantity, rp.Quantity)
			drift = appendIfDiffers(drift, "position", sym, "avg_price", sp.Avg.Decimal, rp.Avg.Decimal)
			drift = appendIfDiffers(drift, "position", sym, "cost_basis", sp.CostBasis, rp.CostBasis)
		}
	}
	return drift
}

func compareDays(stored, rebuilt []ledger.PerformanceDay) []Drift {
	s := make(map[string]ledger.PerformanceDay, len(stored))
	for _, d := range stored {
		s[d.Date] = d
	}
	r := make(map[string]ledger.PerformanceDay, len(rebuilt))
	for _, d := range rebuilt {
		r[d.Date] = d
	}

	var drift []Drift
	for _, date := range unionKeys(s, r) {
		sd, sok := s[date]
		rd, rok := r[date]
		if !sok {
			sd = ledger.NewPerformanceDay(date)
		}
		if !rok {
			rd = ledger.NewPerformanceDay(date)
		}
		drift = appendIfDiffers(drift, "performance", date, "realized_pnl", sd.RealizedPnL, rd.RealizedPnL)
		drift = appendIfDiffers(drift, "performance", date, "trades_count",
			decimal.NewFromInt(sd.TradesCount), decimal.NewFromInt(rd.TradesCount))
	}
	return drift
}

func appendIfDiffers(drift []Drift, kind, key, field string, stored, rebuilt decimal.Decimal) []Drift {
	if stored.Equal(rebuilt) {
		return drift
	}
	return append(drift, Drift{Kind: kind, Key: key, Field: field, Stored: stored.String(), Rebuilt: rebuilt.String()})
}

func unionKeys[V any](a, b map[string]V) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
