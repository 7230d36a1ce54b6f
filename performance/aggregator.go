// Package performance maintains the per-date P&L rows.
package performance

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
)

// Store reads and writes performance rows. Both journal.SQLite and
// journal.Tx satisfy it.
type Store interface {
	PerformanceDay(ctx context.Context, date string) (ledger.PerformanceDay, bool, error)
	SavePerformanceDay(ctx context.Context, d ledger.PerformanceDay) (ledger.PerformanceDay, error)
}

// TradeSource is the ordered trade log.
type TradeSource interface {
	ListSince(ctx context.Context, since time.Time) iter.Seq2[ledger.Trade, error]
}

type Aggregator struct {
	log *zap.Logger
}

func NewAggregator(log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{log: log.Named("performance")}
}

// RecordTrade folds one reconciled trade into the row for the date it
// executed on: the realized delta is added and the trade counted.
func (a *Aggregator) RecordTrade(ctx context.Context, s Store, t ledger.Trade, delta ledger.PositionDelta) (ledger.PerformanceDay, error) {
	date := market.DateOf(t.ExecutedAt)

	day, ok, err := s.PerformanceDay(ctx, date)
	if err != nil {
		return ledger.PerformanceDay{}, err
	}
	if !ok {
		day = ledger.NewPerformanceDay(date)
	}

	day.RealizedPnL = day.RealizedPnL.Add(delta.RealizedPnL)
	day.TradesCount++

	saved, err := s.SavePerformanceDay(ctx, day)
	if err != nil {
		return ledger.PerformanceDay{}, err
	}

	a.log.Debug("trade recorded",
		zap.String("date", date),
		zap.String("symbol", t.Symbol),
		zap.Stringer("realized_delta", delta.RealizedPnL),
		zap.Int64("trades_count", saved.TradesCount),
	)
	return saved, nil
}

// RecomputeUnrealized rebuilds the positions held at the end of date by
// replaying the trade log, marks them at marks, and overwrites the row's
// unrealized P&L. A symbol held at end of day with no mark is a validation
// error and nothing is written.
func (a *Aggregator) RecomputeUnrealized(ctx context.Context, s Store, src TradeSource, date string, marks map[string]decimal.Decimal) (ledger.PerformanceDay, error) {
	_, end, err := market.DayBounds(date)
	if err != nil {
		return ledger.PerformanceDay{}, ledger.Validationf("%v", err)
	}
	date = end.AddDate(0, 0, -1).Format(market.DateLayout)

	normalized, err := NormalizeMarks(marks)
	if err != nil {
		return ledger.PerformanceDay{}, err
	}

	book, err := ReplayUntil(ctx, src, end)
	if err != nil {
		return ledger.PerformanceDay{}, err
	}
	unrealized, err := book.Unrealized(normalized)
	if err != nil {
		return ledger.PerformanceDay{}, err
	}

	day, ok, err := s.PerformanceDay(ctx, date)
	if err != nil {
		return ledger.PerformanceDay{}, err
	}
	if !ok {
		day = ledger.NewPerformanceDay(date)
	}
	day.UnrealizedPnL = unrealized

	saved, err := s.SavePerformanceDay(ctx, day)
	if err != nil {
		return ledger.PerformanceDay{}, err
	}

	a.log.Info("unrealized recomputed",
		zap.String("date", date),
		zap.Int("open_positions", len(book.Open())),
		zap.Stringer("unrealized", unrealized),
	)
	return saved, nil
}

// ReplayUntil folds every trade executed before end into a fresh book.
func ReplayUntil(ctx context.Context, src TradeSource, end time.Time) (*ledger.Book, error) {
	book := ledger.NewBook()
	cutoff := market.Naive(end)
	for t, err := range src.ListSince(ctx, time.Time{}) {
		if err != nil {
			return nil, fmt.Errorf("replay trades: %w", err)
		}
		if !t.ExecutedAt.Before(cutoff) {
			break
		}
		book.Apply(t)
	}
	return book, nil
}

// NormalizeMarks upper-cases symbols and rejects non-positive prices.
func NormalizeMarks(marks map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(marks))
	for sym, px := range marks {
		sym = market.NormalizeSymbol(sym)
		if err := market.ValidateSymbol(sym); err != nil {
			return nil, ledger.Validationf("mark: %v", err)
		}
		if !px.IsPositive() {
			return nil, ledger.Validationf("mark for %s must be > 0, got %s", sym, px)
		}
		out[sym] = px
	}
	return out, nil
}
