package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
	"github.com/rustyeddy/teals/pkg/id"
)

const selectTrades = `
	SELECT id, client_id, symbol, side, quantity, price, executed_at, strategy
	FROM trades`

// AppendTrade validates and records t, returning its id. Trades are never
// updated or deleted. A client id seen before yields a DuplicateTradeError.
func (s store) AppendTrade(ctx context.Context, t ledger.Trade) (string, error) {
	t = t.Normalize()
	if err := t.Validate(); err != nil {
		return "", err
	}
	if t.ID == "" {
		t.ID = id.New()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO trades
		(id, client_id, symbol, side, quantity, price, executed_at, strategy, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ClientID, t.Symbol, string(t.Side), t.Quantity.String(), t.Price.String(),
		market.FormatTime(t.ExecutedAt), t.Strategy, market.FormatTime(s.now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			dup := &ledger.DuplicateTradeError{ClientID: t.ClientID}
			if prev, ok, lookupErr := s.GetTradeByClientID(ctx, t.ClientID); lookupErr == nil && ok {
				dup.TradeID = prev.ID
			}
			return "", dup
		}
		return "", classify(fmt.Errorf("insert trade: %w", err))
	}
	return t.ID, nil
}

// GetTrade returns a single trade by id.
func (s store) GetTrade(ctx context.Context, tradeID string) (ledger.Trade, error) {
	t, err := scanTrade(s.q.QueryRowContext(ctx, selectTrades+` WHERE id = ?`, tradeID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Trade{}, fmt.Errorf("trade %q %w", tradeID, ErrNotFound)
	}
	if err != nil {
		return ledger.Trade{}, classify(err)
	}
	return t, nil
}

// GetTradeByClientID looks a trade up by the caller-supplied identity.
func (s store) GetTradeByClientID(ctx context.Context, clientID string) (ledger.Trade, bool, error) {
	t, err := scanTrade(s.q.QueryRowContext(ctx, selectTrades+` WHERE client_id = ?`, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Trade{}, false, nil
	}
	if err != nil {
		return ledger.Trade{}, false, classify(err)
	}
	return t, true, nil
}

// LastTrade is the most recently executed trade.
func (s store) LastTrade(ctx context.Context) (ledger.Trade, bool, error) {
	t, err := scanTrade(s.q.QueryRowContext(ctx, selectTrades+` ORDER BY executed_at DESC, id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Trade{}, false, nil
	}
	if err != nil {
		return ledger.Trade{}, false, classify(err)
	}
	return t, true, nil
}

// LastTradeFor is the latest trade in symbol by execution time, ties broken
// by id.
func (s store) LastTradeFor(ctx context.Context, symbol string) (ledger.Trade, bool, error) {
	t, err := scanTrade(s.q.QueryRowContext(ctx,
		selectTrades+` WHERE symbol = ? ORDER BY executed_at DESC, id DESC LIMIT 1`,
		market.NormalizeSymbol(symbol)))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Trade{}, false, nil
	}
	if err != nil {
		return ledger.Trade{}, false, classify(err)
	}
	return t, true, nil
}

// ListSince yields trades executed at or after since, oldest first. The
// sequence is lazy and restartable: every range re-runs the query.
func (s store) ListSince(ctx context.Context, since time.Time) iter.Seq2[ledger.Trade, error] {
	return func(yield func(ledger.Trade, error) bool) {
		rows, err := s.q.QueryContext(ctx,
			selectTrades+` WHERE executed_at >= ? ORDER BY executed_at ASC, id ASC`,
			market.FormatTime(since))
		if err != nil {
			yield(ledger.Trade{}, classify(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTrade(rows)
			if err != nil {
				yield(ledger.Trade{}, classify(err))
				return
			}
			if !yield(t, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(ledger.Trade{}, classify(err))
		}
	}
}

// ListTradesBetween returns trades executed within [start, end).
func (s store) ListTradesBetween(ctx context.Context, start, end time.Time) ([]ledger.Trade, error) {
	var out []ledger.Trade
	for t, err := range s.ListSince(ctx, start) {
		if err != nil {
			return nil, err
		}
		if !t.ExecutedAt.Before(market.Naive(end)) {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// CountTradesOn counts trades whose executed_at falls on date.
func (s store) CountTradesOn(ctx context.Context, date string) (int64, error) {
	start, end, err := market.DayBounds(date)
	if err != nil {
		return 0, ledger.Validationf("%v", err)
	}
	var n int64
	err = s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE executed_at >= ? AND executed_at < ?`,
		market.FormatTime(start), market.FormatTime(end)).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func scanTrade(sc scanner) (ledger.Trade, error) {
	var (
		t        ledger.Trade
		side     string
		executed string
	)
	if err := sc.Scan(&t.ID, &t.ClientID, &t.Symbol, &side, &t.Quantity, &t.Price, &executed, &t.Strategy); err != nil {
		return ledger.Trade{}, err
	}
	t.Side = ledger.Side(side)

	at, err := market.ParseTime(executed)
	if err != nil {
		return ledger.Trade{}, fmt.Errorf("trade %s: %w", t.ID, err)
	}
	t.ExecutedAt = at
	return t, nil
}
