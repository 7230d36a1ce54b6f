package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
)

const selectPerformance = `
	SELECT date, realized_pnl, unrealized_pnl, trades_count, updated_at
	FROM performance`

// PerformanceDay returns the aggregate row for date.
func (s store) PerformanceDay(ctx context.Context, date string) (ledger.PerformanceDay, bool, error) {
	d, err := scanPerformance(s.q.QueryRowContext(ctx, selectPerformance+` WHERE date = ?`, date))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.PerformanceDay{}, false, nil
	}
	if err != nil {
		return ledger.PerformanceDay{}, false, classify(err)
	}
	return d, true, nil
}

// SavePerformanceDay writes d, creating the row for its date if needed.
func (s store) SavePerformanceDay(ctx context.Context, d ledger.PerformanceDay) (ledger.PerformanceDay, error) {
	if _, err := market.ParseDate(d.Date); err != nil {
		return ledger.PerformanceDay{}, ledger.Validationf("%v", err)
	}
	d.UpdatedAt = market.Naive(s.now()).Truncate(time.Microsecond)
	updated := market.FormatTime(d.UpdatedAt)

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO performance (date, realized_pnl, unrealized_pnl, trades_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			realized_pnl = excluded.realized_pnl,
			unrealized_pnl = excluded.unrealized_pnl,
			trades_count = excluded.trades_count,
			updated_at = excluded.updated_at`,
		d.Date, d.RealizedPnL.String(), d.UnrealizedPnL.String(), d.TradesCount, updated,
	)
	if err != nil {
		return ledger.PerformanceDay{}, classify(fmt.Errorf("save performance %s: %w", d.Date, err))
	}
	return d, nil
}

// ListPerformance returns days in [from, to], both inclusive. Empty bounds are
// open.
func (s store) ListPerformance(ctx context.Context, from, to string) ([]ledger.PerformanceDay, error) {
	query := selectPerformance + ` WHERE 1 = 1`
	var args []any
	if from != "" {
		query += ` AND date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY date`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []ledger.PerformanceDay
	for rows.Next() {
		d, err := scanPerformance(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func scanPerformance(sc scanner) (ledger.PerformanceDay, error) {
	var (
		d       ledger.PerformanceDay
		updated string
	)
	if err := sc.Scan(&d.Date, &d.RealizedPnL, &d.UnrealizedPnL, &d.TradesCount, &updated); err != nil {
		return ledger.PerformanceDay{}, err
	}
	at, err := market.ParseTime(updated)
	if err != nil {
		return ledger.PerformanceDay{}, fmt.Errorf("performance %s: %w", d.Date, err)
	}
	d.UpdatedAt = at
	return d, nil
}
