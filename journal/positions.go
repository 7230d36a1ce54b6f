package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
	"github.com/rustyeddy/teals/pkg/id"
)

const selectPositions = `
	SELECT id, symbol, quantity, avg_price, cost_basis, opened_at, closed_at, status, version
	FROM positions`

// OpenPosition returns the open row for symbol, if any.
func (s store) OpenPosition(ctx context.Context, symbol string) (ledger.Position, bool, error) {
	p, err := scanPosition(s.q.QueryRowContext(ctx,
		selectPositions+` WHERE symbol = ? AND status = 'open'`, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Position{}, false, nil
	}
	if err != nil {
		return ledger.Position{}, false, classify(err)
	}
	return p, true, nil
}

// LatestPosition returns the open row for symbol, or else its most recently
// closed row.
func (s store) LatestPosition(ctx context.Context, symbol string) (ledger.Position, bool, error) {
	p, err := scanPosition(s.q.QueryRowContext(ctx, selectPositions+`
		WHERE symbol = ?
		ORDER BY status = 'open' DESC, opened_at DESC, id DESC
		LIMIT 1`, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Position{}, false, nil
	}
	if err != nil {
		return ledger.Position{}, false, classify(err)
	}
	return p, true, nil
}

// ListOpenPositions returns every open position ordered by symbol.
func (s store) ListOpenPositions(ctx context.Context) ([]ledger.Position, error) {
	return s.queryPositions(ctx, selectPositions+` WHERE status = 'open' ORDER BY symbol`)
}

// PositionHistory returns all rows for symbol, oldest first.
func (s store) PositionHistory(ctx context.Context, symbol string) ([]ledger.Position, error) {
	return s.queryPositions(ctx, selectPositions+` WHERE symbol = ? ORDER BY opened_at, id`, symbol)
}

// SavePosition inserts p when it has no id, otherwise updates it guarded by
// its version. A stale version is a concurrency conflict.
func (s store) SavePosition(ctx context.Context, p ledger.Position) (ledger.Position, error) {
	var closedAt any
	if !p.ClosedAt.IsZero() {
		closedAt = market.FormatTime(p.ClosedAt)
	}
	now := market.FormatTime(s.now())

	if p.ID == "" {
		p.ID = id.New()
		p.Version = 1
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO positions
			(id, symbol, quantity, avg_price, cost_basis, opened_at, closed_at, status, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Symbol, p.Quantity.String(), p.Avg, p.CostBasis.String(),
			market.FormatTime(p.OpenedAt), closedAt, string(p.Status), p.Version, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ledger.Position{}, fmt.Errorf("%w: %s already has an open position", ledger.ErrConcurrencyConflict, p.Symbol)
			}
			return ledger.Position{}, classify(fmt.Errorf("insert position: %w", err))
		}
		return p, nil
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE positions
		SET quantity = ?, avg_price = ?, cost_basis = ?, closed_at = ?, status = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.Quantity.String(), p.Avg, p.CostBasis.String(), closedAt, string(p.Status), now,
		p.ID, p.Version,
	)
	if err != nil {
		return ledger.Position{}, classify(fmt.Errorf("update position: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Position{}, classify(err)
	}
	if n == 0 {
		return ledger.Position{}, fmt.Errorf("%w: position %s changed since version %d",
			ledger.ErrConcurrencyConflict, p.ID, p.Version)
	}
	p.Version++
	return p, nil
}

func (s store) queryPositions(ctx context.Context, query string, args ...any) ([]ledger.Position, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []ledger.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func scanPosition(sc scanner) (ledger.Position, error) {
	var (
		p        ledger.Position
		openedAt string
		closedAt sql.NullString
		status   string
	)
	err := sc.Scan(&p.ID, &p.Symbol, &p.Quantity, &p.Avg, &p.CostBasis, &openedAt, &closedAt, &status, &p.Version)
	if err != nil {
		return ledger.Position{}, err
	}
	p.Status = ledger.Status(status)

	if p.OpenedAt, err = market.ParseTime(openedAt); err != nil {
		return ledger.Position{}, fmt.Errorf("position %s: %w", p.ID, err)
	}
	if closedAt.Valid {
		if p.ClosedAt, err = market.ParseTime(closedAt.String); err != nil {
			return ledger.Position{}, fmt.Errorf("position %s: %w", p.ID, err)
		}
	}
	return p, nil
}
