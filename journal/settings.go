package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
)

// Setting is a key/value pair owned by the configuration collaborator.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WatchlistEntry is one monitored symbol.
type WatchlistEntry struct {
	Symbol    string    `json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}

func (s store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return value, true, nil
}

func (s store) SetSetting(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ledger.Validationf("setting key is required")
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, market.FormatTime(s.now()),
	)
	if err != nil {
		return classify(fmt.Errorf("set %s: %w", key, err))
	}
	return nil
}

// Settings lists every setting ordered by key.
func (s store) Settings(ctx context.Context) ([]Setting, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var (
			st      Setting
			updated string
		)
		if err := rows.Scan(&st.Key, &st.Value, &updated); err != nil {
			return nil, classify(err)
		}
		if st.UpdatedAt, err = market.ParseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// SettingsMap is Settings keyed by name.
func (s store) SettingsMap(ctx context.Context) (map[string]string, error) {
	all, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(all))
	for _, st := range all {
		m[st.Key] = st.Value
	}
	return m, nil
}

// Watchlist returns monitored symbols in the order they were added.
func (s store) Watchlist(ctx context.Context) ([]WatchlistEntry, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT symbol, created_at FROM watchlist ORDER BY created_at, symbol`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []WatchlistEntry
	for rows.Next() {
		var (
			e       WatchlistEntry
			created string
		)
		if err := rows.Scan(&e.Symbol, &created); err != nil {
			return nil, classify(err)
		}
		if e.CreatedAt, err = market.ParseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// AddToWatchlist upper-cases symbol and adds it. Adding twice is a no-op.
func (s store) AddToWatchlist(ctx context.Context, symbol string) (bool, error) {
	symbol = market.NormalizeSymbol(symbol)
	if err := market.ValidateSymbol(symbol); err != nil {
		return false, ledger.Validationf("%v", err)
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO watchlist (symbol, created_at) VALUES (?, ?)`,
		symbol, market.FormatTime(s.now()))
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	return n > 0, classify(err)
}

// RemoveFromWatchlist reports whether symbol was present.
func (s store) RemoveFromWatchlist(ctx context.Context, symbol string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM watchlist WHERE symbol = ?`, market.NormalizeSymbol(symbol))
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	return n > 0, classify(err)
}

// KeyWatchlistSeeded marks a database whose default watchlist has been
// installed once.
const KeyWatchlistSeeded = "watchlist_seeded"

// Seed installs default settings that are not yet set. The default watchlist
// is installed only on the first Seed of a database, so a watchlist the user
// emptied stays empty.
func (j *SQLite) Seed(ctx context.Context, settings map[string]string, watchlist []string) error {
	return j.WithTx(ctx, func(tx *Tx) error {
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, err := tx.q.ExecContext(ctx,
				`INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
				k, settings[k], market.FormatTime(tx.now()))
			if err != nil {
				return classify(fmt.Errorf("seed setting %s: %w", k, err))
			}
		}

		_, seeded, err := tx.GetSetting(ctx, KeyWatchlistSeeded)
		if err != nil || seeded {
			return err
		}

		var n int
		if err := tx.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM watchlist`).Scan(&n); err != nil {
			return classify(err)
		}
		if n == 0 {
			for _, sym := range watchlist {
				if _, err := tx.AddToWatchlist(ctx, sym); err != nil {
					return err
				}
			}
		}
		return tx.SetSetting(ctx, KeyWatchlistSeeded, "true")
	})
}
