package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rustyeddy/teals/ledger"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store carries the queries shared by SQLite and Tx.
type store struct {
	q   querier
	now func() time.Time
}

// SQLite is the durable home of trades, positions, performance days,
// settings and the watchlist.
type SQLite struct {
	store
	db  *sql.DB
	log *zap.Logger
}

// Tx is a write transaction. Everything done through it commits or rolls
// back together.
type Tx struct {
	store
	tx *sql.Tx
}

type options struct {
	busyTimeout time.Duration
	log         *zap.Logger
	now         func() time.Time
}

type Option func(*options)

// WithBusyTimeout bounds how long a writer waits on SQLite's write lock.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock overrides the clock used for recorded_at/updated_at columns.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewSQLite opens (creating if needed) the database at path and applies the
// schema. Transactions begin IMMEDIATE so a writer holds the lock from its
// first statement.
func NewSQLite(path string, opts ...Option) (*SQLite, error) {
	o := options{
		busyTimeout: 5 * time.Second,
		log:         zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := fmt.Sprintf("%s%s_txlock=immediate&_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		path, sep, o.busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, multierr.Append(fmt.Errorf("apply schema: %w", err), db.Close())
	}

	o.log.Debug("journal opened", zap.String("path", path))
	return &SQLite{
		store: store{q: db, now: o.now},
		db:    db,
		log:   o.log,
	}, nil
}

// WithTx runs fn inside a transaction. fn's error, or a failed commit, rolls
// everything back; readers never see a partial write.
func (j *SQLite) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	sqlTx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	tx := &Tx{store: store{q: sqlTx, now: j.now}, tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = multierr.Append(err, classify(fmt.Errorf("rollback: %w", rbErr)))
			}
			return
		}
		if cErr := sqlTx.Commit(); cErr != nil {
			err = classify(fmt.Errorf("commit: %w", cErr))
		}
	}()

	return fn(tx)
}

func (j *SQLite) Ping(ctx context.Context) error {
	return classify(j.db.PingContext(ctx))
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

// classify maps driver errors onto the ledger error taxonomy. Errors that
// already carry a ledger sentinel pass through unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrDuplicateTrade),
		errors.Is(err, ledger.ErrConcurrencyConflict),
		errors.Is(err, ledger.ErrPersistence),
		errors.Is(err, ErrNotFound):
		return err
	}

	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", ledger.ErrConcurrencyConflict, err)
	}
	return fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

type scanner interface {
	Scan(dest ...any) error
}
