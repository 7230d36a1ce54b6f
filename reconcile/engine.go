// Package reconcile turns one executed fill into a recorded trade, an updated
// position and an updated performance row, atomically.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rustyeddy/teals/internal/trace"
	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
	"github.com/rustyeddy/teals/performance"
)

// Stages reported in ReconciliationError.
const (
	StageValidate    = "validate"
	StageLock        = "lock"
	StageDedupe      = "dedupe"
	StageSequence    = "sequence"
	StageAppend      = "append_trade"
	StagePosition    = "apply_position"
	StagePerformance = "apply_performance"
	StageCommit      = "commit"
	StageUnrealized  = "recompute_unrealized"
)

// DefaultTxTimeout bounds a single reconciliation, lock wait included.
const DefaultTxTimeout = 10 * time.Second

// Result is everything a reconciliation produced.
type Result struct {
	Trade       ledger.Trade          `json:"trade"`
	Position    ledger.Position       `json:"position"`
	Closed      *ledger.Position      `json:"closed,omitempty"`
	Performance ledger.PerformanceDay `json:"performance"`
	Delta       ledger.PositionDelta  `json:"delta"`
}

// Aggregator maintains performance rows inside the engine's transaction.
type Aggregator interface {
	RecordTrade(ctx context.Context, s performance.Store, t ledger.Trade, delta ledger.PositionDelta) (ledger.PerformanceDay, error)
	RecomputeUnrealized(ctx context.Context, s performance.Store, src performance.TradeSource, date string, marks map[string]decimal.Decimal) (ledger.PerformanceDay, error)
}

// Observer is told about every committed reconciliation. It is called
// synchronously and must not block.
type Observer interface {
	Reconciled(ctx context.Context, r Result)
}

type ObserverFunc func(ctx context.Context, r Result)

func (f ObserverFunc) Reconciled(ctx context.Context, r Result) { f(ctx, r) }

// Engine is the only writer of trades, positions and performance rows.
type Engine struct {
	db      *journal.SQLite
	agg     Aggregator
	locks   *keyedLock
	timeout time.Duration
	log     *zap.Logger

	mu        sync.RWMutex
	observers []Observer
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithAggregator(a Aggregator) Option {
	return func(e *Engine) { e.agg = a }
}

// WithTxTimeout sets the per-call deadline. Zero disables it.
func WithTxTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

func New(db *journal.SQLite, opts ...Option) *Engine {
	e := &Engine{
		db:      db,
		locks:   newKeyedLock(),
		timeout: DefaultTxTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.agg == nil {
		e.agg = performance.NewAggregator(e.log)
	}
	e.log = e.log.Named("reconcile")
	return e
}

// Subscribe adds an observer after construction.
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// Process records t, applies it to its symbol's position and folds the
// realized delta into the performance row for the trade's date. All three
// writes commit together or not at all. Same-symbol calls are serialized;
// different symbols run concurrently.
//
// A ClientID seen before fails with ErrDuplicateTrade and changes nothing.
// A fill executed before the symbol's latest recorded fill is rejected with
// ErrValidation.
// Errors are *ledger.ReconciliationError; ledger.IsRetryable tells whether
// resubmitting the same trade is safe.
func (e *Engine) Process(ctx context.Context, t ledger.Trade) (res Result, err error) {
	t = t.Normalize()

	ctx, span := trace.StartSpan(ctx, "reconcile.Process",
		attribute.String("symbol", t.Symbol),
		attribute.String("client_id", t.ClientID),
		attribute.String("side", string(t.Side)),
	)
	defer func() { trace.End(span, err) }()

	stage := StageValidate
	defer func() {
		if err != nil {
			err = &ledger.ReconciliationError{Stage: stage, ClientID: t.ClientID, Symbol: t.Symbol, Err: err}
			e.logFailure(t, err)
		}
	}()

	if err := t.Validate(); err != nil {
		return Result{}, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	stage = StageLock
	unlock, err := e.locks.Lock(ctx, t.Symbol)
	if err != nil {
		return Result{}, fmt.Errorf("%w: waiting for %s: %w", ledger.ErrConcurrencyConflict, t.Symbol, err)
	}
	defer unlock()

	err = e.db.WithTx(ctx, func(tx *journal.Tx) error {
		stage = StageDedupe
		prev, seen, err := tx.GetTradeByClientID(ctx, t.ClientID)
		if err != nil {
			return err
		}
		if seen {
			return &ledger.DuplicateTradeError{ClientID: t.ClientID, TradeID: prev.ID}
		}

		// A symbol's fills apply in executed_at order, the order replays use.
		stage = StageSequence
		last, found, err := tx.LastTradeFor(ctx, t.Symbol)
		if err != nil {
			return err
		}
		if found && t.ExecutedAt.Before(last.ExecutedAt) {
			return ledger.Validationf("%s executed at %s is before the last %s fill at %s",
				t.ClientID, market.FormatTime(t.ExecutedAt), t.Symbol, market.FormatTime(last.ExecutedAt))
		}

		stage = StageAppend
		if t.ID, err = tx.AppendTrade(ctx, t); err != nil {
			return err
		}

		stage = StagePosition
		out, err := e.applyPosition(ctx, tx, t)
		if err != nil {
			return err
		}

		stage = StagePerformance
		day, err := e.agg.RecordTrade(ctx, tx, t, out.Delta)
		if err != nil {
			return err
		}

		res = Result{
			Trade:       t,
			Position:    out.Position(),
			Closed:      out.Closed,
			Performance: day,
			Delta:       out.Delta,
		}
		stage = StageCommit
		return nil
	})
	if err != nil {
		return Result{}, deadline(ctx, err)
	}

	e.log.Info("trade reconciled",
		zap.String("trade_id", t.ID),
		zap.String("client_id", t.ClientID),
		zap.String("symbol", t.Symbol),
		zap.String("side", string(t.Side)),
		zap.Stringer("quantity", t.Quantity),
		zap.Stringer("price", t.Price),
		zap.Stringer("position", res.Position.Quantity),
		zap.Stringer("realized_delta", res.Delta.RealizedPnL),
	)
	e.notify(ctx, res)
	return res, nil
}

// applyPosition runs the ledger against the stored open row and persists
// the outcome. A closed row is written before its replacement so the
// one-open-row-per-symbol index never sees two.
func (e *Engine) applyPosition(ctx context.Context, tx *journal.Tx, t ledger.Trade) (ledger.Outcome, error) {
	open, ok, err := tx.OpenPosition(ctx, t.Symbol)
	if err != nil {
		return ledger.Outcome{}, err
	}
	var cur *ledger.Position
	if ok {
		cur = &open
	}

	out := ledger.Apply(cur, t)
	if out.Closed != nil {
		closed, err := tx.SavePosition(ctx, *out.Closed)
		if err != nil {
			return ledger.Outcome{}, err
		}
		out.Closed = &closed
	}
	if out.Current != nil {
		current, err := tx.SavePosition(ctx, *out.Current)
		if err != nil {
			return ledger.Outcome{}, err
		}
		out.Current = &current
	}
	return out, nil
}

// RecomputeUnrealized marks the positions held at the end of date and
// overwrites that day's unrealized P&L. marks must cover every symbol held.
func (e *Engine) RecomputeUnrealized(ctx context.Context, date string, marks map[string]decimal.Decimal) (day ledger.PerformanceDay, err error) {
	ctx, span := trace.StartSpan(ctx, "reconcile.RecomputeUnrealized", attribute.String("date", date))
	defer func() { trace.End(span, err) }()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	err = e.db.WithTx(ctx, func(tx *journal.Tx) error {
		var err error
		day, err = e.agg.RecomputeUnrealized(ctx, tx, tx, date, marks)
		return err
	})
	if err != nil {
		err = &ledger.ReconciliationError{Stage: StageUnrealized, Err: deadline(ctx, err)}
		e.log.Warn("recompute unrealized failed", zap.String("date", date), zap.Error(err))
		return ledger.PerformanceDay{}, err
	}
	return day, nil
}

// Today is the performance row for the current date, zero when nothing has
// been recorded yet.
func (e *Engine) Today(ctx context.Context, now time.Time) (ledger.PerformanceDay, error) {
	date := market.DateOf(now)
	day, ok, err := e.db.PerformanceDay(ctx, date)
	if err != nil {
		return ledger.PerformanceDay{}, err
	}
	if !ok {
		return ledger.NewPerformanceDay(date), nil
	}
	return day, nil
}

func (e *Engine) notify(ctx context.Context, r Result) {
	e.mu.RLock()
	obs := append([]Observer(nil), e.observers...)
	e.mu.RUnlock()

	for _, o := range obs {
		o.Reconciled(ctx, r)
	}
}

func (e *Engine) logFailure(t ledger.Trade, err error) {
	fields := []zap.Field{
		zap.String("client_id", t.ClientID),
		zap.String("symbol", t.Symbol),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, ledger.ErrDuplicateTrade), errors.Is(err, ledger.ErrValidation):
		e.log.Info("trade rejected", fields...)
	case ledger.IsRetryable(err):
		e.log.Warn("trade conflicted", fields...)
	default:
		e.log.Error("trade failed", fields...)
	}
}

// deadline turns any failure after ctx expired into a persistence error
// carrying the context's cause. Timeouts are never retried.
func deadline(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	if ctxErr == nil || errors.Is(err, ledger.ErrDuplicateTrade) || errors.Is(err, ledger.ErrValidation) {
		return err
	}
	if errors.Is(err, ctxErr) && errors.Is(err, ledger.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w (%v)", ledger.ErrPersistence, ctxErr, err)
}
