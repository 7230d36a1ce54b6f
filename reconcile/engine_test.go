package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/performance"
)

var t0 = time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *journal.SQLite) {
	t.Helper()

	db, err := journal.NewSQLite(filepath.Join(t.TempDir(), "teals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(db, opts...), db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fill(clientID, symbol string, side ledger.Side, qty, price string, at time.Time) ledger.Trade {
	return ledger.Trade{
		ClientID:   clientID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   dec(qty),
		Price:      dec(price),
		ExecutedAt: at,
	}
}

func mustProcess(t *testing.T, e *Engine, tr ledger.Trade) Result {
	t.Helper()
	res, err := e.Process(context.Background(), tr)
	require.NoError(t, err)
	return res
}

func TestProcessWeightedAverageAndClose(t *testing.T) {
	t.Parallel()

	e, db := newTestEngine(t)
	ctx := context.Background()

	r1 := mustProcess(t, e, fill("f1", "BTC/USD", ledger.Buy, "10", "100", t0))
	assert.NotEmpty(t, r1.Trade.ID)
	assert.True(t, r1.Delta.StatusChanged)
	assert.True(t, dec("10").Equal(r1.Position.Quantity))

	r2 := mustProcess(t, e, fill("f2", "BTC/USD", ledger.Buy, "5", "110", t0.Add(time.Minute)))
	avg, ok := r2.Position.AvgPrice()
	require.True(t, ok)
	assert.Equal(t, "103.33", avg.Round(2).StringFixed(2))
	assert.True(t, dec("15").Equal(r2.Position.Quantity))
	assert.True(t, r2.Delta.RealizedPnL.IsZero())
	assert.Equal(t, r1.Position.ID, r2.Position.ID)

	r3 := mustProcess(t, e, fill("f3", "BTC/USD", ledger.Sell, "15", "120", t0.Add(2*time.Minute)))
	assert.True(t, dec("250").Equal(r3.Delta.RealizedPnL), r3.Delta.RealizedPnL.String())
	assert.True(t, r3.Delta.StatusChanged)
	assert.Equal(t, ledger.StatusClosed, r3.Position.Status)
	_, ok = r3.Position.AvgPrice()
	assert.False(t, ok)

	assert.True(t, dec("250").Equal(r3.Performance.RealizedPnL))
	assert.Equal(t, int64(3), r3.Performance.TradesCount)
	assert.Equal(t, "2024-04-10", r3.Performance.Date)

	_, open, err := db.OpenPosition(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestProcessFlip(t *testing.T) {
	t.Parallel()

	e, db := newTestEngine(t)
	ctx := context.Background()

	mustProcess(t, e, fill("f1", "ETH/USD", ledger.Buy, "10", "100", t0))
	r := mustProcess(t, e, fill("f2", "ETH/USD", ledger.Sell, "15", "90", t0.Add(time.Minute)))

	assert.True(t, dec("-100").Equal(r.Delta.RealizedPnL))
	assert.True(t, r.Delta.Flipped)
	assert.True(t, dec("-5").Equal(r.Position.Quantity))
	avg, ok := r.Position.AvgPrice()
	require.True(t, ok)
	assert.True(t, dec("90").Equal(avg))
	require.NotNil(t, r.Closed)
	assert.Equal(t, ledger.StatusClosed, r.Closed.Status)
	assert.NotEqual(t, r.Closed.ID, r.Position.ID)

	hist, err := db.PositionHistory(ctx, "ETH/USD")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, ledger.StatusClosed, hist[0].Status)
	assert.Equal(t, ledger.StatusOpen, hist[1].Status)
	assert.True(t, dec("450").Equal(hist[1].CostBasis))
}

func TestProcessDuplicateChangesNothing(t *testing.T) {
	t.Parallel()

	e, db := newTestEngine(t)
	ctx := context.Background()

	first := mustProcess(t, e, fill("same", "BTC/USD", ledger.Buy, "1", "100", t0))

	_, err := e.Process(ctx, fill("same", "BTC/USD", ledger.Buy, "1", "100", t0))
	require.ErrorIs(t, err, ledger.ErrDuplicateTrade)
	assert.False(t, ledger.IsRetryable(err))

	var dup *ledger.DuplicateTradeError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.Trade.ID, dup.TradeID)

	var rerr *ledger.ReconciliationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, StageDedupe, rerr.Stage)

	p, ok, err := db.OpenPosition(ctx, "BTC/USD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, dec("1").Equal(p.Quantity))

	day, _, err := db.PerformanceDay(ctx, "2024-04-10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), day.TradesCount)
}

func TestProcessValidationWritesNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		trade ledger.Trade
	}{
		{"zero quantity", fill("a", "BTC/USD", ledger.Buy, "0", "100", t0)},
		{"negative price", fill("b", "BTC/USD", ledger.Buy, "1", "-1", t0)},
		{"bad side", fill("c", "BTC/USD", "HOLD", "1", "100", t0)},
		{"missing client id", fill("", "BTC/USD", ledger.Buy, "1", "100", t0)},
		{"blank symbol", fill("d", "  ", ledger.Buy, "1", "100", t0)},
	}

	e, db := newTestEngine(t)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Process(context.Background(), tt.trade)
			require.ErrorIs(t, err, ledger.ErrValidation)

			var rerr *ledger.ReconciliationError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, StageValidate, rerr.Stage)
		})
	}

	_, ok, err := db.LastTrade(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingAggregator struct {
	*performance.Aggregator
	err error
}

func (f failingAggregator) RecordTrade(context.Context, performance.Store, ledger.Trade, ledger.PositionDelta) (ledger.PerformanceDay, error) {
	return ledger.PerformanceDay{}, f.err
}

func TestProcessRollsBackOnPerformanceFailure(t *testing.T) {
	t.Parallel()

	boom := fmt.Errorf("%w: disk full", ledger.ErrPersistence)
	e, db := newTestEngine(t, WithAggregator(failingAggregator{Aggregator: performance.NewAggregator(nil), err: boom}))
	ctx := context.Background()

	_, err := e.Process(ctx, fill("f1", "BTC/USD", ledger.Buy, "1", "100", t0))
	require.ErrorIs(t, err, ledger.ErrPersistence)

	var rerr *ledger.ReconciliationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, StagePerformance, rerr.Stage)
	assert.Equal(t, "f1", rerr.ClientID)

	_, ok, err := db.GetTradeByClientID(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, ok, "trade must roll back")

	_, ok, err = db.OpenPosition(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.False(t, ok, "position must roll back")
}

type slowAggregator struct {
	*performance.Aggregator
}

func (slowAggregator) RecordTrade(ctx context.Context, _ performance.Store, _ ledger.Trade, _ ledger.PositionDelta) (ledger.PerformanceDay, error) {
	<-ctx.Done()
	return ledger.PerformanceDay{}, ctx.Err()
}

func TestProcessTimeoutIsFatal(t *testing.T) {
	t.Parallel()

	e, db := newTestEngine(t,
		WithAggregator(slowAggregator{performance.NewAggregator(nil)}),
		WithTxTimeout(50*time.Millisecond),
	)

	_, err := e.Process(context.Background(), fill("f1", "BTC/USD", ledger.Buy, "1", "100", t0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ledger.IsRetryable(err))

	_, ok, err := db.GetTradeByClientID(context.Background(), "f1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessLockWaitTimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, WithTxTimeout(30*time.Millisecond))

	unlock, err := e.locks.Lock(context.Background(), "BTC/USD")
	require.NoError(t, err)
	defer unlock()

	_, err = e.Process(context.Background(), fill("f1", "BTC/USD", ledger.Buy, "1", "100", t0))
	require.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
	assert.True(t, ledger.IsRetryable(err))

	var rerr *ledger.ReconciliationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, StageLock, rerr.Stage)
}

func TestProcessConcurrentSymbols(t *testing.T) {
	t.Parallel()

	e, db := newTestEngine(t)
	ctx := context.Background()

	symbols := []string{"BTC/USD", "ETH/USD", "SOL/USD", "ADA/USD"}
	const perSymbol = 25

	// Symbols race each other; each symbol's fills arrive in time order.
	var g errgroup.Group
	for _, sym := range symbols {
		g.Go(func() error {
			for i := 0; i < perSymbol; i++ {
				side := ledger.Buy
				if i%3 == 2 {
					side = ledger.Sell
				}
				tr := fill(fmt.Sprintf("%s-%d", sym, i), sym, side, "1", fmt.Sprintf("%d", 100+i), t0.Add(time.Duration(i)*time.Second))
				if _, err := e.Process(ctx, tr); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// 17 buys and 8 sells per symbol.
	for _, sym := range symbols {
		p, ok, err := db.OpenPosition(ctx, sym)
		require.NoError(t, err)
		require.True(t, ok, sym)
		assert.True(t, dec("9").Equal(p.Quantity), "%s: %s", sym, p.Quantity)
	}

	day, ok, err := db.PerformanceDay(ctx, "2024-04-10")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(len(symbols)*perSymbol), day.TradesCount)

	rep, err := e.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(symbols)*perSymbol), rep.Trades)
	assert.Len(t, rep.Positions, len(symbols))
	assert.True(t, rep.Clean(), "%+v", rep.Drift)
}

func TestProcessRejectsBackdatedFill(t *testing.T) {
	t.Parallel()

	e, db := newTestEngine(t)
	ctx := context.Background()
	day2 := t0.Add(24 * time.Hour)

	mustProcess(t, e, fill("b1", "BTC/USD", ledger.Buy, "10", "100", day2))

	_, err := e.Process(ctx, fill("s1", "BTC/USD", ledger.Sell, "10", "90", t0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.False(t, ledger.IsRetryable(err))
	var rerr *ledger.ReconciliationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, StageSequence, rerr.Stage)

	_, seen, err := db.GetTradeByClientID(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, seen)
	_, found, err := db.PerformanceDay(ctx, "2024-04-10")
	require.NoError(t, err)
	assert.False(t, found)

	// Same timestamp, other symbols and later fills are all accepted.
	mustProcess(t, e, fill("s2", "BTC/USD", ledger.Sell, "4", "90", day2))
	mustProcess(t, e, fill("e1", "ETH/USD", ledger.Buy, "1", "3000", t0))
	mustProcess(t, e, fill("s3", "BTC/USD", ledger.Sell, "6", "95", day2.Add(time.Hour)))

	rep, err := e.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rep.Trades)
	assert.True(t, rep.Clean(), "%+v", rep.Drift)

	day, err := e.RecomputeUnrealized(ctx, "2024-04-10", map[string]decimal.Decimal{"ETH/USD": dec("3100")})
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(day.UnrealizedPnL), day.UnrealizedPnL.String())
}

func TestProcessTradesCountMatchesLog(t *testing.T) {
	t.Parallel()

	e, db := newTestEngine(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	book := ledger.NewBook()
	perDay := map[string]int64{}
	at := t0
	for i := 0; i < 120; i++ {
		side := ledger.Buy
		if rng.Intn(2) == 0 {
			side = ledger.Sell
		}
		at = at.Add(time.Duration(rng.Intn(6)) * time.Hour)
		tr := fill(fmt.Sprintf("p%d", i), "BTC/USD", side,
			fmt.Sprintf("%d", 1+rng.Intn(5)), fmt.Sprintf("%d", 90+rng.Intn(20)), at)

		res := mustProcess(t, e, tr)
		want := book.Apply(res.Trade)
		assert.True(t, want.Delta.RealizedPnL.Equal(res.Delta.RealizedPnL), "trade %d", i)
		perDay[res.Performance.Date]++
	}

	days, err := db.ListPerformance(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, days, len(perDay))

	realized := decimal.Zero
	for _, d := range days {
		assert.Equal(t, perDay[d.Date], d.TradesCount, d.Date)
		n, err := db.CountTradesOn(ctx, d.Date)
		require.NoError(t, err)
		assert.Equal(t, n, d.TradesCount, d.Date)
		realized = realized.Add(d.RealizedPnL)
	}
	assert.True(t, book.Realized().Equal(realized))

	rep, err := e.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Clean(), "%+v", rep.Drift)
}

func TestProcessNotifiesObservers(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []Result
	)
	record := ObserverFunc(func(_ context.Context, r Result) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})

	e, _ := newTestEngine(t, WithObserver(record))
	var late int
	e.Subscribe(ObserverFunc(func(context.Context, Result) { late++ }))

	mustProcess(t, e, fill("f1", "BTC/USD", ledger.Buy, "1", "100", t0))
	_, err := e.Process(context.Background(), fill("f1", "BTC/USD", ledger.Buy, "1", "100", t0))
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "f1", got[0].Trade.ClientID)
	assert.Equal(t, 1, late)
}

func TestEngineRecomputeUnrealized(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	ctx := context.Background()

	mustProcess(t, e, fill("f1", "BTC/USD", ledger.Buy, "10", "100", t0))
	mustProcess(t, e, fill("f2", "BTC/USD", ledger.Sell, "4", "110", t0.Add(time.Hour)))

	day, err := e.RecomputeUnrealized(ctx, "2024-04-10", map[string]decimal.Decimal{"BTC/USD": dec("105")})
	require.NoError(t, err)
	assert.True(t, dec("30").Equal(day.UnrealizedPnL), day.UnrealizedPnL.String())
	assert.True(t, dec("40").Equal(day.RealizedPnL))
	assert.True(t, dec("70").Equal(day.Total()))
	assert.Equal(t, int64(2), day.TradesCount)

	_, err = e.RecomputeUnrealized(ctx, "2024-04-10", nil)
	require.ErrorIs(t, err, ledger.ErrValidation)
	var rerr *ledger.ReconciliationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, StageUnrealized, rerr.Stage)
}

func TestEngineToday(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	ctx := context.Background()

	day, err := e.Today(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, "2024-04-10", day.Date)
	assert.Zero(t, day.TradesCount)

	mustProcess(t, e, fill("f1", "BTC/USD", ledger.Buy, "1", "100", t0))
	day, err = e.Today(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), day.TradesCount)
}

func TestReconciliationErrorMessage(t *testing.T) {
	t.Parallel()

	err := &ledger.ReconciliationError{Stage: StageAppend, ClientID: "c1", Symbol: "BTC/USD", Err: errors.New("boom")}
	assert.Equal(t, "reconcile BTC/USD c1 (append_trade): boom", err.Error())
}
