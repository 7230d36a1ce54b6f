package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/performance"
	"github.com/rustyeddy/teals/reconcile"
	"github.com/rustyeddy/teals/risk"
)

var noon = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type envelope struct {
	RequestID string          `json:"request_id"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	Data      json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*Server, *journal.SQLite) {
	t.Helper()

	db, err := journal.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine := reconcile.New(db)
	return NewServer(engine, db, WithClock(func() time.Time { return noon })), db
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func tradeBody(clientID, symbol, side, qty, price, at string) string {
	return `{"client_id":"` + clientID + `","symbol":"` + symbol + `","side":"` + side +
		`","quantity":` + qty + `,"price":"` + price + `","executed_at":"` + at + `"}`
}

func TestCreateTrade(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	w, env := do(t, s, http.MethodPost, "/api/trades", tradeBody("f1", "btc/usd", "buy", "10", "100", "2024-04-10T09:00:00Z"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, CodeOK, env.Code)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, env.RequestID, w.Header().Get("X-Request-Id"))

	res := decode[reconcile.Result](t, env.Data)
	assert.NotEmpty(t, res.Trade.ID)
	assert.Equal(t, "BTC/USD", res.Trade.Symbol)
	assert.Equal(t, ledger.Buy, res.Trade.Side)
	assert.True(t, decimal.NewFromInt(10).Equal(res.Position.Quantity))
	assert.Equal(t, int64(1), res.Performance.TradesCount)
}

func TestCreateTradeErrors(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	_, env := do(t, s, http.MethodPost, "/api/trades", tradeBody("dup", "BTC/USD", "BUY", "1", "100", "2024-04-10 09:00:00"))
	require.Equal(t, CodeOK, env.Code)

	tests := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{"duplicate", tradeBody("dup", "BTC/USD", "BUY", "1", "100", "2024-04-10 09:00:00"), http.StatusConflict, CodeDuplicate},
		{"zero quantity", tradeBody("z", "BTC/USD", "BUY", "0", "100", "2024-04-10 09:00:00"), http.StatusBadRequest, CodeValidation},
		{"bad side", tradeBody("s", "BTC/USD", "HOLD", "1", "100", "2024-04-10 09:00:00"), http.StatusBadRequest, CodeValidation},
		{"bad time", tradeBody("t", "BTC/USD", "BUY", "1", "100", "yesterday"), http.StatusBadRequest, CodeValidation},
		{"malformed", `{"client_id":`, http.StatusBadRequest, CodeValidation},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, s, http.MethodPost, "/api/trades", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, env.Code)
			assert.NotEmpty(t, env.Message)
			assert.False(t, env.Retryable)
		})
	}
}

func TestCreateTradeDefaultsExecutedAtToNow(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	body := `{"client_id":"now","symbol":"ETH/USD","side":"SELL","quantity":"2","price":3000}`
	w, env := do(t, s, http.MethodPost, "/api/trades", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	res := decode[reconcile.Result](t, env.Data)
	assert.True(t, noon.Equal(res.Trade.ExecutedAt))
	assert.True(t, decimal.NewFromInt(-2).Equal(res.Position.Quantity))
}

func TestReadEndpoints(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	for _, body := range []string{
		tradeBody("a", "BTC/USD", "BUY", "10", "100", "2024-04-10 09:00:00"),
		tradeBody("b", "BTC/USD", "SELL", "4", "110", "2024-04-10 10:00:00"),
		tradeBody("c", "ETH/USD", "BUY", "1", "3000", "2024-04-09 10:00:00"),
	} {
		w, _ := do(t, s, http.MethodPost, "/api/trades", body)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	t.Run("last trade", func(t *testing.T) {
		_, env := do(t, s, http.MethodGet, "/api/trades/last", "")
		assert.Equal(t, "b", decode[ledger.Trade](t, env.Data).ClientID)
	})

	t.Run("trades since", func(t *testing.T) {
		_, env := do(t, s, http.MethodGet, "/api/trades?since=2024-04-10", "")
		trades := decode[[]ledger.Trade](t, env.Data)
		require.Len(t, trades, 2)
		assert.Equal(t, "a", trades[0].ClientID)

		_, env = do(t, s, http.MethodGet, "/api/trades?limit=1", "")
		trades = decode[[]ledger.Trade](t, env.Data)
		require.Len(t, trades, 1)
		assert.Equal(t, "c", trades[0].ClientID)

		w, _ := do(t, s, http.MethodGet, "/api/trades?limit=-1", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("positions", func(t *testing.T) {
		_, env := do(t, s, http.MethodGet, "/api/positions", "")
		assert.Len(t, decode[[]ledger.Position](t, env.Data), 2)

		w, env := do(t, s, http.MethodGet, "/api/positions/BTC%2FUSD", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		p := decode[ledger.Position](t, env.Data)
		assert.True(t, decimal.NewFromInt(6).Equal(p.Quantity))

		w, env = do(t, s, http.MethodGet, "/api/positions/DOGE%2FUSD", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, CodeNotFound, env.Code)

		_, env = do(t, s, http.MethodGet, "/api/positions/btc%2Fusd/history", "")
		assert.Len(t, decode[[]ledger.Position](t, env.Data), 1)
	})

	t.Run("performance", func(t *testing.T) {
		_, env := do(t, s, http.MethodGet, "/api/performance/today", "")
		today := decode[ledger.PerformanceDay](t, env.Data)
		assert.Equal(t, "2024-04-10", today.Date)
		assert.Equal(t, int64(2), today.TradesCount)
		assert.True(t, decimal.NewFromInt(40).Equal(today.RealizedPnL))

		_, env = do(t, s, http.MethodGet, "/api/performance/2024-04-01", "")
		empty := decode[ledger.PerformanceDay](t, env.Data)
		assert.Zero(t, empty.TradesCount)

		w, _ := do(t, s, http.MethodGet, "/api/performance/april", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		_, env = do(t, s, http.MethodGet, "/api/performance?from=2024-04-09&to=2024-04-10", "")
		assert.Len(t, decode[[]ledger.PerformanceDay](t, env.Data), 2)
	})

	t.Run("unrealized", func(t *testing.T) {
		w, env := do(t, s, http.MethodPost, "/api/performance/2024-04-10/unrealized",
			`{"marks":{"BTC/USD":"105","eth/usd":3100}}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		day := decode[ledger.PerformanceDay](t, env.Data)
		// 6 × (105 − 100) + 1 × (3100 − 3000)
		assert.True(t, decimal.NewFromInt(130).Equal(day.UnrealizedPnL), day.UnrealizedPnL.String())

		w, env = do(t, s, http.MethodPost, "/api/performance/2024-04-10/unrealized", `{"marks":{"BTC/USD":"105"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, CodeValidation, env.Code)
	})

	t.Run("account snapshot", func(t *testing.T) {
		w, env := do(t, s, http.MethodGet, "/api/account/snapshot?mark=BTC/USD:105", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		snap := decode[performance.AccountSnapshot](t, env.Data)
		assert.Equal(t, 2, snap.Positions)
		// 6 × 105 + 1 × 3000 (ETH unmarked, valued at its average)
		assert.True(t, decimal.NewFromInt(3630).Equal(snap.PositionsValue), snap.PositionsValue.String())
		assert.True(t, decimal.NewFromInt(30).Equal(snap.UnrealizedPnL), snap.UnrealizedPnL.String())
		assert.Equal(t, []string{"ETH/USD"}, snap.Unmarked)

		w, _ = do(t, s, http.MethodGet, "/api/account/snapshot?mark=BTC/USD:0", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("audit", func(t *testing.T) {
		_, env := do(t, s, http.MethodGet, "/api/audit", "")
		rep := decode[reconcile.AuditReport](t, env.Data)
		assert.Equal(t, int64(3), rep.Trades)
		assert.True(t, rep.Clean(), "%+v", rep.Drift)
	})
}

func TestWatchlistEndpoints(t *testing.T) {
	t.Parallel()

	s, db := newTestServer(t)
	require.NoError(t, db.Seed(context.Background(), nil, []string{"BTC/USD", "ETH/USD"}))

	type watchlist struct {
		Watchlist []string `json:"watchlist"`
	}

	_, env := do(t, s, http.MethodGet, "/api/watchlist", "")
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, decode[watchlist](t, env.Data).Watchlist)

	_, env = do(t, s, http.MethodPost, "/api/watchlist/add?symbol=sol/usd", "")
	assert.Contains(t, decode[watchlist](t, env.Data).Watchlist, "SOL/USD")

	_, env = do(t, s, http.MethodPost, "/api/watchlist/remove?symbol=btc/usd", "")
	assert.NotContains(t, decode[watchlist](t, env.Data).Watchlist, "BTC/USD")

	w, _ := do(t, s, http.MethodPost, "/api/watchlist/add", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, s, http.MethodPost, "/api/watchlist/remove", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettingsAndRiskEndpoints(t *testing.T) {
	t.Parallel()

	s, db := newTestServer(t)
	require.NoError(t, db.Seed(context.Background(), risk.DefaultPolicy().Settings(), nil))

	w, env := do(t, s, http.MethodPost, "/api/settings/risk?max_daily_loss=50&stop_loss_pct=0.1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[map[string]string](t, env.Data)
	assert.Equal(t, "50", got[risk.KeyMaxDailyLoss])
	assert.Equal(t, "0.1", got[risk.KeyStopLossPct])
	assert.Equal(t, "1000", got[risk.KeyPositionSize])

	_, env = do(t, s, http.MethodGet, "/api/settings", "")
	assert.Equal(t, "50", decode[map[string]string](t, env.Data)[risk.KeyMaxDailyLoss])

	w, _ = do(t, s, http.MethodPost, "/api/settings/risk?stop_loss_pct=3", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Long 20 @ 100 marked at 85: over the size limit and through the stop.
	w, _ = do(t, s, http.MethodPost, "/api/trades", tradeBody("r1", "BTC/USD", "BUY", "20", "100", "2024-04-10 09:00:00"))
	require.Equal(t, http.StatusCreated, w.Code)

	w, env = do(t, s, http.MethodGet, "/api/risk?mark=BTC/USD:85", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := decode[risk.Decision](t, env.Data)
	assert.False(t, d.Allowed)
	codes := []string{}
	for _, v := range d.Violations {
		codes = append(codes, v.Code)
	}
	assert.ElementsMatch(t, []string{"POSITION_SIZE", "STOP_LOSS"}, codes)

	w, _ = do(t, s, http.MethodGet, "/api/risk?mark=BTC/USD", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndRequestID(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-Id"))
	assert.Contains(t, w.Body.String(), `"request_id":"abc-123"`)
}

func TestWebsocketStreamsReconciliations(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/api/trades", "application/json",
		bytes.NewBufferString(tradeBody("ws1", "SOL/USD", "BUY", "3", "20", "2024-04-10 11:00:00")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Type string           `json:"type"`
		Data reconcile.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "reconciled", ev.Type)
	assert.Equal(t, "ws1", ev.Data.Trade.ClientID)
	assert.True(t, decimal.NewFromInt(3).Equal(ev.Data.Position.Quantity))

	s.Hub().Close()
	assert.Zero(t, s.Hub().Clients())
}
