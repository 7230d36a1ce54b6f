package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
	"github.com/rustyeddy/teals/performance"
	"github.com/rustyeddy/teals/risk"
)

// TradeRequest is the body of POST /api/trades. Quantity and price accept
// JSON numbers or strings; executed_at defaults to now.
type TradeRequest struct {
	ClientID   string          `json:"client_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt string          `json:"executed_at"`
	Strategy   string          `json:"strategy"`
}

// MarksRequest is the body of POST /api/performance/:date/unrealized.
type MarksRequest struct {
	Marks map[string]decimal.Decimal `json:"marks"`
}

func (s *Server) health(c *gin.Context) {
	if err := s.db.Ping(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createTrade(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, ledger.Validationf("decode trade: %v", err))
		return
	}

	executed := s.now()
	if req.ExecutedAt != "" {
		t, err := market.ParseTime(req.ExecutedAt)
		if err != nil {
			fail(c, ledger.Validationf("executed_at: %v", err))
			return
		}
		executed = t
	}

	res, err := s.engine.Process(c.Request.Context(), ledger.Trade{
		ClientID:   req.ClientID,
		Symbol:     req.Symbol,
		Side:       ledger.Side(req.Side),
		Quantity:   req.Quantity,
		Price:      req.Price,
		ExecutedAt: executed,
		Strategy:   req.Strategy,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, res)
}

func (s *Server) listTrades(c *gin.Context) {
	var since time.Time
	if v := c.Query("since"); v != "" {
		t, err := market.ParseTime(v)
		if err != nil {
			fail(c, ledger.Validationf("since: %v", err))
			return
		}
		since = t
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		fail(c, err)
		return
	}

	trades := []ledger.Trade{}
	for t, err := range s.db.ListSince(c.Request.Context(), since) {
		if err != nil {
			fail(c, err)
			return
		}
		trades = append(trades, t)
		if limit > 0 && len(trades) == limit {
			break
		}
	}
	ok(c, http.StatusOK, trades)
}

func (s *Server) lastTrade(c *gin.Context) {
	t, found, err := s.db.LastTrade(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		fail(c, journal.ErrNotFound)
		return
	}
	ok(c, http.StatusOK, t)
}

func (s *Server) listPositions(c *gin.Context) {
	open, err := s.db.ListOpenPositions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if open == nil {
		open = []ledger.Position{}
	}
	ok(c, http.StatusOK, open)
}

func (s *Server) getPosition(c *gin.Context) {
	symbol := market.NormalizeSymbol(c.Param("symbol"))
	p, found, err := s.db.LatestPosition(c.Request.Context(), symbol)
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		fail(c, fmt.Errorf("position %s: %w", symbol, journal.ErrNotFound))
		return
	}
	ok(c, http.StatusOK, p)
}

func (s *Server) positionHistory(c *gin.Context) {
	symbol := market.NormalizeSymbol(c.Param("symbol"))
	hist, err := s.db.PositionHistory(c.Request.Context(), symbol)
	if err != nil {
		fail(c, err)
		return
	}
	if hist == nil {
		hist = []ledger.Position{}
	}
	ok(c, http.StatusOK, hist)
}

func (s *Server) listPerformance(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := market.ParseDate(d); err != nil {
			fail(c, ledger.Validationf("%v", err))
			return
		}
	}
	days, err := s.db.ListPerformance(c.Request.Context(), from, to)
	if err != nil {
		fail(c, err)
		return
	}
	if days == nil {
		days = []ledger.PerformanceDay{}
	}
	ok(c, http.StatusOK, days)
}

func (s *Server) performanceToday(c *gin.Context) {
	day, err := s.engine.Today(c.Request.Context(), s.now())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, day)
}

func (s *Server) performanceDay(c *gin.Context) {
	date := c.Param("date")
	if _, err := market.ParseDate(date); err != nil {
		fail(c, ledger.Validationf("%v", err))
		return
	}
	day, found, err := s.db.PerformanceDay(c.Request.Context(), date)
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		day = ledger.NewPerformanceDay(date)
	}
	ok(c, http.StatusOK, day)
}

func (s *Server) recomputeUnrealized(c *gin.Context) {
	var req MarksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, ledger.Validationf("decode marks: %v", err))
		return
	}
	day, err := s.engine.RecomputeUnrealized(c.Request.Context(), c.Param("date"), req.Marks)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, day)
}

func (s *Server) getWatchlist(c *gin.Context) {
	s.respondWatchlist(c)
}

func (s *Server) addWatchlist(c *gin.Context) {
	if _, err := s.db.AddToWatchlist(c.Request.Context(), c.Query("symbol")); err != nil {
		fail(c, err)
		return
	}
	s.respondWatchlist(c)
}

func (s *Server) removeWatchlist(c *gin.Context) {
	symbol := c.Query("symbol")
	if strings.TrimSpace(symbol) == "" {
		fail(c, ledger.Validationf("symbol is required"))
		return
	}
	if _, err := s.db.RemoveFromWatchlist(c.Request.Context(), symbol); err != nil {
		fail(c, err)
		return
	}
	s.respondWatchlist(c)
}

func (s *Server) respondWatchlist(c *gin.Context) {
	entries, err := s.db.Watchlist(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Symbol)
	}
	ok(c, http.StatusOK, gin.H{"watchlist": symbols})
}

func (s *Server) getSettings(c *gin.Context) {
	m, err := s.db.SettingsMap(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// updateRisk changes only the risk keys present in the query string.
func (s *Server) updateRisk(c *gin.Context) {
	ctx := c.Request.Context()

	values := map[string]any{}
	for _, key := range risk.PolicyKeys {
		if v, present := c.GetQuery(key); present {
			values[key] = v
		}
	}
	u, err := risk.ParseUpdate(values)
	if err != nil {
		fail(c, err)
		return
	}

	var policy risk.Policy
	err = s.db.WithTx(ctx, func(tx *journal.Tx) error {
		current, err := tx.SettingsMap(ctx)
		if err != nil {
			return err
		}
		p, err := risk.PolicyFromSettings(current)
		if err != nil {
			return err
		}
		if policy, err = p.Apply(u); err != nil {
			return err
		}
		for k, v := range policy.Settings() {
			if err := tx.SetSetting(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, policy.Settings())
}

// checkRisk evaluates the book. Marks come as repeated mark=SYMBOL:PRICE.
func (s *Server) checkRisk(c *gin.Context) {
	ctx := c.Request.Context()

	marks, err := parseMarks(c.QueryArray("mark"))
	if err != nil {
		fail(c, err)
		return
	}
	settings, err := s.db.SettingsMap(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	policy, err := risk.PolicyFromSettings(settings)
	if err != nil {
		fail(c, err)
		return
	}
	day, err := s.engine.Today(ctx, s.now())
	if err != nil {
		fail(c, err)
		return
	}
	open, err := s.db.ListOpenPositions(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, risk.Evaluate(policy, day, open, marks))
}

// accountSnapshot values open positions at mark=SYMBOL:PRICE query marks.
func (s *Server) accountSnapshot(c *gin.Context) {
	marks, err := parseMarks(c.QueryArray("mark"))
	if err != nil {
		fail(c, err)
		return
	}
	open, err := s.db.ListOpenPositions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	snap, err := performance.Snapshot(open, marks)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, snap)
}

func (s *Server) audit(c *gin.Context) {
	rep, err := s.engine.Audit(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}

func parseMarks(raw []string) (map[string]decimal.Decimal, error) {
	marks := make(map[string]decimal.Decimal, len(raw))
	for _, m := range raw {
		i := strings.LastIndex(m, ":")
		if i <= 0 {
			return nil, ledger.Validationf("mark %q: want SYMBOL:PRICE", m)
		}
		px, err := decimal.NewFromString(m[i+1:])
		if err != nil {
			return nil, ledger.Validationf("mark %q: %v", m, err)
		}
		marks[market.NormalizeSymbol(m[:i])] = px
	}
	return marks, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, ledger.Validationf("%s must be a non-negative integer", key)
	}
	return n, nil
}
