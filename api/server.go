// Package api serves the ledger over HTTP and streams reconciliations over a
// websocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/reconcile"
)

const shutdownTimeout = 5 * time.Second

// Server wires the HTTP routes to the engine and the store.
type Server struct {
	engine *reconcile.Engine
	db     *journal.SQLite
	hub    *Hub
	log    *zap.Logger
	now    func() time.Time
	router *gin.Engine
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithClock overrides the clock used for "today" and default trade times.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer builds the router and subscribes the websocket hub to engine.
func NewServer(engine *reconcile.Engine, db *journal.SQLite, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		db:     db,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("api")
	s.hub = NewHub(s.log)
	s.hub.now = s.now
	engine.Subscribe(s.hub)

	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	// Symbols contain '/', so route on the escaped path: BTC%2FUSD.
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.Use(RequestID(), Logger(s.log), gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/ws", s.hub.ServeWS)

	a := r.Group("/api")
	{
		a.POST("/trades", s.createTrade)
		a.GET("/trades", s.listTrades)
		a.GET("/trades/last", s.lastTrade)

		a.GET("/positions", s.listPositions)
		a.GET("/positions/:symbol", s.getPosition)
		a.GET("/positions/:symbol/history", s.positionHistory)

		a.GET("/performance", s.listPerformance)
		a.GET("/performance/today", s.performanceToday)
		a.GET("/performance/:date", s.performanceDay)
		a.POST("/performance/:date/unrealized", s.recomputeUnrealized)

		a.GET("/watchlist", s.getWatchlist)
		a.POST("/watchlist/add", s.addWatchlist)
		a.POST("/watchlist/remove", s.removeWatchlist)

		a.GET("/settings", s.getSettings)
		a.POST("/settings/risk", s.updateRisk)

		a.GET("/account/snapshot", s.accountSnapshot)
		a.GET("/risk", s.checkRisk)
		a.GET("/audit", s.audit)
	}
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.hub.Close)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("server stopped", zap.String("addr", addr))
	return nil
}
