package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rustyeddy/teals/config"
	"github.com/rustyeddy/teals/internal/logger"
	"github.com/rustyeddy/teals/internal/trace"
	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/reconcile"
)

var rootCmd = &cobra.Command{
	Use:   "teals",
	Short: "Trade ledger and position/performance reconciliation",
	Long: `Teals records executed trades in an append-only SQLite ledger and keeps
open positions and daily performance consistent with it.

It provides tools for:
  - Recording fills with weighted-average position accounting
  - Inspecting positions, trades and daily P&L
  - Recomputing unrealized P&L from mark prices
  - Auditing stored state against a replay of the ledger
  - Serving the ledger over HTTP and websockets`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	dbPath   string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "teals.yaml", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "path to SQLite ledger (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
}

// app is everything a command needs to touch the ledger.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *journal.SQLite
	engine *reconcile.Engine
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

// openApp builds the app. On failure everything started so far is torn down.
func openApp(cmd *cobra.Command) (a *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a = &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
			a = nil
		}
	}()

	if err := trace.Init(cfg.TraceConfig(version)); err != nil {
		return a, fmt.Errorf("tracing: %w", err)
	}

	busy, err := cfg.BusyTimeout()
	if err != nil {
		return a, err
	}
	txTimeout, err := cfg.TxTimeout()
	if err != nil {
		return a, err
	}

	a.db, err = journal.NewSQLite(cfg.Store.DBPath, journal.WithBusyTimeout(busy), journal.WithLogger(log))
	if err != nil {
		return a, fmt.Errorf("open db: %w", err)
	}
	if err := a.db.Seed(cmd.Context(), cfg.RiskSettings(), cfg.Watchlist); err != nil {
		return a, fmt.Errorf("seed db: %w", err)
	}

	a.engine = reconcile.New(a.db, reconcile.WithLogger(log), reconcile.WithTxTimeout(txTimeout))
	return a, nil
}

func (a *app) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
	}
	err = multierr.Append(err, trace.Shutdown(context.Background()))
	_ = a.log.Sync()
	return err
}
