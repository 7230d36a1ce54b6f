package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/teals/internal/logger"
	"github.com/rustyeddy/teals/internal/trace"
	"github.com/rustyeddy/teals/market"
	"github.com/rustyeddy/teals/risk"
)

// Environment overrides, applied after the file is read.
const (
	EnvDBPath     = "TEALS_DB_PATH"
	EnvLogLevel   = "TEALS_LOG_LEVEL"
	EnvServerAddr = "TEALS_SERVER_ADDR"
	EnvTxTimeout  = "TEALS_TX_TIMEOUT"
	EnvTracing    = "TEALS_TRACING"
)

// Config represents the complete application configuration
type Config struct {
	Store     StoreConfig   `json:"store" yaml:"store"`
	Engine    EngineConfig  `json:"engine" yaml:"engine"`
	Server    ServerConfig  `json:"server" yaml:"server"`
	Log       LogConfig     `json:"log" yaml:"log"`
	Tracing   TracingConfig `json:"tracing" yaml:"tracing"`
	Risk      RiskConfig    `json:"risk" yaml:"risk"`
	Watchlist []string      `json:"watchlist" yaml:"watchlist"`
}

// StoreConfig locates the SQLite database
type StoreConfig struct {
	DBPath      string `json:"db_path" yaml:"db_path"`
	BusyTimeout string `json:"busy_timeout" yaml:"busy_timeout"` // e.g. "5s"
}

// EngineConfig bounds each reconciliation
type EngineConfig struct {
	TxTimeout string `json:"tx_timeout" yaml:"tx_timeout"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LogConfig controls zap output and file rotation
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file-name,omitempty" yaml:"file-name,omitempty"`
	MaxSize    int    `json:"max-size" yaml:"max-size"`
	MaxBackups int    `json:"max-backups" yaml:"max-backups"`
	MaxAge     int    `json:"max-age" yaml:"max-age"`
	Compress   bool   `json:"compress" yaml:"compress"`
	Console    bool   `json:"console" yaml:"console"`
}

type TracingConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty"` // stdout, stderr or a file
}

// RiskConfig seeds the risk settings of a new database
type RiskConfig struct {
	PositionSize float64 `json:"position_size" yaml:"position_size"`
	MaxDailyLoss float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	StopLossPct  float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			DBPath:      "./teals.db",
			BusyTimeout: "5s",
		},
		Engine: EngineConfig{
			TxTimeout: "10s",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Console:    true,
		},
		Tracing: TracingConfig{
			Output: "stdout",
		},
		Risk: RiskConfig{
			PositionSize: 1000,
			MaxDailyLoss: 1000,
			StopLossPct:  0.05,
		},
		Watchlist: []string{"BTC/USD", "ETH/USD", "SOL/USD"},
	}
}

// Load starts from Default, overlays path when it is set and exists, then
// applies the environment. A missing file at the default path is not an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		switch {
		case err == nil:
			cfg = fileCfg
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file (JSON or YAML). Unset fields
// keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv loads .env from the working directory when present and applies
// TEALS_* overrides.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if v, ok := os.LookupEnv(EnvDBPath); ok {
		c.Store.DBPath = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(EnvServerAddr); ok {
		c.Server.Addr = v
	}
	if v, ok := os.LookupEnv(EnvTxTimeout); ok {
		c.Engine.TxTimeout = v
	}
	if v, ok := os.LookupEnv(EnvTracing); ok {
		on, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTracing, err)
		}
		c.Tracing.Enabled = on
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path is required")
	}
	if _, err := c.BusyTimeout(); err != nil {
		return err
	}
	if _, err := c.TxTimeout(); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.MaxSize < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAge < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	if _, err := c.RiskPolicy(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	for _, s := range c.Watchlist {
		if err := market.ValidateSymbol(market.NormalizeSymbol(s)); err != nil {
			return fmt.Errorf("watchlist: %w", err)
		}
	}
	return nil
}

// BusyTimeout parses store.busy_timeout ("5s", "250ms").
func (c *Config) BusyTimeout() (time.Duration, error) {
	return parseDuration("store.busy_timeout", c.Store.BusyTimeout)
}

// TxTimeout parses engine.tx_timeout. Zero disables the deadline.
func (c *Config) TxTimeout() (time.Duration, error) {
	return parseDuration("engine.tx_timeout", c.Engine.TxTimeout)
}

// RiskPolicy is the risk section as a policy.
func (c *Config) RiskPolicy() (risk.Policy, error) {
	return risk.PolicyFromSettings(c.RiskSettings())
}

// RiskSettings renders the risk section as settings-table values.
func (c *Config) RiskSettings() map[string]string {
	return map[string]string{
		risk.KeyPositionSize: cast.ToString(c.Risk.PositionSize),
		risk.KeyMaxDailyLoss: cast.ToString(c.Risk.MaxDailyLoss),
		risk.KeyStopLossPct:  cast.ToString(c.Risk.StopLossPct),
	}
}

func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
		Compress:   c.Log.Compress,
		Console:    c.Log.Console,
	}
}

func (c *Config) TraceConfig(version string) trace.Config {
	return trace.Config{
		Enabled: c.Tracing.Enabled,
		Output:  c.Tracing.Output,
		Version: version,
	}
}

func parseDuration(name, s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := cast.ToDurationE(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}
