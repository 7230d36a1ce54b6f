package journal

// Decimal and time columns are TEXT on purpose: NUMERIC affinity would turn
// decimal strings into REAL, and DATETIME makes the driver reinterpret
// naive timestamps in a zone.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	executed_at TEXT NOT NULL,
	strategy TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_client_id ON trades(client_id);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at, id);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, executed_at);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	quantity TEXT NOT NULL,
	avg_price TEXT,
	cost_basis TEXT NOT NULL,
	opened_at TEXT NOT NULL,
	closed_at TEXT,
	status TEXT NOT NULL CHECK (status IN ('open', 'closed')),
	version INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_symbol ON positions(symbol) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol, opened_at);

CREATE TABLE IF NOT EXISTS performance (
	date TEXT PRIMARY KEY,
	realized_pnl TEXT NOT NULL DEFAULT '0',
	unrealized_pnl TEXT NOT NULL DEFAULT '0',
	trades_count INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS watchlist (
	symbol TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);
`
