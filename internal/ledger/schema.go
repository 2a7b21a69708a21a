package ledger

// Schema creates the ledger tables. Rows reference each other by id only;
// there are no FOREIGN KEY clauses and readers check existence themselves.
// Money and quantity columns are TEXT holding exact decimal strings.
const Schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	decided_at  TIMESTAMP NOT NULL,
	action      TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT '',
	approved    INTEGER NOT NULL DEFAULT 0,
	executed    INTEGER NOT NULL DEFAULT 0,
	executed_at TIMESTAMP,
	trade_ref   TEXT NOT NULL DEFAULT '',
	order_ref   TEXT NOT NULL DEFAULT '',
	remarks     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_decisions_pending ON decisions(approved, executed, decided_at);

CREATE TABLE IF NOT EXISTS trades (
	id                TEXT PRIMARY KEY,
	decision_id       TEXT NOT NULL,
	replaces_trade_id TEXT NOT NULL DEFAULT '',
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	style             TEXT NOT NULL,
	pattern           TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	planned_entry     TEXT NOT NULL,
	planned_stop      TEXT NOT NULL,
	planned_target    TEXT,
	planned_qty       TEXT NOT NULL,
	actual_entry      TEXT NOT NULL DEFAULT '0',
	actual_qty        TEXT NOT NULL DEFAULT '0',
	exit_price        TEXT NOT NULL DEFAULT '0',
	pnl               TEXT NOT NULL DEFAULT '0',
	exit_reason       TEXT NOT NULL DEFAULT '',
	exit_order_id     TEXT NOT NULL DEFAULT '',
	exit_at           TIMESTAMP,
	days_open         INTEGER NOT NULL DEFAULT 0,
	last_review_at    TIMESTAMP,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_decision ON trades(decision_id);

CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	trade_id         TEXT NOT NULL,
	decision_id      TEXT NOT NULL DEFAULT '',
	broker_order_id  TEXT NOT NULL,
	client_order_id  TEXT NOT NULL DEFAULT '',
	role             TEXT NOT NULL,
	side             TEXT NOT NULL,
	kind             TEXT NOT NULL,
	time_in_force    TEXT NOT NULL,
	qty              TEXT NOT NULL,
	limit_price      TEXT NOT NULL DEFAULT '0',
	stop_price       TEXT NOT NULL DEFAULT '0',
	status           TEXT NOT NULL,
	filled_qty       TEXT NOT NULL DEFAULT '0',
	filled_avg_price TEXT NOT NULL DEFAULT '0',
	filled_at        TIMESTAMP,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_trade ON orders(trade_id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_broker ON orders(broker_order_id);

CREATE TABLE IF NOT EXISTS positions (
	id                   TEXT PRIMARY KEY,
	trade_id             TEXT NOT NULL UNIQUE,
	symbol               TEXT NOT NULL,
	side                 TEXT NOT NULL,
	qty                  TEXT NOT NULL,
	avg_entry            TEXT NOT NULL,
	current_price        TEXT NOT NULL,
	market_value         TEXT NOT NULL,
	cost_basis           TEXT NOT NULL,
	unrealized_pnl       TEXT NOT NULL,
	stop_loss_order_id   TEXT NOT NULL DEFAULT '',
	take_profit_order_id TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);

CREATE TABLE IF NOT EXISTS anomalies (
	id         TEXT PRIMARY KEY,
	trade_id   TEXT NOT NULL,
	order_id   TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	detail     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (trade_id, order_id, kind)
);
`
