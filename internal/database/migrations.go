package database

import "fmt"

// migrations are applied in order; each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol        TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL DEFAULT '',
		ma_types      TEXT NOT NULL DEFAULT 'MA5',
		current_price REAL,
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS stock_group_association (
		stock_id INTEGER NOT NULL REFERENCES stocks(id) ON DELETE CASCADE,
		group_id INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		PRIMARY KEY (stock_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_snapshots (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		stock_id      INTEGER NOT NULL REFERENCES stocks(id) ON DELETE CASCADE,
		snapshot_date DATE NOT NULL,
		price         REAL NOT NULL,
		ma_results    TEXT NOT NULL DEFAULT '{}',
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (stock_id, snapshot_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_date ON stock_snapshots(snapshot_date)`,
	`CREATE TABLE IF NOT EXISTS trading_calendar (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_date     DATE NOT NULL UNIQUE,
		is_trading_day INTEGER NOT NULL CHECK (is_trading_day IN (0, 1)),
		year           INTEGER NOT NULL,
		created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_calendar_year ON trading_calendar(year)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		stock_id      INTEGER NOT NULL REFERENCES stocks(id) ON DELETE CASCADE,
		signal_date   DATE NOT NULL,
		signal_type   TEXT NOT NULL,
		current_price REAL,
		entry_price   REAL,
		stop_loss     REAL,
		take_profit   REAL,
		strength      INTEGER NOT NULL DEFAULT 0,
		triggers      TEXT NOT NULL DEFAULT '[]',
		indicators    TEXT NOT NULL DEFAULT '{}',
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_stock_date ON signals(stock_id, signal_date)`,
	`CREATE TABLE IF NOT EXISTS trading_rules (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		name                 TEXT NOT NULL,
		rule_type            TEXT NOT NULL CHECK (rule_type IN ('buy', 'sell')),
		enabled              BOOLEAN NOT NULL DEFAULT 1,
		priority             INTEGER NOT NULL DEFAULT 0,
		strength             INTEGER NOT NULL DEFAULT 0,
		conditions           TEXT NOT NULL DEFAULT '[]',
		price_config         TEXT NOT NULL DEFAULT '{}',
		description_template TEXT NOT NULL DEFAULT '',
		created_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at           TIMESTAMP
	)`,
}

// Migrate runs database migrations
func (db *DB) Migrate() error {
	for i, stmt := range migrations {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
