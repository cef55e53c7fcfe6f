package database

import "fmt"

// migrations are applied in order on every start. All statements are
// idempotent, so re-running them against an existing database is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		trade_id          TEXT PRIMARY KEY,
		symbol            TEXT NOT NULL,
		token             TEXT NOT NULL DEFAULT '',
		exchange          TEXT NOT NULL DEFAULT 'NSE',
		sector            TEXT NOT NULL DEFAULT 'Unknown',
		action            TEXT NOT NULL DEFAULT 'BUY',
		status            TEXT NOT NULL,
		entry_price       REAL NOT NULL,
		stop_loss         REAL NOT NULL,
		current_stop      REAL NOT NULL,
		target_price      REAL NOT NULL,
		rr_ratio          REAL NOT NULL DEFAULT 0,
		quantity          INTEGER NOT NULL DEFAULT 0,
		allocation        REAL NOT NULL DEFAULT 0,
		composite_score   REAL NOT NULL DEFAULT 0,
		fundamental_score REAL NOT NULL DEFAULT 0,
		technical_score   REAL NOT NULL DEFAULT 0,
		macro_score       REAL NOT NULL DEFAULT 0,
		rr_score          REAL NOT NULL DEFAULT 0,
		thesis            TEXT,
		worst_case        TEXT,
		invalidation      TEXT,
		generated_at      TEXT NOT NULL,
		expires_at        TEXT,
		approved_at       TEXT,
		executed_at       TEXT,
		closed_at         TEXT,
		approved_by       TEXT,
		rejection_reason  TEXT,
		broker_order_id   TEXT,
		exit_price        REAL,
		realized_pnl      REAL,
		pnl_percent       REAL,
		exit_reason       TEXT,
		target_hit        INTEGER NOT NULL DEFAULT 0,
		partial_notified  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_generated_at ON trades(generated_at)`,

	`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		date            TEXT PRIMARY KEY,
		total_value     REAL NOT NULL,
		cash            REAL NOT NULL,
		invested        REAL NOT NULL,
		invested_pct    REAL NOT NULL DEFAULT 0,
		open_positions  INTEGER NOT NULL DEFAULT 0,
		unrealized_pnl  REAL NOT NULL DEFAULT 0,
		day_pnl         REAL NOT NULL DEFAULT 0,
		peak_value      REAL NOT NULL DEFAULT 0,
		drawdown_pct    REAL NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL DEFAULT (datetime('now'))
	)`,

	`CREATE TABLE IF NOT EXISTS kv_store (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
}

// Migrate brings the schema up to date
func (db *DB) Migrate() error {
	for i, stmt := range migrations {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
