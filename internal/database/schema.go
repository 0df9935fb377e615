package database

import (
	"fmt"
)

// Schema is the single source of truth for the tag explorer database.
// Every statement is idempotent so Migrate can run on every startup.
const Schema = `
CREATE TABLE IF NOT EXISTS stocks (
    ticker           TEXT PRIMARY KEY,
    name             TEXT,
    sector           TEXT,
    last_price       REAL,
    change_amount    REAL,
    change_percent   REAL,
    volume           INTEGER,
    market_cap       REAL,
    roe              REAL,
    pe_ratio         REAL,
    week_52_high     REAL,
    week_52_low      REAL,
    dividend_yield   REAL,
    index_membership TEXT,
    last_updated     INTEGER
);

CREATE TABLE IF NOT EXISTS tags (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL UNIQUE,
    type       TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_tags (
    ticker     TEXT NOT NULL,
    tag_id     INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (ticker, tag_id),
    FOREIGN KEY (ticker) REFERENCES stocks(ticker) ON DELETE CASCADE,
    FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS update_stats (
    id                  TEXT PRIMARY KEY,
    update_kind         TEXT NOT NULL,
    total_stocks        INTEGER NOT NULL DEFAULT 0,
    success_count       INTEGER NOT NULL DEFAULT 0,
    error_count         INTEGER NOT NULL DEFAULT 0,
    duration_ms         INTEGER NOT NULL DEFAULT 0,
    trigger_source      TEXT NOT NULL,
    trigger_reason      TEXT,
    health_score_before INTEGER,
    health_score_after  INTEGER,
    metadata            TEXT,
    created_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_locks (
    name        TEXT PRIMARY KEY,
    holder      TEXT NOT NULL,
    acquired_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stocks_sector ON stocks(sector);
CREATE INDEX IF NOT EXISTS idx_stocks_last_updated ON stocks(last_updated);
CREATE INDEX IF NOT EXISTS idx_stock_tags_tag_id ON stock_tags(tag_id);
CREATE INDEX IF NOT EXISTS idx_stock_tags_ticker ON stock_tags(ticker);
CREATE INDEX IF NOT EXISTS idx_update_stats_created_at ON update_stats(created_at);
CREATE INDEX IF NOT EXISTS idx_tags_type ON tags(type);
`

// Migrate applies the embedded schema.
// All statements are IF NOT EXISTS so re-running is safe.
func (db *DB) Migrate() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema: %w", err)
	}

	if _, err := tx.Exec(Schema); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to execute schema for %s: %w", db.name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema for %s: %w", db.name, err)
	}

	return nil
}
