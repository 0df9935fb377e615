package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	db, err := New(Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate(), "running migrations twice must be safe")

	// Core tables exist
	for _, table := range []string{"stocks", "tags", "stock_tags", "update_stats", "run_locks"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestWithTransaction_CommitAndRollback(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO stocks (ticker, name) VALUES ('AAPL', 'Apple')")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, execErr := tx.Exec("INSERT INTO stocks (ticker, name) VALUES ('MSFT', 'Microsoft')")
		require.NoError(t, execErr)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM stocks").Scan(&count))
	assert.Equal(t, 1, count, "failed transaction must roll back")
}

func TestWithTransaction_PanicRollsBack(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, _ = tx.Exec("INSERT INTO stocks (ticker, name) VALUES ('NVDA', 'NVIDIA')")
		panic("mid-transaction panic")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM stocks").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestHealthCheckAndStats(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())

	require.NoError(t, db.HealthCheck(context.Background()))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
}
