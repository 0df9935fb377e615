package refresh

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// runLockName is the single advisory lock row guarding refresh runs
const runLockName = "refresh"

// lockStaleAfter is how long a held lock survives before another run may
// take it over. Covers holders that died without releasing.
const lockStaleAfter = 10 * time.Minute

// runLock is an advisory lock backed by the run_locks table. SQLite has
// no session-scoped locks, so staleness is time-based: a holder that
// crashed is overtaken once its acquired_at falls behind the stale cutoff.
type runLock struct {
	db  *sql.DB
	log zerolog.Logger
}

// Acquire attempts to take the lock for the given holder. Returns false
// without error when another live holder has it.
func (l *runLock) Acquire(holder string) (bool, error) {
	now := time.Now().Unix()
	staleCutoff := time.Now().Add(-lockStaleAfter).Unix()

	// Single atomic statement: insert wins when no row exists, the
	// conflict update wins only against a stale holder.
	result, err := l.db.Exec(`
		INSERT INTO run_locks (name, holder, acquired_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at
		WHERE run_locks.acquired_at < ?
	`, runLockName, holder, now, staleCutoff)
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read run lock result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	l.log.Debug().Str("holder", holder).Msg("Run lock acquired")
	return true, nil
}

// Release drops the lock if this holder still owns it. Releasing a lock
// that was overtaken is a no-op.
func (l *runLock) Release(holder string) {
	result, err := l.db.Exec(`
		DELETE FROM run_locks WHERE name = ? AND holder = ?
	`, runLockName, holder)
	if err != nil {
		l.log.Error().Err(err).Str("holder", holder).Msg("Failed to release run lock")
		return
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		l.log.Warn().Str("holder", holder).Msg("Run lock was taken over before release")
	}
}
