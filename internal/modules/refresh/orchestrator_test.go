package refresh

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonxinpan/Tag-Explorer/internal/clients/finnhub"
	"github.com/simonxinpan/Tag-Explorer/internal/clients/polygon"
	"github.com/simonxinpan/Tag-Explorer/internal/database"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/health"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/stocks"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/tags"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/updates"
)

type testEnv struct {
	orchestrator *Orchestrator
	db           *database.DB
	stockRepo    *stocks.Repository
	tagRepo      *tags.Repository
	updatesRepo  *updates.Repository
}

func newTestEnv(t *testing.T, snapshotHandler, fundamentalsHandler http.HandlerFunc) *testEnv {
	t.Helper()

	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	snapshotSrv := httptest.NewServer(snapshotHandler)
	t.Cleanup(snapshotSrv.Close)
	fundamentalsSrv := httptest.NewServer(fundamentalsHandler)
	t.Cleanup(fundamentalsSrv.Close)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	stockRepo := stocks.NewRepository(db.Conn(), log)
	tagRepo := tags.NewRepository(db.Conn(), log)
	updatesRepo := updates.NewRepository(db.Conn(), log)

	orchestrator := NewOrchestrator(
		db,
		stockRepo,
		tags.NewApplier(tagRepo, log),
		updatesRepo,
		health.NewScorer(stockRepo, log),
		polygon.NewClient(snapshotSrv.URL, "key", log),
		finnhub.NewClient(fundamentalsSrv.URL, "token", log),
		Options{StandardBatch: 2, BulkBatch: 3},
		log,
	)

	return &testEnv{
		orchestrator: orchestrator,
		db:           db,
		stockRepo:    stockRepo,
		tagRepo:      tagRepo,
		updatesRepo:  updatesRepo,
	}
}

func seedUniverse(t *testing.T, env *testEnv, tickers ...string) {
	t.Helper()
	for _, ticker := range tickers {
		require.NoError(t, env.stockRepo.Create(stocks.Stock{Ticker: ticker, Name: ticker + " Inc"}))
	}
}

func snapshotWith(bars string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":"OK","resultsCount":1,"results":[%s]}`, bars)
	}
}

func fundamentalsWith(metric string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"metric":%s}`, metric)
	}
}

func TestRun_StandardHappyPath(t *testing.T) {
	env := newTestEnv(t,
		snapshotWith(`{"T":"AAPL","o":100,"h":104,"l":99,"c":103,"v":5000},
			{"T":"MSFT","o":400,"h":401,"l":390,"c":392,"v":3000}`),
		// 300,000 million = 300B market cap
		fundamentalsWith(`{"marketCapitalization":300000,"roeTTM":25,"peTTM":12}`),
	)
	seedUniverse(t, env, "AAPL", "MSFT", "NVDA")

	result, err := env.orchestrator.Run(context.Background(), updates.KindStandard, updates.TriggerManual, "test run")
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalStocks)
	// NVDA has no snapshot bar but fundamentals still arrive
	assert.Equal(t, 3, result.SuccessCount)
	assert.Equal(t, 0, result.ErrorCount)
	assert.Greater(t, result.TagsApplied, 0)
	require.NotNil(t, result.HealthScoreBefore)
	require.NotNil(t, result.HealthScoreAfter)
	assert.Greater(t, *result.HealthScoreAfter, *result.HealthScoreBefore)

	// Reconciled values landed
	aapl, err := env.stockRepo.GetByTicker("AAPL")
	require.NoError(t, err)
	require.NotNil(t, aapl.LastPrice)
	assert.Equal(t, 103.0, *aapl.LastPrice)
	require.NotNil(t, aapl.ChangePercent)
	assert.InDelta(t, 3.0, *aapl.ChangePercent, 1e-9)

	// Tag families computed from the fresh values
	aaplTags, err := env.tagRepo.GetTagsForTicker("AAPL")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, tag := range aaplTags {
		names[tag.Name] = true
	}
	assert.True(t, names["温和上涨"], "a 3 percent gain lands in the mild-gain bucket")
	assert.True(t, names["超大盘股"], "300B market cap lands in the mega-cap bucket")
	assert.True(t, names["价值股"], "PE 12 is a value stock")

	// Exactly one audit row for the run
	count, err := env.updatesRepo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	recent, err := env.updatesRepo.GetRecent(1)
	require.NoError(t, err)
	assert.Equal(t, updates.KindStandard, recent[0].Kind)
	assert.Equal(t, updates.TriggerManual, recent[0].TriggerSource)
}

func TestRun_NoSnapshotIsFatalButAudited(t *testing.T) {
	env := newTestEnv(t,
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"OK","resultsCount":0,"results":[]}`)
		},
		fundamentalsWith(`{}`),
	)
	seedUniverse(t, env, "AAPL")

	_, err := env.orchestrator.Run(context.Background(), updates.KindStandard, updates.TriggerCron, "test run")
	require.ErrorIs(t, err, polygon.ErrNoSnapshot)

	// The failed run still leaves exactly one audit row
	recent, err := env.updatesRepo.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 0, recent[0].SuccessCount)
	assert.Equal(t, 1, recent[0].ErrorCount)
	assert.Contains(t, recent[0].Metadata, "run_error")

	// And the store untouched
	aapl, err := env.stockRepo.GetByTicker("AAPL")
	require.NoError(t, err)
	assert.Nil(t, aapl.LastPrice)
}

func TestRun_TagsOnlySkipsFetching(t *testing.T) {
	snapshotCalls := 0
	env := newTestEnv(t,
		func(w http.ResponseWriter, r *http.Request) {
			snapshotCalls++
			fmt.Fprint(w, `{"status":"OK","resultsCount":0,"results":[]}`)
		},
		fundamentalsWith(`{}`),
	)
	seedUniverse(t, env, "AAPL")

	// Stored values from a previous run drive the tag computation
	_, err := env.db.Exec("UPDATE stocks SET last_price = 5, change_percent = -12 WHERE ticker = 'AAPL'")
	require.NoError(t, err)

	result, err := env.orchestrator.Run(context.Background(), updates.KindTagsOnly, updates.TriggerManual, "test run")
	require.NoError(t, err)

	assert.Equal(t, 0, snapshotCalls, "tags-only run must not touch the snapshot provider")
	assert.Greater(t, result.TagsApplied, 0)

	aaplTags, err := env.tagRepo.GetTagsForTicker("AAPL")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, tag := range aaplTags {
		names[tag.Name] = true
	}
	assert.True(t, names["超低价股"])
	assert.True(t, names["大幅下跌"])
}

func TestRun_TagsOnlyClearsVacatedMomentumTag(t *testing.T) {
	env := newTestEnv(t,
		snapshotWith(`{"T":"AAPL","o":100,"h":104,"l":99,"c":103,"v":5000}`),
		fundamentalsWith(`{}`),
	)
	seedUniverse(t, env, "AAPL")

	_, err := env.db.Exec("UPDATE stocks SET last_price = 110, change_percent = 10 WHERE ticker = 'AAPL'")
	require.NoError(t, err)
	_, err = env.orchestrator.Run(context.Background(), updates.KindTagsOnly, updates.TriggerManual, "day one")
	require.NoError(t, err)

	limitUp, err := env.tagRepo.GetByName("涨停板")
	require.NoError(t, err)
	require.NotNil(t, limitUp)
	members, err := env.tagRepo.GetAssociatedTickers(limitUp.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL"}, members)

	// Flat the next day: the limit-up association must not survive
	_, err = env.db.Exec("UPDATE stocks SET change_percent = 0 WHERE ticker = 'AAPL'")
	require.NoError(t, err)
	_, err = env.orchestrator.Run(context.Background(), updates.KindTagsOnly, updates.TriggerManual, "day two")
	require.NoError(t, err)

	members, err = env.tagRepo.GetAssociatedTickers(limitUp.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	aaplTags, err := env.tagRepo.GetTagsForTicker("AAPL")
	require.NoError(t, err)
	momentum := []string{}
	for _, tag := range aaplTags {
		if tag.Type == tags.FamilyMomentum {
			momentum = append(momentum, tag.Name)
		}
	}
	assert.Equal(t, []string{"平盘"}, momentum, "exactly one momentum bucket at a time")
}

func TestRun_TransientFundamentalsFailureIsRetriedThenCounted(t *testing.T) {
	fundamentalsCalls := 0
	env := newTestEnv(t,
		snapshotWith(`{"T":"AAPL","o":100,"h":104,"l":99,"c":103,"v":5000}`),
		func(w http.ResponseWriter, r *http.Request) {
			fundamentalsCalls++
			w.WriteHeader(http.StatusInternalServerError)
		},
	)
	seedUniverse(t, env, "AAPL")

	result, err := env.orchestrator.Run(context.Background(), updates.KindStandard, updates.TriggerManual, "test run")
	require.NoError(t, err)

	assert.Equal(t, fetchAttempts, fundamentalsCalls, "a 5xx response must be retried to the attempt limit")
	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, 1, result.ErrorCount)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "AAPL")
}

func TestRun_RateLimitedFundamentalsIsSoftAndNotRetried(t *testing.T) {
	fundamentalsCalls := 0
	env := newTestEnv(t,
		snapshotWith(`{"T":"AAPL","o":100,"h":104,"l":99,"c":103,"v":5000}`),
		func(w http.ResponseWriter, r *http.Request) {
			fundamentalsCalls++
			w.WriteHeader(http.StatusTooManyRequests)
		},
	)
	seedUniverse(t, env, "AAPL")

	result, err := env.orchestrator.Run(context.Background(), updates.KindStandard, updates.TriggerManual, "test run")
	require.NoError(t, err)

	assert.Equal(t, 1, fundamentalsCalls, "rate limiting must not trigger retries")
	assert.Equal(t, 1, result.SuccessCount, "the snapshot bar still lands without fundamentals")
	assert.Equal(t, 0, result.ErrorCount)
}

func TestRun_LockHeldReturnsErrRunInProgress(t *testing.T) {
	env := newTestEnv(t,
		snapshotWith(`{"T":"AAPL","o":100,"h":104,"l":99,"c":103,"v":5000}`),
		fundamentalsWith(`{}`),
	)
	seedUniverse(t, env, "AAPL")

	_, err := env.db.Exec(`
		INSERT INTO run_locks (name, holder, acquired_at) VALUES ('refresh', 'other-run', ?)
	`, time.Now().Unix())
	require.NoError(t, err)

	_, err = env.orchestrator.Run(context.Background(), updates.KindStandard, updates.TriggerManual, "test run")
	require.ErrorIs(t, err, ErrRunInProgress)

	// A rejected run records nothing
	count, err := env.updatesRepo.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRun_StaleLockIsTakenOver(t *testing.T) {
	env := newTestEnv(t,
		snapshotWith(`{"T":"AAPL","o":100,"h":104,"l":99,"c":103,"v":5000}`),
		fundamentalsWith(`{}`),
	)
	seedUniverse(t, env, "AAPL")

	stale := time.Now().Add(-lockStaleAfter - time.Minute).Unix()
	_, err := env.db.Exec(`
		INSERT INTO run_locks (name, holder, acquired_at) VALUES ('refresh', 'dead-run', ?)
	`, stale)
	require.NoError(t, err)

	result, err := env.orchestrator.Run(context.Background(), updates.KindStandard, updates.TriggerManual, "test run")
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)

	// Lock released after the run
	var locks int
	require.NoError(t, env.db.QueryRow("SELECT COUNT(*) FROM run_locks").Scan(&locks))
	assert.Equal(t, 0, locks)
}

func TestRun_LockReleasedAfterSuccessfulRun(t *testing.T) {
	env := newTestEnv(t,
		snapshotWith(`{"T":"AAPL","o":100,"h":104,"l":99,"c":103,"v":5000}`),
		fundamentalsWith(`{}`),
	)
	seedUniverse(t, env, "AAPL")

	_, err := env.orchestrator.Run(context.Background(), updates.KindStandard, updates.TriggerManual, "first")
	require.NoError(t, err)

	// Immediately runnable again
	_, err = env.orchestrator.Run(context.Background(), updates.KindBatch, updates.TriggerManual, "second")
	require.NoError(t, err)
}
