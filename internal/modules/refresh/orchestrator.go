// Package refresh drives one full data-refresh cycle: snapshot fetch,
// per-ticker fundamentals, reconciliation, tag recomputation, and the
// audit record, all under an advisory run lock.
package refresh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/simonxinpan/Tag-Explorer/internal/clients/finnhub"
	"github.com/simonxinpan/Tag-Explorer/internal/clients/polygon"
	"github.com/simonxinpan/Tag-Explorer/internal/database"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/health"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/stocks"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/tags"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/updates"
)

// ErrRunInProgress is returned when another refresh run holds the lock
var ErrRunInProgress = errors.New("a refresh run is already in progress")

const (
	fetchAttempts = 3
	fetchBackoff  = 1 * time.Second

	// maxRetainedErrors bounds the error list carried in results and
	// audit metadata; ErrorCount stays accurate beyond it.
	maxRetainedErrors = 10
)

// Options tunes batching and pacing per deployment
type Options struct {
	StandardBatch   int           // Batch size for standard runs
	BulkBatch       int           // Batch size for batch runs
	FundamentalsGap time.Duration // Stagger between fundamentals calls in a batch
	BatchDelay      time.Duration // Pause between batches
}

// Result summarizes one completed run for callers (HTTP handlers, jobs)
type Result struct {
	Kind              string
	TotalStocks       int
	SuccessCount      int
	ErrorCount        int
	TagsApplied       int
	Duration          time.Duration
	HealthScoreBefore *int
	HealthScoreAfter  *int
	Errors            []string
}

// SuccessRate returns the success percentage over the universe
func (r *Result) SuccessRate() float64 {
	if r.TotalStocks == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(r.TotalStocks) * 100
}

// Orchestrator sequences a refresh run. All writes of one run happen in
// a single transaction regardless of mode, so a failed run leaves the
// store exactly as it was.
type Orchestrator struct {
	db          *database.DB
	stockRepo   *stocks.Repository
	applier     *tags.Applier
	updatesRepo *updates.Repository
	scorer      *health.Scorer
	snapshots   *polygon.Client
	metrics     *finnhub.Client
	opts        Options
	lock        *runLock
	log         zerolog.Logger
}

// NewOrchestrator creates a refresh orchestrator
func NewOrchestrator(
	db *database.DB,
	stockRepo *stocks.Repository,
	applier *tags.Applier,
	updatesRepo *updates.Repository,
	scorer *health.Scorer,
	snapshots *polygon.Client,
	metrics *finnhub.Client,
	opts Options,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:          db,
		stockRepo:   stockRepo,
		applier:     applier,
		updatesRepo: updatesRepo,
		scorer:      scorer,
		snapshots:   snapshots,
		metrics:     metrics,
		opts:        opts,
		lock:        &runLock{db: db.Conn(), log: log.With().Str("component", "run_lock").Logger()},
		log:         log.With().Str("service", "refresh").Logger(),
	}
}

// Run executes one refresh cycle in the given mode. kind is one of the
// updates.Kind* constants; trigger source/reason land in the audit row.
// Returns ErrRunInProgress when another run holds the lock.
func (o *Orchestrator) Run(ctx context.Context, kind, triggerSource, triggerReason string) (*Result, error) {
	holder := uuid.New().String()
	acquired, err := o.lock.Acquire(holder)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer o.lock.Release(holder)

	start := time.Now()
	result := &Result{
		Kind:              kind,
		HealthScoreBefore: o.scoreBestEffort("before"),
	}

	o.log.Info().
		Str("kind", kind).
		Str("trigger", triggerSource).
		Msg("Refresh run starting")

	tickers, err := o.stockRepo.GetAllTickers()
	if err != nil {
		return nil, fmt.Errorf("failed to list universe: %w", err)
	}
	result.TotalStocks = len(tickers)

	// Fetching starts here; every path below records exactly one stat.
	var snapshot map[string]polygon.Bar
	if kind != updates.KindTagsOnly {
		snapshot, err = o.snapshots.FetchMarketSnapshot(ctx)
		if err != nil {
			runErr := fmt.Errorf("failed to fetch market snapshot: %w", err)
			result.ErrorCount = result.TotalStocks
			result.Duration = time.Since(start)
			o.recordStat(result, triggerSource, triggerReason, runErr)
			return nil, runErr
		}
	}

	txErr := database.WithTransaction(o.db.Conn(), func(tx *sql.Tx) error {
		if kind != updates.KindTagsOnly {
			if err := o.reconcileAll(ctx, tx, tickers, snapshot, result); err != nil {
				return err
			}
		}

		return o.recomputeTags(tx, result)
	})

	result.Duration = time.Since(start)

	if txErr != nil {
		runErr := fmt.Errorf("refresh run failed: %w", txErr)
		o.recordStat(result, triggerSource, triggerReason, runErr)
		return nil, runErr
	}

	result.HealthScoreAfter = o.scoreBestEffort("after")
	o.recordStat(result, triggerSource, triggerReason, nil)

	o.log.Info().
		Str("kind", kind).
		Int("total", result.TotalStocks).
		Int("success", result.SuccessCount).
		Int("errors", result.ErrorCount).
		Int("tags_applied", result.TagsApplied).
		Dur("duration", result.Duration).
		Msg("Refresh run complete")

	return result, nil
}

// batchSize returns the batch size for the run kind
func (o *Orchestrator) batchSize(kind string) int {
	if kind == updates.KindBatch {
		return o.opts.BulkBatch
	}
	return o.opts.StandardBatch
}

type fetchResult struct {
	ticker  string
	metrics *finnhub.Metrics
	err     error
}

// reconcileAll processes the universe in fixed-size batches. Within a
// batch, fundamentals fetches run concurrently (staggered to respect the
// provider rate limit); writes are sequential inside the run transaction.
func (o *Orchestrator) reconcileAll(ctx context.Context, tx *sql.Tx, tickers []string, snapshot map[string]polygon.Bar, result *Result) error {
	batchSize := o.batchSize(result.Kind)

	for offset := 0; offset < len(tickers); offset += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := offset + batchSize
		if end > len(tickers) {
			end = len(tickers)
		}
		batch := tickers[offset:end]

		fetched := make([]fetchResult, len(batch))
		var wg sync.WaitGroup
		for i, ticker := range batch {
			wg.Add(1)
			go func(i int, ticker string) {
				defer wg.Done()
				time.Sleep(time.Duration(i) * o.opts.FundamentalsGap)
				m, err := o.fetchFundamentals(ctx, ticker)
				fetched[i] = fetchResult{ticker: ticker, metrics: m, err: err}
			}(i, ticker)
		}
		wg.Wait()

		for _, fr := range fetched {
			o.reconcileOne(tx, fr, snapshot, result)
		}

		if end < len(tickers) && o.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.opts.BatchDelay):
			}
		}
	}

	return nil
}

// reconcileOne merges one ticker's snapshot bar and fundamentals into the
// store. Per-ticker failures are counted, never fatal to the run.
func (o *Orchestrator) reconcileOne(tx *sql.Tx, fr fetchResult, snapshot map[string]polygon.Bar, result *Result) {
	if fr.err != nil {
		o.countError(result, fmt.Sprintf("%s: %v", fr.ticker, fr.err))
		return
	}

	var bar *polygon.Bar
	if b, ok := snapshot[fr.ticker]; ok {
		bar = &b
	}

	update := stocks.Reconcile(bar, fr.metrics)
	applied, err := o.stockRepo.ApplyUpdate(tx, fr.ticker, update)
	if err != nil {
		o.countError(result, fmt.Sprintf("%s: %v", fr.ticker, err))
		return
	}
	if !applied {
		o.countError(result, fmt.Sprintf("%s: no data from either provider", fr.ticker))
		return
	}

	result.SuccessCount++
}

// fetchFundamentals retries the fetch step only, with linear backoff.
// Database writes are never retried.
func (o *Orchestrator) fetchFundamentals(ctx context.Context, ticker string) (*finnhub.Metrics, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		m, err := o.metrics.FetchFundamentals(ctx, ticker)
		if err == nil {
			return m, nil
		}
		lastErr = err

		if attempt < fetchAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * fetchBackoff):
			}
		}
	}
	return nil, fmt.Errorf("fundamentals fetch failed after %d attempts: %w", fetchAttempts, lastErr)
}

// recomputeTags rebuilds every tag family from current stored values, in
// the fixed family order, inside the run transaction.
func (o *Orchestrator) recomputeTags(tx *sql.Tx, result *Result) error {
	all, err := o.stockRepo.GetAllTx(tx)
	if err != nil {
		return fmt.Errorf("failed to load stocks for tagging: %w", err)
	}

	for _, family := range tags.Families {
		computed := tags.ComputeFamily(family.Name, all)
		applied, errs := o.applier.ApplyFamily(tx, family, computed)
		result.TagsApplied += applied
		for _, e := range errs {
			o.countError(result, fmt.Sprintf("tag family %s: %v", family.Name, e))
		}
	}

	return nil
}

func (o *Orchestrator) countError(result *Result, msg string) {
	result.ErrorCount++
	if len(result.Errors) < maxRetainedErrors {
		result.Errors = append(result.Errors, msg)
	}
}

// scoreBestEffort computes the current health score; failures are logged
// and the score left nil. Runs proceed regardless.
func (o *Orchestrator) scoreBestEffort(phase string) *int {
	report, err := o.scorer.Compute()
	if err != nil {
		o.log.Warn().Err(err).Str("phase", phase).Msg("Health score unavailable")
		return nil
	}
	score := report.Score
	return &score
}

// recordStat writes the single audit row for this run. A run that entered
// Fetching always produces exactly one row, success or failure.
func (o *Orchestrator) recordStat(result *Result, triggerSource, triggerReason string, runErr error) {
	metadata := map[string]interface{}{
		"tags_applied": result.TagsApplied,
	}
	if len(result.Errors) > 0 {
		metadata["errors"] = result.Errors
	}
	if runErr != nil {
		metadata["run_error"] = runErr.Error()
	}

	stat := updates.UpdateStat{
		Kind:              result.Kind,
		TotalStocks:       result.TotalStocks,
		SuccessCount:      result.SuccessCount,
		ErrorCount:        result.ErrorCount,
		Duration:          result.Duration,
		DurationMS:        result.Duration.Milliseconds(),
		TriggerSource:     triggerSource,
		TriggerReason:     triggerReason,
		HealthScoreBefore: result.HealthScoreBefore,
		HealthScoreAfter:  result.HealthScoreAfter,
		Metadata:          metadata,
	}

	if _, err := o.updatesRepo.Record(stat); err != nil {
		o.log.Error().Err(err).Str("kind", result.Kind).Msg("Failed to record update stat")
	}
}
