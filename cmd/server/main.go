// Package main is the entry point for the tag explorer service: a
// stock data-refresh and dynamic-tagging pipeline with an HTTP API for
// triggering runs and browsing the resulting tags.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/simonxinpan/Tag-Explorer/internal/clients/finnhub"
	"github.com/simonxinpan/Tag-Explorer/internal/clients/polygon"
	"github.com/simonxinpan/Tag-Explorer/internal/config"
	"github.com/simonxinpan/Tag-Explorer/internal/database"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/health"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/refresh"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/stocks"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/tags"
	"github.com/simonxinpan/Tag-Explorer/internal/modules/updates"
	"github.com/simonxinpan/Tag-Explorer/internal/reliability"
	"github.com/simonxinpan/Tag-Explorer/internal/scheduler"
	"github.com/simonxinpan/Tag-Explorer/internal/server"
	"github.com/simonxinpan/Tag-Explorer/pkg/logger"
)

// Cron schedules, evaluated in UTC. The daily refresh lands after the
// US market close plus the snapshot provider's settlement delay.
const (
	scheduleStandardRefresh = "30 6 * * *"
	scheduleHealthCheck     = "@hourly"
	scheduleRetention       = "0 4 * * *"
	scheduleBackup          = "0 5 * * 0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting tag explorer")

	if cfg.RefreshToken == "" {
		log.Warn().Msg("REFRESH_TOKEN not set, refresh endpoints are locked")
	}

	db, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "tagexplorer.db"),
		Name: "tagexplorer",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Repositories and services
	stockRepo := stocks.NewRepository(db.Conn(), log)
	tagRepo := tags.NewRepository(db.Conn(), log)
	updatesRepo := updates.NewRepository(db.Conn(), log)
	applier := tags.NewApplier(tagRepo, log)
	scorer := health.NewScorer(stockRepo, log)

	snapshotClient := polygon.NewClient(cfg.PolygonBaseURL, cfg.PolygonAPIKey, log)
	fundamentalsClient := finnhub.NewClient(cfg.FinnhubBaseURL, cfg.FinnhubAPIKey, log)

	orchestrator := refresh.NewOrchestrator(
		db, stockRepo, applier, updatesRepo, scorer,
		snapshotClient, fundamentalsClient,
		refresh.Options{
			StandardBatch:   cfg.StandardBatch,
			BulkBatch:       cfg.BulkBatch,
			FundamentalsGap: cfg.FundamentalsGap,
			BatchDelay:      cfg.BatchDelay,
		},
		log,
	)

	// Backups are optional; nil service disables the endpoint and job
	var backupService *reliability.BackupService
	if cfg.Backup.Enabled() {
		s3Client, err := reliability.NewS3Client(cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage client")
		}
		backupService = reliability.NewBackupService(db, s3Client, cfg.DataDir, cfg.Backup.RetainCount, log)
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Backups enabled")
	} else {
		log.Info().Msg("Backups disabled (no bucket configured)")
	}

	// Background jobs
	sched := scheduler.New(log)
	registerJob(sched, scheduleStandardRefresh, scheduler.NewRefreshJob(orchestrator, log), log)
	registerJob(sched, scheduleHealthCheck, scheduler.NewHealthCheckJob(scorer, orchestrator, log), log)
	registerJob(sched, scheduleRetention, updates.NewRetentionJob(updatesRepo, log), log)
	if backupService != nil {
		registerJob(sched, scheduleBackup, reliability.NewBackupJob(backupService, log), log)
	}
	sched.Start()

	// HTTP server
	handlers := server.NewHandlers(orchestrator, scorer, stockRepo, tagRepo, updatesRepo, cfg.RefreshToken, log)
	systemHandlers := server.NewSystemHandlers(db, backupService, log)
	srv := server.New(cfg, handlers, systemHandlers, log)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}

func registerJob(sched *scheduler.Scheduler, schedule string, job scheduler.Job, log zerolog.Logger) {
	if err := sched.AddJob(schedule, job); err != nil {
		log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to register job")
	}
}
