// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir         string // Base directory for the database (always absolute)
	Port            int
	LogLevel        string
	DevMode         bool
	RefreshToken    string // Shared secret gating the refresh endpoints
	PolygonAPIKey   string
	PolygonBaseURL  string // Overridable for tests
	FinnhubAPIKey   string
	FinnhubBaseURL  string // Overridable for tests
	FundamentalsGap time.Duration // Delay between successive fundamentals calls
	BatchDelay      time.Duration // Delay between reconcile batches
	StandardBatch   int           // Batch size for standard runs
	BulkBatch       int           // Batch size for batch runs
	Backup          *BackupConfig
}

// BackupConfig holds S3-compatible backup storage configuration.
// Backups are disabled when Bucket or Endpoint is empty.
type BackupConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	RetainCount     int // Remote backups kept before pruning
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TAG_EXPLORER_DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		Port:            getEnvAsInt("PORT", 8080),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		RefreshToken:    getEnv("REFRESH_TOKEN", ""),
		PolygonAPIKey:   getEnv("POLYGON_API_KEY", ""),
		PolygonBaseURL:  getEnv("POLYGON_BASE_URL", "https://api.polygon.io"),
		FinnhubAPIKey:   getEnv("FINNHUB_API_KEY", ""),
		FinnhubBaseURL:  getEnv("FINNHUB_BASE_URL", "https://finnhub.io"),
		FundamentalsGap: getEnvAsDuration("FUNDAMENTALS_GAP", 120*time.Millisecond),
		BatchDelay:      getEnvAsDuration("BATCH_DELAY", 1*time.Second),
		StandardBatch:   getEnvAsInt("STANDARD_BATCH_SIZE", 10),
		BulkBatch:       getEnvAsInt("BULK_BATCH_SIZE", 20),
		Backup:          loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
// An empty RefreshToken is not an error: the refresh endpoints stay
// locked and the read-only surface still works, so the caller logs a
// warning instead of failing startup.
func (c *Config) Validate() error {
	if c.StandardBatch <= 0 || c.BulkBatch <= 0 {
		return fmt.Errorf("batch sizes must be positive (standard=%d, bulk=%d)", c.StandardBatch, c.BulkBatch)
	}
	return nil
}

// loadBackupConfig loads S3 backup settings; nil fields mean disabled
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		Region:          getEnv("BACKUP_S3_REGION", "auto"),
		RetainCount:     getEnvAsInt("BACKUP_RETAIN_COUNT", 14),
	}
}

// Enabled reports whether backup uploads are configured
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Bucket != "" && b.Endpoint != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
