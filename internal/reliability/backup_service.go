// Package reliability provides database backup creation, upload to
// S3-compatible storage, and remote retention pruning.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/simonxinpan/Tag-Explorer/internal/database"
)

const (
	backupPrefix      = "tag-explorer-backup-"
	backupTimeLayout  = "2006-01-02-150405"
	databaseEntryName = "tagexplorer.db"
	metadataEntryName = "backup-metadata.json"

	// minBackupsToKeep backups survive pruning regardless of retention
	minBackupsToKeep = 3
)

// BackupMetadata is the JSON manifest embedded in each archive
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupInfo describes one backup stored remotely
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService creates consistent database snapshots and manages their
// remote lifecycle. A snapshot is taken with VACUUM INTO so readers and
// the refresh run are never blocked.
type BackupService struct {
	db          *database.DB
	client      *S3Client
	dataDir     string
	retainCount int
	log         zerolog.Logger
}

// NewBackupService creates a backup service
func NewBackupService(db *database.DB, client *S3Client, dataDir string, retainCount int, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:          db,
		client:      client,
		dataDir:     dataDir,
		retainCount: retainCount,
		log:         log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUpload snapshots the database, verifies the copy, archives it
// with a metadata manifest, uploads the archive, and prunes old remote
// backups. Returns the uploaded archive name.
func (s *BackupService) CreateAndUpload(ctx context.Context) (string, error) {
	start := time.Now()
	s.log.Info().Msg("Starting backup")

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	snapshotPath := filepath.Join(stagingDir, databaseEntryName)
	if err := s.db.VacuumInto(snapshotPath); err != nil {
		return "", fmt.Errorf("failed to snapshot database: %w", err)
	}

	if err := database.VerifyFile(snapshotPath); err != nil {
		return "", fmt.Errorf("backup copy failed verification: %w", err)
	}

	info, err := os.Stat(snapshotPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat snapshot: %w", err)
	}

	checksum, err := fileChecksum(snapshotPath)
	if err != nil {
		return "", fmt.Errorf("failed to checksum snapshot: %w", err)
	}

	metadata := BackupMetadata{
		Timestamp: time.Now().UTC(),
		Database:  databaseEntryName,
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}

	metadataPath := filepath.Join(stagingDir, metadataEntryName)
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := backupPrefix + time.Now().UTC().Format(backupTimeLayout) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, snapshotPath, metadataPath); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.client.Upload(ctx, archiveName, archive); err != nil {
		return "", err
	}

	if err := s.PruneRemote(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup pruning failed")
	}

	archiveInfo, _ := os.Stat(archivePath)
	var archiveSize int64
	if archiveInfo != nil {
		archiveSize = archiveInfo.Size()
	}

	s.log.Info().
		Str("archive", archiveName).
		Int64("size_bytes", archiveSize).
		Dur("duration", time.Since(start)).
		Msg("Backup completed")

	return archiveName, nil
}

// ListBackups lists remote backups, newest first
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.client.List(ctx, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote backups: %w", err)
	}

	now := time.Now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		ts, ok := parseBackupTimestamp(obj.Key)
		if !ok {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping object with unrecognized backup name")
			continue
		}

		backups = append(backups, BackupInfo{
			Filename:  obj.Key,
			Timestamp: ts,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// PruneRemote deletes remote backups beyond the retention count, always
// keeping at least minBackupsToKeep
func (s *BackupService) PruneRemote(ctx context.Context) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}

	keep := s.retainCount
	if keep < minBackupsToKeep {
		keep = minBackupsToKeep
	}
	if len(backups) <= keep {
		return nil
	}

	deleted := 0
	for _, backup := range backups[keep:] {
		if err := s.client.Delete(ctx, backup.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", backup.Filename).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Remote backups pruned")

	return nil
}

// parseBackupTimestamp extracts the creation time from an archive name
func parseBackupTimestamp(filename string) (time.Time, bool) {
	if !strings.HasPrefix(filename, backupPrefix) || !strings.HasSuffix(filename, ".tar.gz") {
		return time.Time{}, false
	}

	raw := strings.TrimSuffix(strings.TrimPrefix(filename, backupPrefix), ".tar.gz")
	ts, err := time.Parse(backupTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}

	return ts, true
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive builds a tar.gz containing the snapshot and its manifest
func createArchive(archivePath string, filePaths ...string) error {
	archive, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archive.Close()

	gzipWriter := gzip.NewWriter(archive)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, path := range filePaths {
		if err := addFileToArchive(tarWriter, path); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filepath.Base(path), err)
		}
	}

	return nil
}

func addFileToArchive(tarWriter *tar.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tarWriter, file)
	return err
}
