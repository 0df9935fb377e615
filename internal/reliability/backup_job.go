package reliability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// backupTimeout bounds one scheduled backup, upload included
const backupTimeout = 15 * time.Minute

// BackupJob runs the weekly scheduled backup
type BackupJob struct {
	service *BackupService
	log     zerolog.Logger
}

// NewBackupJob creates the scheduled backup job
func NewBackupJob(service *BackupService, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service: service,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates and uploads one backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	_, err := j.service.CreateAndUpload(ctx)
	return err
}
