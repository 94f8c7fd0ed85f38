package backup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sidescreen/internal/core/ports"
	"sidescreen/pkg/backup"
)

// Scheduler snapshots the trusted-device store on an interval and prunes
// snapshots past the retention period.
type Scheduler struct {
	backupService *backup.BackupService
	trust         ports.TrustRepository
	hostID        string
	interval      time.Duration
	retentionDays int
	logger        *zap.SugaredLogger
	now           func() time.Time
	lock          Locker
}

// Locker elects one scheduler when several hosts share a trust store.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

type Config struct {
	Interval      time.Duration
	RetentionDays int
}

func NewScheduler(
	backupService *backup.BackupService,
	trust ports.TrustRepository,
	hostID string,
	cfg Config,
	logger *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		backupService: backupService,
		trust:         trust,
		hostID:        hostID,
		interval:      cfg.Interval,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

// WithLock makes scheduled runs skip while another instance holds lock.
func (s *Scheduler) WithLock(lock Locker) *Scheduler {
	s.lock = lock
	return s
}

// Start runs one backup immediately and then one per interval until ctx is
// done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runBackup(ctx)
	for {
		select {
		case <-ticker.C:
			s.runBackup(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runBackup(ctx context.Context) {
	if s.lock != nil {
		held, err := s.lock.TryLock(ctx)
		if err != nil {
			s.logger.Warnw("failed to take backup lock", "error", err)
			return
		}
		if !held {
			s.logger.Debug("backup lock held by another instance, skipping")
			return
		}
		defer func() {
			if err := s.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warnw("failed to release backup lock", "error", err)
			}
		}()
	}

	name, err := s.BackupNow(ctx)
	if err != nil {
		s.logger.Errorw("scheduled trust backup failed", "error", err)
		return
	}
	s.logger.Infow("trust backup created", "backup_name", name)

	if err := s.cleanupOldBackups(ctx); err != nil {
		s.logger.Warnw("failed to cleanup old backups", "error", err)
	}
}

// BackupNow snapshots the trust store and returns the backup name.
func (s *Scheduler) BackupNow(ctx context.Context) (string, error) {
	records, err := s.trust.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list trusted devices: %w", err)
	}
	return s.backupService.CreateBackup(ctx, &backup.BackupData{
		HostID:  s.hostID,
		Devices: records,
	})
}

func (s *Scheduler) cleanupOldBackups(ctx context.Context) error {
	if s.retentionDays <= 0 {
		return nil
	}
	names, err := s.backupService.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	for _, name := range names {
		created, err := backup.BackupTime(name)
		if err != nil {
			s.logger.Warnw("failed to parse backup timestamp", "backup_name", name, "error", err)
			continue
		}
		if !created.Before(cutoff) {
			continue
		}
		if err := s.backupService.DeleteBackup(ctx, name); err != nil {
			s.logger.Warnw("failed to delete old backup", "backup_name", name, "error", err)
			continue
		}
		s.logger.Infow("deleted old backup", "backup_name", name, "age", s.now().Sub(created))
	}
	return nil
}
