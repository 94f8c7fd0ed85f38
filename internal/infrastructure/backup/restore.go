package backup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/pkg/backup"
)

type RestoreService struct {
	backupService *backup.BackupService
	trust         ports.TrustRepository
	logger        *zap.SugaredLogger
}

func NewRestoreService(backupService *backup.BackupService, trust ports.TrustRepository, logger *zap.SugaredLogger) *RestoreService {
	return &RestoreService{
		backupService: backupService,
		trust:         trust,
		logger:        logger,
	}
}

type RestoreOptions struct {
	// OverwriteExisting replaces records already present in the store.
	OverwriteExisting bool
}

type RestoreResult struct {
	Restored int
	Skipped  int
}

// RestoreFromBackup loads trust records from a backup into the store.
func (rs *RestoreService) RestoreFromBackup(ctx context.Context, name string, opts RestoreOptions) (RestoreResult, error) {
	var result RestoreResult

	data, err := rs.backupService.RestoreBackup(ctx, name)
	if err != nil {
		return result, err
	}
	rs.logger.Infow("restoring trusted devices",
		"backup_name", name,
		"backup_version", data.Version,
		"devices", len(data.Devices),
	)

	for _, record := range data.Devices {
		if record == nil || record.DeviceID == "" {
			result.Skipped++
			continue
		}
		if !opts.OverwriteExisting {
			_, err := rs.trust.Get(ctx, record.DeviceID)
			if err == nil {
				result.Skipped++
				continue
			}
			if domain.KindOf(err) != domain.KindNotFound {
				return result, fmt.Errorf("failed to check device %s: %w", record.DeviceID, err)
			}
		}
		if err := rs.trust.Save(ctx, record); err != nil {
			return result, fmt.Errorf("failed to restore device %s: %w", record.DeviceID, err)
		}
		result.Restored++
	}

	rs.logger.Infow("restore completed", "backup_name", name, "restored", result.Restored, "skipped", result.Skipped)
	return result, nil
}
