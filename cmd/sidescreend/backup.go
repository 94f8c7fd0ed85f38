package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	backupinfra "sidescreen/internal/infrastructure/backup"
	"sidescreen/internal/infrastructure/repositories"
	"sidescreen/pkg/backup"
	"sidescreen/pkg/config"
	"sidescreen/pkg/logger"
)

var (
	restoreOverwrite bool

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Back up and restore the trusted-device store",
	}

	backupCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Snapshot the trusted-device store now",
		Args:  cobra.NoArgs,
		RunE:  runBackupCreate,
	}

	backupListCmd = &cobra.Command{
		Use:   "list",
		Short: "List available snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE:  runBackupList,
	}

	backupRestoreCmd = &cobra.Command{
		Use:   "restore NAME",
		Short: "Load trusted devices from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupRestore,
	}
)

func init() {
	backupRestoreCmd.Flags().BoolVar(&restoreOverwrite, "overwrite", false, "replace devices that are already trusted")

	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd)
	rootCmd.AddCommand(backupCmd)
}

// backupEnv opens the configured trust store and backup directory.
type backupEnv struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	repos   *repositories.RepositoryFactory
	service *backup.BackupService
}

func openBackupEnv() (*backupEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logger.NewWithFormat(cfg.Logging.Level, "console").Sugar()

	storage, err := backup.NewFileStorage(cfg.Backup.Directory)
	if err != nil {
		return nil, err
	}
	repos, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		return nil, err
	}
	return &backupEnv{
		cfg:     cfg,
		log:     log,
		repos:   repos,
		service: backup.NewBackupService(storage, Version),
	}, nil
}

func (e *backupEnv) close() {
	e.repos.Close()
	e.log.Sync()
}

func runBackupCreate(cmd *cobra.Command, _ []string) error {
	env, err := openBackupEnv()
	if err != nil {
		return err
	}
	defer env.close()

	scheduler := backupinfra.NewScheduler(env.service, env.repos.CreateTrustRepository(), env.cfg.Host.ID,
		backupinfra.Config{}, env.log)
	name, err := scheduler.BackupNow(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), name)
	return nil
}

func runBackupList(cmd *cobra.Command, _ []string) error {
	env, err := openBackupEnv()
	if err != nil {
		return err
	}
	defer env.close()

	names, err := env.service.ListBackups(cmd.Context())
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	env, err := openBackupEnv()
	if err != nil {
		return err
	}
	defer env.close()

	restore := backupinfra.NewRestoreService(env.service, env.repos.CreateTrustRepository(), env.log)
	result, err := restore.RestoreFromBackup(cmd.Context(), args[0], backupinfra.RestoreOptions{
		OverwriteExisting: restoreOverwrite,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %d devices, skipped %d\n", result.Restored, result.Skipped)
	return nil
}
