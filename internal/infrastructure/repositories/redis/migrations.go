package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "sidescreen:schema:version"
	currentSchemaVersion = 2
)

// Migration represents a keyspace migration
type Migration struct {
	Version int
	Up      func(ctx context.Context, client redis.Cmdable) error
}

// Migrate runs all pending migrations
func Migrate(ctx context.Context, client redis.Cmdable, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}

		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client redis.Cmdable) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client redis.Cmdable, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

// getMigrations returns all migrations in order
func getMigrations() []Migration {
	return []Migration{
		{
			// 1: trust records keyed per device
			Version: 1,
			Up: func(ctx context.Context, client redis.Cmdable) error {
				return nil
			},
		},
		{
			// 2: index set of trusted device ids, rebuilt from existing records
			Version: 2,
			Up: func(ctx context.Context, client redis.Cmdable) error {
				var cursor uint64
				for {
					keys, next, err := client.Scan(ctx, cursor, trustKeyPrefix+"*", 100).Result()
					if err != nil {
						return err
					}
					for _, key := range keys {
						if key == trustIndexKey {
							continue
						}
						if err := client.SAdd(ctx, trustIndexKey, key[len(trustKeyPrefix):]).Err(); err != nil {
							return err
						}
					}
					if next == 0 {
						return nil
					}
					cursor = next
				}
			},
		},
	}
}
