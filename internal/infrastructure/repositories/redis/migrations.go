package redis

import (
	"context"
	"fmt"
	"time"

	"tandem/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const currentSchemaVersion = 1

// Migration represents a keyspace migration
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client, prefix string) error
}

// Migrate runs all pending migrations. Concurrent instances sharing a
// prefix take turns through a Redis lock.
func Migrate(ctx context.Context, client *redis.Client, prefix string, logger *zap.SugaredLogger) error {
	lock := distributed.NewLock(client, schemaLockKey(prefix), 30*time.Second)
	return lock.WithLock(ctx, 10*time.Second, func(ctx context.Context) error {
		return migrate(ctx, client, prefix, logger)
	})
}

func migrate(ctx context.Context, client *redis.Client, prefix string, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client, prefix)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Infow("schema is up to date",
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

		if err := migration.Up(ctx, client, prefix); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, prefix, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func schemaVersionKey(prefix string) string {
	return prefix + ":schema:version"
}

func schemaLockKey(prefix string) string {
	return prefix + ":schema:lock"
}

func getSchemaVersion(ctx context.Context, client *redis.Client, prefix string) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey(prefix)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, prefix string, version int) error {
	return client.Set(ctx, schemaVersionKey(prefix), version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			// Index every existing play-count hash in the media set.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client, prefix string) error {
				keys := playKeys{prefix: prefix}
				iter := client.Scan(ctx, 0, keys.playsPattern(), 100).Iterator()
				for iter.Next(ctx) {
					item, ok := keys.itemFromPlaysKey(iter.Val())
					if !ok {
						continue
					}
					if err := client.SAdd(ctx, keys.mediaIndex(), item).Err(); err != nil {
						return err
					}
				}
				return iter.Err()
			},
		},
	}
}
