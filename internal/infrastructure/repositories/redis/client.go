package redis

import (
	"context"
	"fmt"
	"time"

	"tandem/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Options struct {
	Address   string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Address:   cfg.Redis.Address,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		PoolSize:  cfg.Redis.PoolSize,
		KeyPrefix: cfg.Redis.KeyPrefix,
	}
}

// Connect dials Redis, verifies it answers and brings the keyspace schema
// up to date. The client is closed again on any failure.
func Connect(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*redis.Client, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach Redis at %s: %w", opts.Address, err)
	}
	if err := Migrate(ctx, client, opts.KeyPrefix, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to migrate Redis keyspace %q: %w", opts.KeyPrefix, err)
	}

	logger.Infow("connected to Redis",
		"address", opts.Address,
		"db", opts.DB,
		"key_prefix", opts.KeyPrefix,
	)
	return client, nil
}
