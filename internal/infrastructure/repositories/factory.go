package repositories

import (
	"context"
	"time"

	"tandem/internal/core/ports"
	"tandem/internal/infrastructure/repositories/memory"
	redisrepo "tandem/internal/infrastructure/repositories/redis"
	"tandem/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	keyPrefix   string
	cacheTTL    time.Duration
	redisClient *redis.Client
	cached      []*CachedPlayCountRepository
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to memory otherwise.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis:  cfg.Redis.Enabled,
		keyPrefix: cfg.Redis.KeyPrefix,
		cacheTTL:  cfg.Plays.CacheTTL,
		logger:    logger,
	}

	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		client, err := redisrepo.Connect(ctx, redisrepo.OptionsFromConfig(cfg), logger)
		cancel()
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

// CreatePlayCountRepository creates a play-count repository (Redis or memory with fallback).
// Reads are cached when plays.cache_ttl is positive.
func (f *RepositoryFactory) CreatePlayCountRepository() ports.PlayCountRepository {
	var repo ports.PlayCountRepository
	if f.UsingRedis() {
		repo = redisrepo.NewRedisPlayCountRepository(f.redisClient, f.keyPrefix)
	} else {
		repo = memory.NewMemoryPlayCountRepository()
	}

	if f.cacheTTL <= 0 {
		return repo
	}
	cached := NewCachedPlayCountRepository(repo, f.cacheTTL)
	f.cached = append(f.cached, cached)
	return cached
}

// RedisClient returns the live client, or nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// Close stops repository caches and closes the Redis connection if used
func (f *RepositoryFactory) Close() error {
	for _, c := range f.cached {
		c.Close()
	}
	f.cached = nil
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsingRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
