package repositories

import (
	"context"
	"testing"

	"tandem/internal/infrastructure/repositories/memory"
	"tandem/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRepositoryFactory_MemoryByDefault(t *testing.T) {
	f := NewRepositoryFactory(config.DefaultConfig(), zaptest.NewLogger(t).Sugar())
	defer f.Close()

	assert.False(t, f.UsingRedis())
	assert.Nil(t, f.RedisClient())
	assert.IsType(t, &CachedPlayCountRepository{}, f.CreatePlayCountRepository())
	assert.NoError(t, f.HealthCheck(context.Background()))
}

func TestRepositoryFactory_CacheDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Plays.CacheTTL = 0

	f := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	defer f.Close()

	assert.IsType(t, &memory.MemoryPlayCountRepository{}, f.CreatePlayCountRepository())
}

func TestRepositoryFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"
	cfg.Plays.CacheTTL = 0
	require.NoError(t, cfg.Validate())

	f := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	defer f.Close()

	assert.False(t, f.UsingRedis())
	assert.IsType(t, &memory.MemoryPlayCountRepository{}, f.CreatePlayCountRepository())
}
