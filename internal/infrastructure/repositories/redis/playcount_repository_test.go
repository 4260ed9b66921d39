package redis

import (
	"context"
	"os"
	"testing"

	"tandem/internal/core/domain"
	"tandem/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPlayKeys(t *testing.T) {
	keys := playKeys{prefix: "tandem"}

	assert.Equal(t, "tandem:plays:song-1", keys.plays("song-1"))
	assert.Equal(t, "tandem:plays:*", keys.playsPattern())
	assert.Equal(t, "tandem:media", keys.mediaIndex())

	item, ok := keys.itemFromPlaysKey("tandem:plays:song-1")
	assert.True(t, ok)
	assert.Equal(t, "song-1", item)

	_, ok = keys.itemFromPlaysKey("other:plays:song-1")
	assert.False(t, ok)
	_, ok = keys.itemFromPlaysKey("tandem:plays:")
	assert.False(t, ok)
}

// Runs against a real server when TANDEM_TEST_REDIS_ADDRESS is set.
func TestRedisPlayCountRepository(t *testing.T) {
	addr := os.Getenv("TANDEM_TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("TANDEM_TEST_REDIS_ADDRESS not set")
	}

	prefix := "tandem-test-" + utils.NewRequestID()
	ctx := context.Background()
	client, err := Connect(ctx, Options{Address: addr, PoolSize: 2, KeyPrefix: prefix}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = client.Close()
	})

	repo := NewRedisPlayCountRepository(client, prefix)
	require.NoError(t, repo.Ping(ctx))

	require.NoError(t, repo.IncrementPlays(ctx, "song-1", "M", 2))
	require.NoError(t, repo.IncrementPlays(ctx, "song-1", "V", 1))

	plays, err := repo.GetPlays(ctx, "song-1")
	require.NoError(t, err)
	assert.Equal(t, map[domain.Role]int64{"M": 2, "V": 1}, plays)

	plays, err = repo.GetPlays(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, plays)

	members, err := client.SMembers(ctx, prefix+":media").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"song-1"}, members)

	version, err := getSchemaVersion(ctx, client, prefix)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}
