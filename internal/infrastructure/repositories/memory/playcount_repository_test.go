package memory

import (
	"context"
	"sync"
	"testing"

	"tandem/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPlayCountRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPlayCountRepository()

	plays, err := repo.GetPlays(ctx, "song-1")
	require.NoError(t, err)
	assert.Empty(t, plays)

	require.NoError(t, repo.IncrementPlays(ctx, "song-1", "M", 2))
	require.NoError(t, repo.IncrementPlays(ctx, "song-1", "V", 1))
	require.NoError(t, repo.IncrementPlays(ctx, "song-1", "M", 1))

	plays, err = repo.GetPlays(ctx, "song-1")
	require.NoError(t, err)
	assert.Equal(t, map[domain.Role]int64{"M": 3, "V": 1}, plays)

	plays["M"] = 100
	again, _ := repo.GetPlays(ctx, "song-1")
	assert.Equal(t, int64(3), again["M"], "returned map is a copy")

	assert.NoError(t, repo.Ping(ctx))
}

func TestMemoryPlayCountRepository_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPlayCountRepository()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.IncrementPlays(ctx, "song-1", "M", 1)
		}()
	}
	wg.Wait()

	plays, err := repo.GetPlays(ctx, "song-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), plays["M"])
}

func TestMemoryPlayCountRepository_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := NewMemoryPlayCountRepository()
	assert.ErrorIs(t, repo.IncrementPlays(ctx, "song-1", "M", 1), context.Canceled)
	assert.ErrorIs(t, repo.Ping(ctx), context.Canceled)
}
