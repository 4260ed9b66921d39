package distributed

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when TANDEM_TEST_REDIS_ADDRESS is set.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TANDEM_TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("TANDEM_TEST_REDIS_ADDRESS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLock_SingleHolder(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "tandem-test-lock-" + uuid.NewString()

	first := NewLock(client, key, time.Minute)
	second := NewLock(client, key, time.Minute)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, second.Unlock(ctx), ErrNotHeld)

	require.NoError(t, first.Unlock(ctx))
	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock(ctx))
}

func TestLock_AcquireTimesOut(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "tandem-test-lock-" + uuid.NewString()

	holder := NewLock(client, key, time.Minute)
	require.NoError(t, holder.Acquire(ctx, time.Second))
	defer holder.Unlock(ctx)

	waiter := NewLock(client, key, time.Minute)
	waiter.retry = 10 * time.Millisecond
	err := waiter.Acquire(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestLock_WithLockReleases(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "tandem-test-lock-" + uuid.NewString()
	boom := errors.New("boom")

	lock := NewLock(client, key, time.Minute)
	err := lock.WithLock(ctx, time.Second, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
