package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	batches [][]int
	err     error
}

func (c *collector) flush(_ context.Context, items []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, append([]int(nil), items...))
	return c.err
}

func (c *collector) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestBatcher_FlushesOnSize(t *testing.T) {
	c := &collector{}
	b := New[int](Config{BatchSize: 3, FlushInterval: time.Hour}, c.flush)
	defer b.Stop(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Add(i))
	}

	assert.Eventually(t, func() bool { return c.total() == 3 }, time.Second, 5*time.Millisecond)
}

func TestBatcher_FlushesOnInterval(t *testing.T) {
	c := &collector{}
	b := New[int](Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, c.flush)
	defer b.Stop(context.Background())

	require.NoError(t, b.Add(7))
	assert.Eventually(t, func() bool { return c.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBatcher_StopFlushesRemainder(t *testing.T) {
	c := &collector{}
	b := New[int](Config{BatchSize: 2, FlushInterval: time.Hour, MaxPending: 100}, c.flush)

	b.mu.Lock()
	b.pending = append(b.pending, 1, 2, 3, 4, 5)
	b.mu.Unlock()

	b.Stop(context.Background())

	assert.Equal(t, 5, c.total())
	for _, batch := range c.batches {
		assert.LessOrEqual(t, len(batch), 2)
	}
	assert.ErrorIs(t, b.Add(6), ErrStopped)
}

func TestBatcher_RejectsWhenFull(t *testing.T) {
	c := &collector{}
	b := New[int](Config{BatchSize: 10, FlushInterval: time.Hour, MaxPending: 2}, c.flush)
	defer b.Stop(context.Background())

	require.NoError(t, b.Add(1))
	require.NoError(t, b.Add(2))
	assert.ErrorIs(t, b.Add(3), ErrFull)
	assert.Equal(t, 2, b.PendingCount())
}

func TestBatcher_OnError(t *testing.T) {
	c := &collector{err: errors.New("store down")}
	b := New[int](Config{BatchSize: 1, FlushInterval: time.Hour}, c.flush)

	var mu sync.Mutex
	var failed []int
	b.OnError(func(err error, items []int) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, items...)
	})

	require.NoError(t, b.Add(42))
	b.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{42}, failed)
}
