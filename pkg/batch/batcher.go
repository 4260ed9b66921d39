package batch

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrFull    = errors.New("batcher queue is full")
	ErrStopped = errors.New("batcher is stopped")
)

// FlushFunc processes one batch. Items are not retried by the batcher.
type FlushFunc[T any] func(ctx context.Context, items []T) error

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxPending    int // 0 means 10x BatchSize
}

// Batcher collects items and hands them to a FlushFunc when BatchSize is
// reached or FlushInterval elapses, from a single background goroutine.
type Batcher[T any] struct {
	cfg   Config
	flush FlushFunc[T]

	mu      sync.Mutex
	pending []T
	stopped bool

	kick     chan struct{}
	stopChan chan struct{}
	done     chan struct{}

	onError func(err error, items []T)
}

func New[T any](cfg Config, flush FlushFunc[T]) *Batcher[T] {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = cfg.BatchSize * 10
	}

	b := &Batcher[T]{
		cfg:      cfg,
		flush:    flush,
		pending:  make([]T, 0, cfg.BatchSize),
		kick:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// OnError sets the callback for failed flushes. Must be set before the first Add.
func (b *Batcher[T]) OnError(fn func(err error, items []T)) {
	b.onError = fn
}

// Add queues item without blocking.
func (b *Batcher[T]) Add(item T) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	if len(b.pending) >= b.cfg.MaxPending {
		b.mu.Unlock()
		return ErrFull
	}
	b.pending = append(b.pending, item)
	full := len(b.pending) >= b.cfg.BatchSize
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Batcher[T]) take() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	items := b.pending
	b.pending = make([]T, 0, b.cfg.BatchSize)
	return items
}

func (b *Batcher[T]) flushPending(ctx context.Context) {
	items := b.take()
	for len(items) > 0 {
		n := len(items)
		if n > b.cfg.BatchSize {
			n = b.cfg.BatchSize
		}
		chunk := items[:n]
		items = items[n:]
		if err := b.flush(ctx, chunk); err != nil && b.onError != nil {
			b.onError(err, chunk)
		}
	}
}

func (b *Batcher[T]) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushPending(context.Background())
		case <-b.kick:
			b.flushPending(context.Background())
		case <-b.stopChan:
			return
		}
	}
}

// Stop halts the background loop and flushes what is left using ctx.
func (b *Batcher[T]) Stop(ctx context.Context) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopChan)
	<-b.done
	b.flushPending(ctx)
}

func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
