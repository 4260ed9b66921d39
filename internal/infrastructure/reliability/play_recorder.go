package reliability

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tandem/internal/core/ports"
	"tandem/pkg/batch"
	"tandem/pkg/circuitbreaker"
	"tandem/pkg/retry"

	"go.uber.org/zap"
)

// RecorderMetrics is the subset of the collector the recorder reports to.
type RecorderMetrics interface {
	PlaysFlushed(n int)
	PlaysFailed(n int)
}

type PlayRecorderConfig struct {
	Batch   batch.Config
	Retry   retry.Config
	Breaker circuitbreaker.Config
}

// PlayRecorder persists play records off the coordinator's hot path.
// Records are batched, coalesced per (item, role) and written through a
// retrying, circuit-broken call to the repository.
type PlayRecorder struct {
	repo    ports.PlayCountRepository
	metrics RecorderMetrics
	logger  *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
	batcher        *batch.Batcher[ports.PlayRecord]
}

var _ ports.PlayRecorder = (*PlayRecorder)(nil)

func NewPlayRecorder(
	repo ports.PlayCountRepository,
	cfg PlayRecorderConfig,
	metrics RecorderMetrics,
	logger *zap.SugaredLogger,
) *PlayRecorder {
	if metrics == nil {
		metrics = nopRecorderMetrics{}
	}

	r := &PlayRecorder{
		repo:           repo,
		metrics:        metrics,
		logger:         logger,
		retryConfig:    cfg.Retry,
		circuitBreaker: circuitbreaker.New(cfg.Breaker),
	}

	r.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("play repository circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	r.batcher = batch.New(cfg.Batch, r.flush)
	r.batcher.OnError(func(err error, items []ports.PlayRecord) {
		logger.Warnw("failed to persist play records",
			"error", err,
			"records", len(items),
		)
	})

	return r
}

// Record queues one play without blocking. A full queue drops it.
func (r *PlayRecorder) Record(record ports.PlayRecord) {
	if err := r.batcher.Add(record); err != nil {
		r.metrics.PlaysFailed(1)
		r.logger.Warnw("play record dropped",
			"media_item_id", record.MediaItemID,
			"role", record.Role,
			"error", err,
		)
	}
}

// Close flushes pending records using ctx and stops the background loop.
func (r *PlayRecorder) Close(ctx context.Context) {
	r.batcher.Stop(ctx)
}

func (r *PlayRecorder) Pending() int {
	return r.batcher.PendingCount()
}

func (r *PlayRecorder) flush(ctx context.Context, records []ports.PlayRecord) error {
	deltas := make(map[ports.PlayRecord]int64)
	for _, rec := range records {
		deltas[rec]++
	}

	keys := make([]ports.PlayRecord, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].MediaItemID == keys[j].MediaItemID {
			return keys[i].Role < keys[j].Role
		}
		return keys[i].MediaItemID < keys[j].MediaItemID
	})

	var errs []error
	flushed := 0
	for _, key := range keys {
		delta := deltas[key]
		if err := r.increment(ctx, key, delta); err != nil {
			r.metrics.PlaysFailed(int(delta))
			errs = append(errs, fmt.Errorf("%s/%s: %w", key.MediaItemID, key.Role, err))
			continue
		}
		flushed += int(delta)
	}
	if flushed > 0 {
		r.metrics.PlaysFlushed(flushed)
	}
	return errors.Join(errs...)
}

func (r *PlayRecorder) increment(ctx context.Context, key ports.PlayRecord, delta int64) error {
	return retry.Do(ctx, r.retryConfig, func(ctx context.Context) error {
		err := r.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
			return r.repo.IncrementPlays(ctx, key.MediaItemID, key.Role, delta)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Permanent(err)
		}
		return err
	})
}

type nopRecorderMetrics struct{}

func (nopRecorderMetrics) PlaysFlushed(int) {}
func (nopRecorderMetrics) PlaysFailed(int)  {}
