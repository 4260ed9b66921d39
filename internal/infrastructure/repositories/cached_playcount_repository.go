package repositories

import (
	"context"
	"time"

	"tandem/internal/core/domain"
	"tandem/internal/core/ports"
	"tandem/pkg/cache"
)

// CachedPlayCountRepository serves GetPlays from a short-lived cache.
// Writes go through and evict the item they touch.
type CachedPlayCountRepository struct {
	base  ports.PlayCountRepository
	cache *cache.Cache[domain.MediaItemID, map[domain.Role]int64]
}

var _ ports.PlayCountRepository = (*CachedPlayCountRepository)(nil)

func NewCachedPlayCountRepository(base ports.PlayCountRepository, ttl time.Duration) *CachedPlayCountRepository {
	return &CachedPlayCountRepository{
		base:  base,
		cache: cache.New[domain.MediaItemID, map[domain.Role]int64](ttl),
	}
}

func (r *CachedPlayCountRepository) IncrementPlays(ctx context.Context, item domain.MediaItemID, role domain.Role, delta int64) error {
	if err := r.base.IncrementPlays(ctx, item, role, delta); err != nil {
		return err
	}
	r.cache.Delete(item)
	return nil
}

func (r *CachedPlayCountRepository) GetPlays(ctx context.Context, item domain.MediaItemID) (map[domain.Role]int64, error) {
	counts, err := r.cache.GetOrLoad(ctx, item, func(ctx context.Context) (map[domain.Role]int64, error) {
		return r.base.GetPlays(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	out := make(map[domain.Role]int64, len(counts))
	for role, n := range counts {
		out[role] = n
	}
	return out, nil
}

func (r *CachedPlayCountRepository) Ping(ctx context.Context) error {
	return r.base.Ping(ctx)
}

// Close stops the cache sweeper.
func (r *CachedPlayCountRepository) Close() {
	r.cache.Stop()
}
