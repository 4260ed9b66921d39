package memory

import (
	"context"
	"sync"

	"tandem/internal/core/domain"
	"tandem/internal/core/ports"
)

type MemoryPlayCountRepository struct {
	counts map[domain.MediaItemID]map[domain.Role]int64
	mu     sync.RWMutex
}

func NewMemoryPlayCountRepository() ports.PlayCountRepository {
	return &MemoryPlayCountRepository{
		counts: make(map[domain.MediaItemID]map[domain.Role]int64),
	}
}

func (r *MemoryPlayCountRepository) IncrementPlays(ctx context.Context, item domain.MediaItemID, role domain.Role, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byRole, ok := r.counts[item]
	if !ok {
		byRole = make(map[domain.Role]int64)
		r.counts[item] = byRole
	}
	byRole[role] += delta
	return nil
}

func (r *MemoryPlayCountRepository) GetPlays(ctx context.Context, item domain.MediaItemID) (map[domain.Role]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.Role]int64, len(r.counts[item]))
	for role, n := range r.counts[item] {
		out[role] = n
	}
	return out, nil
}

func (r *MemoryPlayCountRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}
