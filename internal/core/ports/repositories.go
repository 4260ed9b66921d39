package ports

import (
	"context"

	"tandem/internal/core/domain"
)

// PlayRecord is one mutating startListening observed by the coordinator.
type PlayRecord struct {
	MediaItemID domain.MediaItemID
	Role        domain.Role
}

type PlayCountRepository interface {
	// IncrementPlays adds delta plays for role on item.
	IncrementPlays(ctx context.Context, item domain.MediaItemID, role domain.Role, delta int64) error
	// GetPlays returns per-role counts for item. Unknown items return an empty map.
	GetPlays(ctx context.Context, item domain.MediaItemID) (map[domain.Role]int64, error)
	Ping(ctx context.Context) error
}
