package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tandem/internal/core/domain"
	"tandem/internal/core/ports"
	"tandem/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

type playKeys struct {
	prefix string
}

func (k playKeys) plays(item domain.MediaItemID) string {
	return k.prefix + ":plays:" + string(item)
}

func (k playKeys) playsPattern() string {
	return k.prefix + ":plays:*"
}

func (k playKeys) mediaIndex() string {
	return k.prefix + ":media"
}

func (k playKeys) itemFromPlaysKey(key string) (string, bool) {
	item := strings.TrimPrefix(key, k.prefix+":plays:")
	return item, item != key && item != ""
}

// RedisPlayCountRepository keeps one hash per media item, role -> plays.
type RedisPlayCountRepository struct {
	client *redis.Client
	keys   playKeys
}

func NewRedisPlayCountRepository(client *redis.Client, prefix string) ports.PlayCountRepository {
	return &RedisPlayCountRepository{
		client: client,
		keys:   playKeys{prefix: prefix},
	}
}

func (r *RedisPlayCountRepository) IncrementPlays(ctx context.Context, item domain.MediaItemID, role domain.Role, delta int64) error {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "increment_plays", "redis")
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.MediaItemKey.String(string(item)), tracing.RoleKey.String(string(role)))

	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, r.keys.plays(item), string(role), delta)
	pipe.SAdd(ctx, r.keys.mediaIndex(), string(item))
	if _, err := pipe.Exec(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to increment plays in Redis: %w", err)
	}
	return nil
}

func (r *RedisPlayCountRepository) GetPlays(ctx context.Context, item domain.MediaItemID) (map[domain.Role]int64, error) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "get_plays", "redis")
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.MediaItemKey.String(string(item)))

	raw, err := r.client.HGetAll(ctx, r.keys.plays(item)).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to get plays from Redis: %w", err)
	}

	out := make(map[domain.Role]int64, len(raw))
	for role, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt play count for %s/%s: %w", item, role, err)
		}
		out[domain.Role(role)] = n
	}
	return out, nil
}

func (r *RedisPlayCountRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
