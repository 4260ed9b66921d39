package monitoring

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusHealthy = "healthy"

// Pinger is anything with a cheap liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AddPingCheck registers a check that passes while p answers Ping.
func (h *HealthChecker) AddPingCheck(name string, p Pinger, interval, timeout time.Duration) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if err := p.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRepositoryCheck probes the play-count store.
func (h *HealthChecker) AddRepositoryCheck(repo Pinger, interval, timeout time.Duration) {
	h.AddPingCheck("repository", repo, interval, timeout)
}

// AddRedisCheck probes the shared Redis connection directly, separate from
// the repository wrapping it.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddPingCheck("redis", redisPinger{client}, interval, timeout)
}

// Readiness runs every check and reports whether all of them passed.
func (h *HealthChecker) Readiness(ctx context.Context) (HealthStatus, bool) {
	status := h.CheckAll(ctx)
	return status, status.Status == statusHealthy
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
