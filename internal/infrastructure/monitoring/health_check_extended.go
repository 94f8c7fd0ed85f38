package monitoring

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"sidescreen/internal/core/ports"
)

// AddRedisCheck registers redis as optional when it only carries events:
// sessions keep streaming while it is down.
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, optional bool, interval, timeout time.Duration) {
	h.Register(HealthCheck{
		Name:     "redis",
		Check:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
		Interval: interval,
		Timeout:  timeout,
		Optional: optional,
	})
}

// AddTrustStoreCheck verifies the trusted-device store answers a listing.
func (h *HealthChecker) AddTrustStoreCheck(repo ports.TrustRepository, interval, timeout time.Duration) {
	h.AddCheck("trust_store", func(ctx context.Context) error {
		_, err := repo.List(ctx)
		return err
	}, interval, timeout)
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Healthy()
}
