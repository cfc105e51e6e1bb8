package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// HealthCheck pings the Redis instance behind the job lock, the withdraw
// idempotency cache and the rate limiter.
type HealthCheck struct {
	client *goredis.Client
	maxRTT time.Duration
}

// NewHealthCheck creates a checker that also fails when a ping takes longer
// than maxRTT. Zero disables the latency bound.
func NewHealthCheck(client *goredis.Client, maxRTT time.Duration) *HealthCheck {
	return &HealthCheck{client: client, maxRTT: maxRTT}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	start := time.Now()
	if err := h.client.Ping(ctx).Err(); err != nil {
		return err
	}
	if rtt := time.Since(start); h.maxRTT > 0 && rtt > h.maxRTT {
		return fmt.Errorf("redis ping took %s (limit %s)", rtt.Round(time.Millisecond), h.maxRTT)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "redis"
}
