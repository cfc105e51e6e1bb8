package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobLock implements ports.JobLock with Redis SET NX so that one sweep job
// runs in at most one process at a time.
type JobLock struct {
	client *goredis.Client
	prefix string
	owner  string
}

// NewJobLock creates a Redis-backed job lock. Each instance carries its own
// owner token so a process can only release locks it acquired.
func NewJobLock(client *goredis.Client) *JobLock {
	return &JobLock{
		client: client,
		prefix: "sweep-lock:",
		owner:  uuid.NewString(),
	}
}

// Acquire returns true when the lock was taken. The TTL bounds how long a
// crashed holder can block other instances.
func (l *JobLock) Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+job, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis job lock acquire: %w", err)
	}
	return ok, nil
}

// Release drops the lock if this instance still holds it.
func (l *JobLock) Release(ctx context.Context, job string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + job}, l.owner).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("redis job lock release: %w", err)
	}
	return nil
}
