package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Owner-checked release and refresh, so a lock that expired and was taken by
// another instance is never removed or extended by the old owner.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Lock is a named lease shared by every instance using the same Redis.
type Lock struct {
	client *Client
	name   string
	ttl    time.Duration
}

// NewLock creates a lock. The lease expires after ttl unless refreshed.
func NewLock(client *Client, name string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Lock{client: client, name: name, ttl: ttl}
}

// TTL returns the lease duration.
func (l *Lock) TTL() time.Duration {
	return l.ttl
}

// Acquire attempts to take the lock for owner.
func (l *Lock) Acquire(ctx context.Context, owner string) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, l.client.lockKey(l.name), owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// Refresh extends the lease if owner still holds it.
func (l *Lock) Refresh(ctx context.Context, owner string) error {
	n, err := refreshScript.Run(ctx, l.client.rdb, []string{l.client.lockKey(l.name)}, owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s is no longer held by %s", l.name, owner)
	}
	return nil
}

// Release drops the lock if owner holds it.
func (l *Lock) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, l.client.rdb, []string{l.client.lockKey(l.name)}, owner).Err(); err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	return nil
}

// Holder returns the current owner, or "" when the lock is free.
func (l *Lock) Holder(ctx context.Context) (string, error) {
	owner, err := l.client.rdb.Get(ctx, l.client.lockKey(l.name)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get failed: %w", err)
	}
	return owner, nil
}
