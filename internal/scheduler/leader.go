package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLeaseLost is returned by Renew when this instance no longer holds the lock
var ErrLeaseLost = errors.New("leader lease lost")

// Elector decides which instance runs the rescoring passes
type Elector interface {
	TryAcquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// RedisElector implements single-leader election using SETNX with a TTL.
// The holder renews the lease on every pass; a crashed leader's lock expires.
type RedisElector struct {
	rdb        *redis.Client
	instanceID string
	key        string
	ttl        time.Duration
}

// NewRedisElector creates an elector. instanceID must be unique per process.
func NewRedisElector(rdb *redis.Client, instanceID, key string, ttl time.Duration) *RedisElector {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisElector{
		rdb:        rdb,
		instanceID: instanceID,
		key:        key,
		ttl:        ttl,
	}
}

// TryAcquire attempts to become the leader
func (e *RedisElector) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := e.rdb.SetNX(ctx, e.key, e.instanceID, e.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire leader lock: %w", err)
	}
	return ok, nil
}

const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// Renew extends the lease if this instance still holds it
func (e *RedisElector) Renew(ctx context.Context) error {
	res, err := e.rdb.Eval(ctx, renewScript, []string{e.key}, e.instanceID, e.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to renew leader lock: %w", err)
	}
	if res == 0 {
		return ErrLeaseLost
	}
	return nil
}

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Release gives up leadership; it never deletes another instance's lock
func (e *RedisElector) Release(ctx context.Context) error {
	if err := e.rdb.Eval(ctx, releaseScript, []string{e.key}, e.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release leader lock: %w", err)
	}
	return nil
}
