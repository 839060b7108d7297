package repository

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker hands out short leases with SET NX.  A lease is never
// released early; it simply expires, which is enough for "at most one
// sweeper per tick" across replicas.
type RedisLocker struct {
	client *redis.Client
	owner  string
}

// NewRedisLocker returns a locker that identifies itself by host and pid.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	host, _ := os.Hostname()
	return &RedisLocker{client: client, owner: host + ":" + strconv.Itoa(os.Getpid())}
}

// TryLock reports whether this process acquired key for ttl.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, l.owner, ttl).Result()
}
