package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"content-autoposter/internal/logger"
)

const keyPrefix = "autoposter:lock:"

// ErrHeld is returned when another runner owns the lock.
var ErrHeld = errors.New("lock held by another runner")

// Deletes the key only while it still holds our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a single-runner guard for one job name. A Lock without a Redis client
// is always granted and releases as a no-op.
type Lock struct {
	rdb   *redis.Client
	key   string
	owner string
}

// Acquire takes the lock for job with SET NX and a TTL.
func Acquire(ctx context.Context, rdb *redis.Client, job string, ttl time.Duration) (*Lock, error) {
	l := &Lock{rdb: rdb, key: keyPrefix + job, owner: uuid.NewString()}
	if rdb == nil {
		return l, nil
	}

	ok, err := rdb.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	logger.Debug("Lock acquired", "key", l.key, "ttl", ttl.String())
	return l, nil
}

func (l *Lock) Key() string { return l.key }

// Release drops the lock if this runner still owns it. It reports whether a key was deleted.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	if l == nil || l.rdb == nil {
		return false, nil
	}
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner).Int()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		logger.Warn("Lock expired or taken over before release", "key", l.key)
	}
	return n == 1, nil
}
