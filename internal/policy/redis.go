package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateWindow is the trailing window the caller rate limit is evaluated over.
const RateWindow = 60 * time.Second

// slidingWindowScript counts this caller's recent calls atomically: prune
// entries older than the window, add the new one, compare against the limit.
// The member is the request timestamp in nanoseconds so duplicates in the
// same second still count.
var slidingWindowScript = redis.NewScript(`
-- KEYS[1] = caller key
-- ARGV[1] = now_ns
-- ARGV[2] = window_ms
-- ARGV[3] = limit
local window_start = tonumber(ARGV[1]) - tonumber(ARGV[2]) * 1e6
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', window_start)
local current = redis.call('ZCARD', KEYS[1])
if current >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// RedisRateLimiter enforces the per-caller trailing-window limit in Redis.
type RedisRateLimiter struct {
	rdb   *redis.Client
	limit int
	clock func() time.Time
}

func NewRedisRateLimiter(rdb *redis.Client, limit int) *RedisRateLimiter {
	if limit <= 0 {
		limit = 3
	}
	return &RedisRateLimiter{rdb: rdb, limit: limit, clock: time.Now}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, callerHash string) (bool, error) {
	if l.rdb == nil {
		return false, fmt.Errorf("%w: redis client is nil", ErrCollaboratorUnavailable)
	}
	key := "hotline:rate:" + callerHash
	res, err := slidingWindowScript.Run(ctx, l.rdb, []string{key},
		l.clock().UnixNano(), RateWindow.Milliseconds(), l.limit).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, err)
	}
	return res == 1, nil
}

// RedisBanChecker reads ban membership from a Redis set maintained by the
// admin surface.
type RedisBanChecker struct {
	rdb *redis.Client
}

func NewRedisBanChecker(rdb *redis.Client) *RedisBanChecker {
	return &RedisBanChecker{rdb: rdb}
}

const banSetKey = "hotline:bans"

func (b *RedisBanChecker) IsBanned(ctx context.Context, callerHash string) (bool, error) {
	if b.rdb == nil {
		return false, fmt.Errorf("%w: redis client is nil", ErrCollaboratorUnavailable)
	}
	banned, err := b.rdb.SIsMember(ctx, banSetKey, callerHash).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, err)
	}
	return banned, nil
}
