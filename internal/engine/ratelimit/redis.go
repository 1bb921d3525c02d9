package ratelimit

import (
	"context"
	"fmt"
	"time"

	"eventhub/internal/pkg/clock"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted-set member per accepted call, scored
// by its time in milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local retry = window
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if oldest[2] then
		retry = tonumber(oldest[2]) + window - now
	end
	return {0, count, retry}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// RedisLimiter shares the window across processes.
type RedisLimiter struct {
	client redis.Scripter
	clock  clock.Clock
	size   time.Duration
	prefix string
}

func NewRedisLimiter(client redis.Scripter, clk clock.Clock, size time.Duration, prefix string) *RedisLimiter {
	if size <= 0 {
		size = time.Minute
	}
	return &RedisLimiter{client: client, clock: clk, size: size, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) (Result, error) {
	now := l.clock.Now().UnixMilli()
	windowMs := l.size.Milliseconds()

	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.prefix + key},
		now, windowMs, limit, fmt.Sprintf("%d-%s", now, uuid.NewString())).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Result{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	if res[0] == 1 {
		return Result{Allowed: true, Limit: limit, Remaining: limit - int(res[1])}, nil
	}
	return Result{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
