package effect

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter throttles outbound HTTP effect dispatch. Satisfied by both
// LocalLimiter (in-process) and RedisLimiter (shared across dispatcher
// instances).
type Limiter interface {
	Wait(ctx context.Context) error
}

// LocalLimiter wraps golang.org/x/time/rate for single-process throttling
// of the HTTP adapter, sitting in front of the optional Redis bucket.
type LocalLimiter struct {
	l *rate.Limiter
}

// NewLocalLimiter builds a token-bucket limiter at the given steady rate
// (requests/sec) and burst size.
func NewLocalLimiter(ratePerSec float64, burst int) *LocalLimiter {
	return &LocalLimiter{l: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

func (l *LocalLimiter) Wait(ctx context.Context) error {
	return l.l.Wait(ctx)
}

// redisTokenBucketScript implements an atomic token bucket in Redis so
// multiple dispatcher processes share one rate budget per binding.
//
// KEYS[1] = bucket key; ARGV[1] = refill rate/sec; ARGV[2] = capacity;
// ARGV[3] = cost; ARGV[4] = now (unix seconds, float).
//
// Grounded on pkg/kernel/limiter_redis.go's redisTokenBucketScript.
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    local added = elapsed * rate
    tokens = tokens + added
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisLimiter is a distributed token bucket shared across dispatcher
// processes, keyed per binding (e.g. per-tenant webhook URL).
type RedisLimiter struct {
	client     *redis.Client
	key        string
	ratePerSec float64
	capacity   float64
}

// NewRedisLimiter builds a RedisLimiter bound to one bucket key.
func NewRedisLimiter(client *redis.Client, key string, ratePerSec, capacity float64) *RedisLimiter {
	return &RedisLimiter{client: client, key: key, ratePerSec: ratePerSec, capacity: capacity}
}

// Wait blocks, polling the bucket every 50ms, until a token is available or
// ctx is cancelled.
func (r *RedisLimiter) Wait(ctx context.Context) error {
	for {
		allowed, err := r.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *RedisLimiter) tryAcquire(ctx context.Context) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := redisTokenBucketScript.Run(ctx, r.client, []string{r.key}, r.ratePerSec, r.capacity, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("effect: redis limiter error: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("effect: invalid response from rate limit script")
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}
