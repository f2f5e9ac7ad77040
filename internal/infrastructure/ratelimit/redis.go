package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills the bucket by whole intervals, takes one token
// if available and returns {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 then
	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + intervals)
		last_refill = last_refill + (intervals * interval_ms)
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// Redis is a token bucket shared between instances through Redis.
type Redis struct {
	client   redis.Scripter
	prefix   string
	capacity int
	interval time.Duration
	now      func() time.Time
}

// NewRedis allows perMinute requests per minute per key with bursts of
// burst. Keys are stored under prefix.
func NewRedis(client redis.Scripter, prefix string, perMinute, burst int) *Redis {
	if burst <= 0 {
		burst = 1
	}
	return &Redis{
		client:   client,
		prefix:   prefix,
		capacity: burst,
		interval: refillInterval(perMinute),
		now:      time.Now,
	}
}

// Allow consumes one token from key's bucket. Redis failures are returned
// to the caller, which decides whether to fail open.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	ttl := time.Duration(r.capacity) * r.interval
	if ttl < time.Minute {
		ttl = time.Minute
	}

	vals, err := tokenBucketScript.Run(ctx, r.client, []string{r.prefix + key},
		r.now().UnixMilli(),
		r.capacity,
		r.interval.Milliseconds(),
		int64(ttl/time.Second),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("evaluating rate limit script: %w", err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit script result: %v", vals)
	}

	return Decision{
		Allowed:    asInt64(vals[0]) == 1,
		Limit:      r.capacity,
		Remaining:  int(asInt64(vals[1])),
		RetryAfter: time.Duration(asInt64(vals[2])) * time.Millisecond,
	}, nil
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
